package contexts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabdeck/fabdeck/internal/api"
	"github.com/fabdeck/fabdeck/internal/layout"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/session"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeBackend struct {
	mu         sync.Mutex
	list       *api.ContextList
	listErr    error
	switchErr  error
	switchGate chan struct{}
	switched   []string
	features   *protocol.PrinterFeatures
	spools     map[string]*protocol.ActiveSpool
}

func (f *fakeBackend) ListContexts(ctx context.Context) (*api.ContextList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeBackend) SwitchContext(ctx context.Context, id string) error {
	if f.switchGate != nil {
		<-f.switchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, id)
	return f.switchErr
}

func (f *fakeBackend) Features(ctx context.Context) (*protocol.PrinterFeatures, error) {
	if f.features == nil {
		return nil, errors.New("no features")
	}
	return f.features, nil
}

func (f *fakeBackend) ActiveSpool(ctx context.Context, id string) (*protocol.ActiveSpool, error) {
	return f.spools[id], nil
}

type statusCounter struct{ n int }

func (s *statusCounter) RequestStatus() error {
	s.n++
	return nil
}

type fakeView struct {
	pending  *layout.Layout
	applied  map[string]*layout.Layout
	rendered int
}

func (v *fakeView) RenderContexts(contexts []protocol.PrinterContext, activeID string) { v.rendered++ }
func (v *fakeView) CaptureLayout() *layout.Layout                                     { return v.pending }
func (v *fakeView) ApplyLayout(key string, l *layout.Layout) {
	if v.applied == nil {
		v.applied = make(map[string]*layout.Layout)
	}
	v.applied[key] = l
}

func threePrinters() []protocol.PrinterContext {
	return []protocol.PrinterContext{
		{ID: "ctx-1", Name: "Left", SerialNumber: "SN-L"},
		{ID: "ctx-2", Name: "Middle", SerialNumber: "SN-M"},
		{ID: "ctx-3", Name: "Right"},
	}
}

func TestResolveSelection(t *testing.T) {
	withFlag := threePrinters()
	withFlag[2].IsActive = true

	tests := []struct {
		name     string
		previous string
		backend  string
		contexts []protocol.PrinterContext
		want     string
	}{
		{name: "previous still present", previous: "ctx-2", backend: "ctx-3", contexts: withFlag, want: "ctx-2"},
		{name: "previous gone uses backend", previous: "ctx-9", backend: "ctx-1", contexts: withFlag, want: "ctx-1"},
		{name: "unknown backend id uses flag", previous: "", backend: "ctx-9", contexts: withFlag, want: "ctx-3"},
		{name: "nothing flagged uses first", previous: "", backend: "", contexts: threePrinters(), want: "ctx-1"},
		{name: "empty set uses fallback", previous: "ctx-1", backend: "ctx-1", contexts: nil, want: FallbackContextID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveSelection(tt.previous, tt.backend, tt.contexts))
		})
	}
}

func TestFetchContextsFallsBackToFirst(t *testing.T) {
	state := session.New()
	backend := &fakeBackend{list: &api.ContextList{Contexts: threePrinters()}}
	view := &fakeView{}
	s := NewSwitcher(state, Options{Backend: backend, View: view})

	require.NoError(t, s.FetchContexts(context.Background()))
	assert.Equal(t, "ctx-1", state.ActiveContextID())
	assert.Len(t, s.Contexts(), 3)
	assert.Equal(t, 1, view.rendered)
}

func TestFetchContextsReplacesWholesale(t *testing.T) {
	state := session.New()
	backend := &fakeBackend{list: &api.ContextList{Contexts: threePrinters()}}
	s := NewSwitcher(state, Options{Backend: backend})
	require.NoError(t, s.FetchContexts(context.Background()))

	backend.list = &api.ContextList{Contexts: []protocol.PrinterContext{{ID: "ctx-4", Name: "New"}}}
	require.NoError(t, s.FetchContexts(context.Background()))

	_, ok := s.Get("ctx-1")
	assert.False(t, ok)
	assert.Equal(t, "ctx-4", state.ActiveContextID())
}

func TestFetchContextsFailureKeepsSelection(t *testing.T) {
	state := session.New()
	rec := &notify.Recorder{}
	backend := &fakeBackend{list: &api.ContextList{Contexts: threePrinters(), ActiveContextID: "ctx-2"}}
	s := NewSwitcher(state, Options{Backend: backend, Notifier: rec})
	require.NoError(t, s.FetchContexts(context.Background()))

	backend.listErr = errors.New("connection refused")
	assert.Error(t, s.FetchContexts(context.Background()))
	assert.Equal(t, "ctx-2", state.ActiveContextID())
	assert.Len(t, s.Contexts(), 3)
	assert.Equal(t, 1, rec.Count(notify.Warning))
}

func TestFetchContextsEmptyUsesFallback(t *testing.T) {
	state := session.New()
	s := NewSwitcher(state, Options{Backend: &fakeBackend{list: &api.ContextList{}}})

	require.NoError(t, s.FetchContexts(context.Background()))
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, FallbackContext, active)
}

func TestSwitchContext(t *testing.T) {
	state := session.New()
	backend := &fakeBackend{
		list:     &api.ContextList{Contexts: threePrinters()},
		features: &protocol.PrinterFeatures{HasMaterialStation: true},
		spools:   map[string]*protocol.ActiveSpool{"ctx-2": {ID: 7}},
	}
	status := &statusCounter{}
	store := layout.NewStore(t.TempDir())
	view := &fakeView{pending: &layout.Layout{Panels: []string{layout.PanelJob}}}
	rec := &notify.Recorder{}
	s := NewSwitcher(state, Options{Backend: backend, Status: status, Layouts: store, View: view, Notifier: rec})
	require.NoError(t, s.FetchContexts(context.Background()))

	require.NoError(t, s.SwitchContext(context.Background(), "ctx-2"))

	assert.Equal(t, "ctx-2", state.ActiveContextID())
	assert.Equal(t, []string{"ctx-2"}, backend.switched)
	assert.Equal(t, 1, status.n)
	require.NotNil(t, state.PrinterFeatures())
	assert.True(t, state.PrinterFeatures().HasMaterialStation)
	require.NotNil(t, state.ActiveSpool())
	assert.Equal(t, 7, state.ActiveSpool().ID)

	// Outgoing layout saved under the outgoing serial, incoming one applied
	saved, err := store.Load("SN-L")
	require.NoError(t, err)
	assert.Equal(t, []string{layout.PanelJob}, saved.Panels)
	require.Contains(t, view.applied, "SN-M")
	assert.Equal(t, layout.KnownPanels, view.applied["SN-M"].Panels)

	last, _ := rec.Last()
	assert.Equal(t, notify.Success, last.Level)
}

func TestSwitchToSameContextIsNoop(t *testing.T) {
	state := session.New()
	backend := &fakeBackend{list: &api.ContextList{Contexts: threePrinters()}}
	s := NewSwitcher(state, Options{Backend: backend})
	require.NoError(t, s.FetchContexts(context.Background()))

	require.NoError(t, s.SwitchContext(context.Background(), "ctx-1"))
	assert.Empty(t, backend.switched)
}

func TestSwitchUnknownContext(t *testing.T) {
	state := session.New()
	s := NewSwitcher(state, Options{Backend: &fakeBackend{list: &api.ContextList{Contexts: threePrinters()}}})
	require.NoError(t, s.FetchContexts(context.Background()))

	err := s.SwitchContext(context.Background(), "ctx-9")
	assert.ErrorIs(t, err, ErrUnknownContext)
	assert.Equal(t, "ctx-1", state.ActiveContextID())
}

func TestSwitchFailureKeepsOptimisticID(t *testing.T) {
	state := session.New()
	backend := &fakeBackend{list: &api.ContextList{Contexts: threePrinters()}, switchErr: errors.New("printer offline")}
	rec := &notify.Recorder{}
	s := NewSwitcher(state, Options{Backend: backend, Notifier: rec})
	require.NoError(t, s.FetchContexts(context.Background()))

	err := s.SwitchContext(context.Background(), "ctx-3")
	require.Error(t, err)
	assert.Equal(t, "ctx-3", state.ActiveContextID())
	assert.Equal(t, 1, rec.Count(notify.Error))
}

func TestSwitchFailureRollsBackWhenEnabled(t *testing.T) {
	state := session.New()
	backend := &fakeBackend{list: &api.ContextList{Contexts: threePrinters()}, switchErr: errors.New("printer offline")}
	s := NewSwitcher(state, Options{Backend: backend, RollbackOnFailure: true})
	require.NoError(t, s.FetchContexts(context.Background()))

	require.Error(t, s.SwitchContext(context.Background(), "ctx-3"))
	assert.Equal(t, "ctx-1", state.ActiveContextID())
}

func TestOverlappingSwitchIsRejected(t *testing.T) {
	state := session.New()
	gate := make(chan struct{})
	backend := &fakeBackend{
		list:       &api.ContextList{Contexts: threePrinters()},
		features:   &protocol.PrinterFeatures{},
		switchGate: gate,
	}
	s := NewSwitcher(state, Options{Backend: backend})
	require.NoError(t, s.FetchContexts(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.SwitchContext(context.Background(), "ctx-2") }()

	require.Eventually(t, s.Switching, waitFor, tick)
	assert.ErrorIs(t, s.SwitchContext(context.Background(), "ctx-3"), ErrSwitchInProgress)

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, s.Switching())
	assert.Equal(t, "ctx-2", state.ActiveContextID())
}
