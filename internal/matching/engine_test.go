package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabdeck/fabdeck/internal/api"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/session"
)

type fakeStation struct {
	mu     sync.Mutex
	status *protocol.MaterialStationStatus
	err    error
	gate   chan struct{}
}

func (f *fakeStation) MaterialStation(ctx context.Context) (*protocol.MaterialStationStatus, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeStation) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

type fakeStarter struct {
	mu   sync.Mutex
	reqs []api.StartJobRequest
	err  error
}

func (f *fakeStarter) StartJob(ctx context.Context, req api.StartJobRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

type recordingView struct {
	mu      sync.Mutex
	last    ViewModel
	renders int
	started []string
}

func (v *recordingView) RenderMatching(vm ViewModel) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = vm
	v.renders++
}

func (v *recordingView) JobStarted(filename string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = append(v.started, filename)
}

// twoToolJob is a job needing PLA on tool 0 and PETG on tool 1
func twoToolJob() protocol.PendingJobStart {
	return protocol.PendingJobStart{
		Filename: "benchy.3mf",
		Leveling: true,
		StartNow: true,
		Job: protocol.JobFile{
			FileName:       "benchy.3mf",
			UseMatlStation: true,
			GcodeToolCnt:   2,
			ToolDatas: []protocol.ToolData{
				{ToolID: 0, MaterialName: "PLA", MaterialColor: "#FFFFFF"},
				{ToolID: 1, MaterialName: "PETG", MaterialColor: "#000000"},
			},
		},
	}
}

// feeder has PLA in slot 0, PETG in slot 1 and nothing in slot 2
func feeder() *protocol.MaterialStationStatus {
	return &protocol.MaterialStationStatus{
		Connected: true,
		Slots: []protocol.MaterialSlotInfo{
			{SlotID: 0, MaterialType: "PLA", MaterialColor: "#FFFFFF"},
			{SlotID: 1, MaterialType: " petg ", MaterialColor: "#000000"},
			{SlotID: 2, IsEmpty: true},
			{SlotID: 3, MaterialType: "PLA", MaterialColor: "#FF0000"},
		},
	}
}

type harness struct {
	engine  *Engine
	state   *session.State
	starter *fakeStarter
	view    *recordingView
	notices *notify.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:   session.New(),
		starter: &fakeStarter{},
		view:    &recordingView{},
		notices: &notify.Recorder{},
	}
	h.engine = NewEngine(h.state, Options{
		Station:  &fakeStation{status: feeder()},
		Starter:  h.starter,
		View:     h.view,
		Notifier: h.notices,
	})
	return h
}

func (h *harness) open(t *testing.T, pending protocol.PendingJobStart) {
	t.Helper()
	_, loaded := h.engine.Open(context.Background(), pending)
	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("station status never loaded")
	}
}

func (h *harness) mapTool(t *testing.T, toolID, slotID int) error {
	t.Helper()
	require.NoError(t, h.engine.SelectTool(toolID))
	return h.engine.SelectSlot(slotID)
}

func TestHappyPathSubmitsOneBasedSlots(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	require.NoError(t, h.mapTool(t, 0, 0))
	assert.False(t, h.engine.ConfirmEnabled())
	require.NoError(t, h.mapTool(t, 1, 1))
	assert.True(t, h.engine.ConfirmEnabled())

	require.NoError(t, h.engine.Submit(context.Background()))

	require.Len(t, h.starter.reqs, 1)
	req := h.starter.reqs[0]
	assert.Equal(t, "benchy.3mf", req.Filename)
	assert.True(t, req.Leveling)
	assert.True(t, req.StartNow)
	require.Len(t, req.MaterialMappings, 2)
	assert.Equal(t, protocol.MaterialMapping{
		ToolID: 0, SlotID: 1, MaterialName: "PLA", ToolMaterialColor: "#FFFFFF", SlotMaterialColor: "#FFFFFF",
	}, req.MaterialMappings[0])
	assert.Equal(t, 1, req.MaterialMappings[1].ToolID)
	assert.Equal(t, 2, req.MaterialMappings[1].SlotID)

	assert.Equal(t, PhaseClosed, h.engine.Phase())
	assert.Nil(t, h.state.PendingJobStart())
	assert.Equal(t, []string{"benchy.3mf"}, h.view.started)
	assert.False(t, h.view.last.Open)
}

func TestEmptySlotRejected(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	err := h.mapTool(t, 0, 2)
	assert.ErrorIs(t, err, ErrSlotEmpty)
	assert.Empty(t, h.engine.Mappings())
	assert.False(t, h.engine.ConfirmEnabled())
	assert.Equal(t, PhaseToolSelected, h.engine.Phase(), "tool stays selected after a rejection")
	assert.Equal(t, "Slot 3 is empty", h.engine.ViewModel().Message)
}

func TestMaterialMismatchRejected(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	for _, slot := range []int{1, 3} {
		require.NoError(t, h.engine.SelectTool(1))
		if slot == 3 {
			// tool 1 needs PETG; slot 3 holds PLA
			err := h.engine.SelectSlot(slot)
			assert.ErrorIs(t, err, ErrMaterialMismatch)
			assert.Contains(t, h.engine.ViewModel().Message, "PETG")
			assert.Contains(t, h.engine.ViewModel().Message, "PLA")
			continue
		}
		require.NoError(t, h.engine.SelectSlot(slot))
		require.NoError(t, h.engine.RemoveMapping(1))
	}
	assert.Empty(t, h.engine.Mappings())
}

func TestMaterialComparisonIgnoresCaseAndSpace(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	// slot 1 holds " petg "
	require.NoError(t, h.mapTool(t, 1, 1))
	assert.Empty(t, h.engine.ViewModel().Warning)
}

func TestColorMismatchWarnsButMaps(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	require.NoError(t, h.mapTool(t, 0, 3))

	mappings := h.engine.Mappings()
	require.Len(t, mappings, 1)
	assert.Equal(t, 4, mappings[0].SlotID)
	assert.Equal(t, "#FF0000", mappings[0].SlotMaterialColor)

	vm := h.engine.ViewModel()
	assert.NotEmpty(t, vm.Warning)
	assert.Empty(t, vm.Message)
	assert.Equal(t, PhaseIdle, h.engine.Phase())
}

func TestSlotUsedByAnotherTool(t *testing.T) {
	h := newHarness(t)
	pending := twoToolJob()
	pending.Job.ToolDatas[1] = protocol.ToolData{ToolID: 1, MaterialName: "pla", MaterialColor: "#FFFFFF"}
	h.open(t, pending)

	require.NoError(t, h.mapTool(t, 0, 0))
	err := h.mapTool(t, 1, 0)
	assert.ErrorIs(t, err, ErrSlotInUse)
	assert.Len(t, h.engine.Mappings(), 1)

	// Remapping the same tool to its own slot is allowed
	require.NoError(t, h.mapTool(t, 0, 0))
	// and moving it replaces its previous mapping
	require.NoError(t, h.mapTool(t, 0, 3))
	mappings := h.engine.Mappings()
	require.Len(t, mappings, 1)
	assert.Equal(t, 4, mappings[0].SlotID)

	require.NoError(t, h.mapTool(t, 1, 0))
	assert.True(t, h.engine.ConfirmEnabled())
}

func TestSlotWithoutToolSelected(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	assert.ErrorIs(t, h.engine.SelectSlot(0), ErrNoToolSelected)
	assert.NotEmpty(t, h.engine.ViewModel().Message)
}

func TestToolSelectionToggles(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	assert.Equal(t, PhaseIdle, h.engine.Phase())
	require.NoError(t, h.engine.SelectTool(0))
	assert.Equal(t, PhaseToolSelected, h.engine.Phase())
	require.NoError(t, h.engine.SelectTool(0))
	assert.Equal(t, PhaseIdle, h.engine.Phase())

	require.NoError(t, h.engine.SelectTool(0))
	require.NoError(t, h.engine.SelectTool(1))
	vm := h.engine.ViewModel()
	assert.False(t, vm.Tools[0].Selected)
	assert.True(t, vm.Tools[1].Selected)

	assert.ErrorIs(t, h.engine.SelectTool(5), ErrUnknownTool)
}

func TestRemoveMappingClearsMessages(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())

	require.NoError(t, h.mapTool(t, 0, 3))
	require.NotEmpty(t, h.engine.ViewModel().Warning)

	require.NoError(t, h.engine.RemoveMapping(0))
	vm := h.engine.ViewModel()
	assert.Empty(t, vm.Warning)
	assert.Empty(t, vm.Message)
	assert.Equal(t, 0, vm.MappedCount)
	assert.Equal(t, PhaseIdle, h.engine.Phase(), "removal does not reselect the tool")

	assert.ErrorIs(t, h.engine.RemoveMapping(0), ErrUnknownTool)
}

func TestSubmitIncomplete(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())
	require.NoError(t, h.mapTool(t, 0, 0))

	assert.ErrorIs(t, h.engine.Submit(context.Background()), ErrIncomplete)
	assert.Empty(t, h.starter.reqs)
	assert.Equal(t, PhaseIdle, h.engine.Phase())
}

func TestSubmitFailureKeepsSessionOpen(t *testing.T) {
	h := newHarness(t)
	h.starter.err = errors.New("printer busy")
	h.open(t, twoToolJob())
	require.NoError(t, h.mapTool(t, 0, 0))
	require.NoError(t, h.mapTool(t, 1, 1))

	err := h.engine.Submit(context.Background())
	require.Error(t, err)

	assert.True(t, h.engine.ConfirmEnabled(), "confirm is re-enabled for a retry")
	assert.Len(t, h.engine.Mappings(), 2)
	assert.NotNil(t, h.state.PendingJobStart())
	assert.Equal(t, 1, h.notices.Count(notify.Error))

	h.starter.err = nil
	require.NoError(t, h.engine.Submit(context.Background()))
	assert.Len(t, h.starter.reqs, 2)
	assert.Equal(t, PhaseClosed, h.engine.Phase())
}

func TestCancelFromAnyState(t *testing.T) {
	steps := map[string]func(t *testing.T, h *harness){
		"idle":          func(t *testing.T, h *harness) {},
		"tool selected": func(t *testing.T, h *harness) { require.NoError(t, h.engine.SelectTool(1)) },
		"partially mapped": func(t *testing.T, h *harness) {
			require.NoError(t, h.mapTool(t, 0, 0))
		},
		"complete": func(t *testing.T, h *harness) {
			require.NoError(t, h.mapTool(t, 0, 0))
			require.NoError(t, h.mapTool(t, 1, 1))
		},
		"after failed submit": func(t *testing.T, h *harness) {
			h.starter.err = errors.New("boom")
			require.NoError(t, h.mapTool(t, 0, 0))
			require.NoError(t, h.mapTool(t, 1, 1))
			require.Error(t, h.engine.Submit(context.Background()))
			h.starter.err = nil
		},
	}

	for name, step := range steps {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.open(t, twoToolJob())
			step(t, h)

			h.engine.Cancel()
			assert.Nil(t, h.state.PendingJobStart())
			assert.Equal(t, PhaseClosed, h.engine.Phase())
			assert.Nil(t, h.engine.Mappings())
			assert.Equal(t, ViewModel{}, h.engine.ViewModel())

			// Cancel is idempotent
			h.engine.Cancel()
			assert.Equal(t, PhaseClosed, h.engine.Phase())

			// Reopening starts clean
			h.open(t, twoToolJob())
			assert.Equal(t, PhaseIdle, h.engine.Phase())
			assert.Empty(t, h.engine.Mappings())
			assert.Empty(t, h.engine.ViewModel().Message)
		})
	}
}

func TestOperationsOnClosedEngine(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.engine.SelectTool(0), ErrSessionClosed)
	assert.ErrorIs(t, h.engine.SelectSlot(0), ErrSessionClosed)
	assert.ErrorIs(t, h.engine.RemoveMapping(0), ErrSessionClosed)
	assert.ErrorIs(t, h.engine.Submit(context.Background()), ErrSessionClosed)
	assert.False(t, h.engine.ConfirmEnabled())
}

func TestLateStationResponseIsDropped(t *testing.T) {
	state := session.New()
	gate := make(chan struct{})
	station := &fakeStation{status: feeder(), gate: gate}
	view := &recordingView{}
	e := NewEngine(state, Options{Station: station, Starter: &fakeStarter{}, View: view})

	_, loaded := e.Open(context.Background(), twoToolJob())
	vm := e.ViewModel()
	assert.True(t, vm.Open)
	assert.Len(t, vm.Tools, 2, "tools render before the station responds")
	assert.True(t, vm.StationLoading)

	e.Cancel()
	close(gate)
	<-loaded

	assert.Equal(t, PhaseClosed, e.Phase())
	assert.False(t, e.ViewModel().Open)
	assert.Nil(t, state.PendingJobStart())
}

func TestStaleResponseDoesNotLeakIntoNewSession(t *testing.T) {
	state := session.New()
	gate := make(chan struct{})
	station := &fakeStation{status: feeder(), gate: gate}
	e := NewEngine(state, Options{Station: station, Starter: &fakeStarter{}})

	_, firstLoaded := e.Open(context.Background(), twoToolJob())
	e.Cancel()

	station.setGate(nil)
	secondID, secondLoaded := e.Open(context.Background(), twoToolJob())
	<-secondLoaded

	close(gate)
	<-firstLoaded
	assert.Equal(t, secondID, e.SessionID())
	assert.False(t, e.ViewModel().StationLoading)
}

func TestStationUnavailable(t *testing.T) {
	state := session.New()
	e := NewEngine(state, Options{
		Station: &fakeStation{status: &protocol.MaterialStationStatus{Connected: false}},
		Starter: &fakeStarter{},
	})

	_, loaded := e.Open(context.Background(), twoToolJob())
	<-loaded

	vm := e.ViewModel()
	assert.Equal(t, ErrNoMaterialStation.Error(), vm.StationError)

	require.NoError(t, e.SelectTool(0))
	assert.ErrorIs(t, e.SelectSlot(0), ErrNoMaterialStation)
}

func TestDisconnectedStationRejectsMapping(t *testing.T) {
	offline := feeder()
	offline.Connected = false
	starter := &fakeStarter{}
	e := NewEngine(session.New(), Options{
		Station: &fakeStation{status: offline},
		Starter: starter,
	})

	_, loaded := e.Open(context.Background(), twoToolJob())
	<-loaded
	assert.Equal(t, ErrNoMaterialStation.Error(), e.ViewModel().StationError)

	require.NoError(t, e.SelectTool(0))
	assert.ErrorIs(t, e.SelectSlot(0), ErrNoMaterialStation)
	require.NoError(t, e.SelectTool(1))
	assert.ErrorIs(t, e.SelectSlot(1), ErrNoMaterialStation)

	assert.Empty(t, e.Mappings())
	assert.False(t, e.ConfirmEnabled())
	assert.ErrorIs(t, e.Submit(context.Background()), ErrIncomplete)
	assert.Empty(t, starter.reqs)
}

func TestSubmitRejectedWhenStationDropsOut(t *testing.T) {
	station := &fakeStation{status: feeder()}
	starter := &fakeStarter{}
	e := NewEngine(session.New(), Options{Station: station, Starter: starter})

	_, loaded := e.Open(context.Background(), twoToolJob())
	<-loaded
	require.NoError(t, e.SelectTool(0))
	require.NoError(t, e.SelectSlot(0))
	require.NoError(t, e.SelectTool(1))
	require.NoError(t, e.SelectSlot(1))
	require.True(t, e.ConfirmEnabled())

	offline := feeder()
	offline.Connected = false
	station.mu.Lock()
	station.status = offline
	station.mu.Unlock()
	assert.ErrorIs(t, e.RefreshStation(context.Background()), ErrNoMaterialStation)

	assert.ErrorIs(t, e.Submit(context.Background()), ErrNoMaterialStation)
	assert.Empty(t, starter.reqs)
	assert.Equal(t, PhaseIdle, e.Phase())
}

func TestViewModelLabelsAreOneBased(t *testing.T) {
	h := newHarness(t)
	h.open(t, twoToolJob())
	require.NoError(t, h.engine.SelectTool(0))

	vm := h.engine.ViewModel()
	assert.Equal(t, "Tool 1", vm.Tools[0].Label)
	assert.Equal(t, "Slot 1", vm.Slots[0].Label)
	assert.True(t, vm.Slots[0].Eligible)
	assert.False(t, vm.Slots[1].Eligible, "PETG slot is not eligible for a PLA tool")
	assert.False(t, vm.Slots[2].Eligible, "empty slot is never eligible")
	assert.True(t, vm.Slots[3].Eligible)

	require.NoError(t, h.engine.SelectSlot(0))
	vm = h.engine.ViewModel()
	assert.Equal(t, 1, vm.Tools[0].MappedSlot)
	assert.Equal(t, 1, vm.Slots[0].AssignedTool)
}
