// Package contexts tracks the configured printer contexts and performs the
// handoff when the user switches the active one
package contexts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/fabdeck/fabdeck/internal/api"
	"github.com/fabdeck/fabdeck/internal/layout"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/session"
)

// FallbackContextID is selected when the backend reports no contexts
const FallbackContextID = "default"

// FallbackContext is the demo identity used when no printer is configured
var FallbackContext = protocol.PrinterContext{
	ID:    FallbackContextID,
	Name:  "Demo Printer",
	Model: "Unknown",
}

var (
	// ErrSwitchInProgress is returned when a switch is requested while
	// another one has not finished
	ErrSwitchInProgress = errors.New("a printer switch is already in progress")
	// ErrUnknownContext is returned when switching to an id that is not in
	// the fetched set
	ErrUnknownContext = errors.New("unknown printer context")
)

// Backend is the subset of the HTTP API the switcher needs
type Backend interface {
	ListContexts(ctx context.Context) (*api.ContextList, error)
	SwitchContext(ctx context.Context, contextID string) error
	Features(ctx context.Context) (*protocol.PrinterFeatures, error)
	ActiveSpool(ctx context.Context, contextID string) (*protocol.ActiveSpool, error)
}

// StatusRequester asks the transport for fresh telemetry
type StatusRequester interface {
	RequestStatus() error
}

// LayoutStore persists layouts keyed by printer serial
type LayoutStore interface {
	Load(key string) (*layout.Layout, error)
	Save(key string, l *layout.Layout) error
}

// View is the UI side of a switch. CaptureLayout returns the pending layout
// of the outgoing printer, or nil when nothing changed; ApplyLayout installs
// the incoming printer's layout.
type View interface {
	RenderContexts(contexts []protocol.PrinterContext, activeID string)
	CaptureLayout() *layout.Layout
	ApplyLayout(key string, l *layout.Layout)
}

// Options configures a Switcher
type Options struct {
	Backend  Backend
	Status   StatusRequester
	Layouts  LayoutStore
	View     View
	Notifier notify.Notifier
	// RollbackOnFailure restores the previous active id when the backend
	// refuses a switch. Off by default: the active id stays optimistic.
	RollbackOnFailure bool
}

// Switcher owns the fetched context set and the switch handoff
type Switcher struct {
	state    *session.State
	backend  Backend
	status   StatusRequester
	layouts  LayoutStore
	view     View
	notifier notify.Notifier
	rollback bool

	mu       sync.RWMutex
	contexts map[string]protocol.PrinterContext
	order    []string

	switching atomic.Bool
}

// NewSwitcher creates a switcher writing the active id into state
func NewSwitcher(state *session.State, opts Options) *Switcher {
	s := &Switcher{
		state:    state,
		backend:  opts.Backend,
		status:   opts.Status,
		layouts:  opts.Layouts,
		view:     opts.View,
		notifier: opts.Notifier,
		rollback: opts.RollbackOnFailure,
		contexts: make(map[string]protocol.PrinterContext),
	}
	if s.notifier == nil {
		s.notifier = notify.Discard
	}
	return s
}

// ResolveSelection picks the context to select after a fetch: the previous
// selection if still present, then the backend's active id, then the first
// context flagged active, then the first context, then the fallback id.
func ResolveSelection(previousID, backendActiveID string, contexts []protocol.PrinterContext) string {
	if len(contexts) == 0 {
		return FallbackContextID
	}

	has := func(id string) bool {
		if id == "" {
			return false
		}
		for _, c := range contexts {
			if c.ID == id {
				return true
			}
		}
		return false
	}

	if has(previousID) {
		return previousID
	}
	if has(backendActiveID) {
		return backendActiveID
	}
	for _, c := range contexts {
		if c.IsActive {
			return c.ID
		}
	}
	return contexts[0].ID
}

// FetchContexts replaces the context set and resolves the selection. On
// failure the previous set and selection are kept.
func (s *Switcher) FetchContexts(ctx context.Context) error {
	list, err := s.backend.ListContexts(ctx)
	if err != nil {
		log.Printf("[WARN] contexts: fetch failed: %v", err)
		s.notifier.Notify(notify.Warning, "Failed to load printer list")
		return fmt.Errorf("failed to fetch printer contexts: %w", err)
	}

	contexts := make(map[string]protocol.PrinterContext, len(list.Contexts))
	order := make([]string, 0, len(list.Contexts))
	for _, c := range list.Contexts {
		if _, dup := contexts[c.ID]; dup {
			continue
		}
		contexts[c.ID] = c
		order = append(order, c.ID)
	}

	selected := ResolveSelection(s.state.ActiveContextID(), list.ActiveContextID, list.Contexts)

	s.mu.Lock()
	s.contexts = contexts
	s.order = order
	s.mu.Unlock()

	s.state.SetActiveContextID(selected)
	log.Printf("[INFO] contexts: %d printer(s), selected %s", len(order), selected)

	if s.view != nil {
		s.view.RenderContexts(s.Contexts(), selected)
	}
	return nil
}

// Contexts returns the fetched contexts in backend order
func (s *Switcher) Contexts() []protocol.PrinterContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.PrinterContext, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.contexts[id])
	}
	return out
}

// Get returns a fetched context by id
func (s *Switcher) Get(id string) (protocol.PrinterContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	return c, ok
}

// Active returns the selected context. The fallback context is returned
// when nothing is configured.
func (s *Switcher) Active() (protocol.PrinterContext, bool) {
	id := s.state.ActiveContextID()
	if c, ok := s.Get(id); ok {
		return c, true
	}
	if id == FallbackContextID {
		return FallbackContext, true
	}
	return protocol.PrinterContext{}, false
}

// PersistenceKey returns the storage key for a context id: its serial when
// known, otherwise the id itself
func (s *Switcher) PersistenceKey(id string) string {
	if c, ok := s.Get(id); ok {
		return c.PersistenceKey()
	}
	return id
}

// Switching reports whether a switch is in flight
func (s *Switcher) Switching() bool {
	return s.switching.Load()
}

// SwitchContext makes id the active printer. The active id changes before
// the backend is asked, so the UI follows immediately. Only one switch runs
// at a time; overlapping calls get ErrSwitchInProgress.
func (s *Switcher) SwitchContext(ctx context.Context, id string) error {
	if !s.switching.CompareAndSwap(false, true) {
		return ErrSwitchInProgress
	}
	defer s.switching.Store(false)

	target, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContext, id)
	}

	previousID := s.state.ActiveContextID()
	if previousID == id {
		return nil
	}

	s.state.SetActiveContextID(id)
	s.saveOutgoingLayout(previousID)

	log.Printf("[INFO] contexts: switching %s -> %s", previousID, id)
	if err := s.backend.SwitchContext(ctx, id); err != nil {
		log.Printf("[ERROR] contexts: switch to %s failed: %v", id, err)
		s.notifier.Notify(notify.Error, fmt.Sprintf("Failed to switch to %s: %v", target.Name, err))
		if s.rollback {
			s.state.SetActiveContextID(previousID)
		}
		return fmt.Errorf("failed to switch to %s: %w", id, err)
	}

	// Serial numbers can change once the backend has connected the printer
	if err := s.FetchContexts(ctx); err != nil {
		log.Printf("[WARN] contexts: refresh after switch failed: %v", err)
	}
	if err := s.LoadFeatures(ctx); err != nil {
		log.Printf("[WARN] contexts: %v", err)
	}
	if err := s.LoadSpool(ctx); err != nil {
		log.Printf("[WARN] contexts: %v", err)
	}
	if s.status != nil {
		if err := s.status.RequestStatus(); err != nil {
			log.Printf("[WARN] contexts: status request after switch failed: %v", err)
		}
	}
	s.applyIncomingLayout(id)

	if c, ok := s.Get(id); ok {
		target = c
	}
	s.notifier.Notify(notify.Success, "Switched to "+target.Name)
	return nil
}

// LoadFeatures reloads the active printer's capability flags
func (s *Switcher) LoadFeatures(ctx context.Context) error {
	features, err := s.backend.Features(ctx)
	if err != nil {
		s.notifier.Notify(notify.Warning, "Failed to load printer features")
		return fmt.Errorf("failed to load features: %w", err)
	}
	s.state.SetPrinterFeatures(features)
	return nil
}

// LoadSpool reloads the spool assigned to the active printer
func (s *Switcher) LoadSpool(ctx context.Context) error {
	id := s.state.ActiveContextID()
	spool, err := s.backend.ActiveSpool(ctx, id)
	if err != nil {
		s.state.SetActiveSpool(nil)
		return fmt.Errorf("failed to load active spool for %s: %w", id, err)
	}
	s.state.SetActiveSpool(spool)
	return nil
}

func (s *Switcher) saveOutgoingLayout(previousID string) {
	if s.view == nil || s.layouts == nil || previousID == "" {
		return
	}
	pending := s.view.CaptureLayout()
	if pending == nil {
		return
	}
	key := s.PersistenceKey(previousID)
	if err := s.layouts.Save(key, pending); err != nil {
		log.Printf("[WARN] contexts: failed to save layout for %s: %v", key, err)
	}
}

func (s *Switcher) applyIncomingLayout(id string) {
	if s.view == nil || s.layouts == nil {
		return
	}
	key := s.PersistenceKey(id)
	l, err := s.layouts.Load(key)
	if err != nil {
		log.Printf("[WARN] contexts: failed to load layout for %s: %v", key, err)
		l = layout.Default()
	}
	s.view.ApplyLayout(key, l)
}
