// Package matching implements the tool-to-slot material matching flow that
// must complete before a multi-material job can start.
//
// A matching session is job scoped: Open creates it, and Submit or Cancel
// discards it. Tool ids are 0-based internally and shown 1-based; slot ids
// are 0-based internally and 1-based both when shown and in the
// MaterialMapping sent to the backend.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fabdeck/fabdeck/internal/api"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/session"
)

// Phase is the engine's state
type Phase string

const (
	PhaseClosed       Phase = "CLOSED"
	PhaseIdle         Phase = "IDLE"
	PhaseToolSelected Phase = "TOOL_SELECTED"
	PhaseSubmitting   Phase = "SUBMITTING"
)

var (
	ErrSessionClosed     = errors.New("no material matching in progress")
	ErrUnknownTool       = errors.New("tool is not used by this job")
	ErrNoToolSelected    = errors.New("no tool selected")
	ErrStationNotLoaded  = errors.New("material station status not loaded")
	ErrUnknownSlot       = errors.New("slot does not exist")
	ErrSlotEmpty         = errors.New("slot is empty")
	ErrMaterialMismatch  = errors.New("material mismatch")
	ErrSlotInUse         = errors.New("slot already assigned")
	ErrIncomplete        = errors.New("not every tool is mapped")
	ErrSubmitInProgress  = errors.New("job start already in progress")
	ErrNoMaterialStation = errors.New("material station not connected")
)

// StationFetcher loads the live feeder inventory
type StationFetcher interface {
	MaterialStation(ctx context.Context) (*protocol.MaterialStationStatus, error)
}

// JobStarter issues the job-start request
type JobStarter interface {
	StartJob(ctx context.Context, req api.StartJobRequest) error
}

// View renders the matching dialog. RenderMatching is called after every
// change with the full view model; JobStarted is called once a submitted
// job was accepted so the file picker can close too.
type View interface {
	RenderMatching(vm ViewModel)
	JobStarted(filename string)
}

// Options configures an Engine
type Options struct {
	Station  StationFetcher
	Starter  JobStarter
	View     View
	Notifier notify.Notifier
}

// Engine runs at most one matching session at a time
type Engine struct {
	state    *session.State
	station  StationFetcher
	starter  JobStarter
	view     View
	notifier notify.Notifier

	mu   sync.Mutex
	sess *matchSession
}

type matchSession struct {
	id           string
	pending      protocol.PendingJobStart
	station      *protocol.MaterialStationStatus
	stationErr   string
	loading      bool
	selectedTool *int
	mappings     map[int]protocol.MaterialMapping
	message      string
	warning      string
	submitting   bool
}

// NewEngine creates an engine. state's PendingJobStart is cleared whenever
// a session ends.
func NewEngine(state *session.State, opts Options) *Engine {
	e := &Engine{
		state:    state,
		station:  opts.Station,
		starter:  opts.Starter,
		view:     opts.View,
		notifier: opts.Notifier,
	}
	if e.notifier == nil {
		e.notifier = notify.Discard
	}
	return e
}

// Open starts a fresh session for pending, replacing any existing one. The
// tool list is available immediately; the feeder status is fetched in the
// background and the returned channel is closed once that fetch has been
// applied or dropped.
func (e *Engine) Open(ctx context.Context, pending protocol.PendingJobStart) (string, <-chan struct{}) {
	id := uuid.New().String()

	e.mu.Lock()
	e.sess = &matchSession{
		id:       id,
		pending:  pending,
		loading:  true,
		mappings: make(map[int]protocol.MaterialMapping),
	}
	vm := e.viewModelLocked()
	e.mu.Unlock()

	e.state.SetPendingJobStart(&pending)
	log.Printf("[INFO] matching: session %s opened for %s (%d tools)", id, pending.Filename, len(pending.Job.ToolDatas))
	e.render(vm)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.loadStation(ctx, id)
	}()
	return id, done
}

// RefreshStation re-reads the feeder inventory for the current session
func (e *Engine) RefreshStation(ctx context.Context) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	id := e.sess.id
	e.sess.loading = true
	vm := e.viewModelLocked()
	e.mu.Unlock()

	e.render(vm)
	return e.loadStation(ctx, id)
}

// loadStation fetches the inventory and applies it only if session id is
// still the open one, so a late response cannot revive a cancelled session.
func (e *Engine) loadStation(ctx context.Context, id string) error {
	status, err := e.station.MaterialStation(ctx)

	e.mu.Lock()
	if e.sess == nil || e.sess.id != id {
		e.mu.Unlock()
		log.Printf("[DEBUG] matching: dropping station status for closed session %s", id)
		return ErrSessionClosed
	}
	s := e.sess
	s.loading = false
	switch {
	case err != nil:
		s.stationErr = err.Error()
	case !status.Connected:
		s.station = status
		s.stationErr = ErrNoMaterialStation.Error()
		err = ErrNoMaterialStation
	default:
		s.station = status
		s.stationErr = ""
	}
	vm := e.viewModelLocked()
	e.mu.Unlock()

	if err != nil {
		log.Printf("[WARN] matching: failed to load material station: %v", err)
	}
	e.render(vm)
	return err
}

// SelectTool toggles the selection of a tool
func (e *Engine) SelectTool(toolID int) error {
	return e.update(func(s *matchSession) error {
		if _, ok := s.tool(toolID); !ok {
			return fmt.Errorf("%w: tool %d", ErrUnknownTool, toolID+1)
		}
		if s.selectedTool != nil && *s.selectedTool == toolID {
			s.selectedTool = nil
			return nil
		}
		id := toolID
		s.selectedTool = &id
		return nil
	})
}

// SelectSlot maps the selected tool to slotID (0-based). Checks run in
// order: a tool is selected, the feeder is connected, the slot is loaded,
// the materials match, and the slot is not used by another tool. A colour
// difference only warns.
func (e *Engine) SelectSlot(slotID int) error {
	return e.update(func(s *matchSession) error {
		if s.selectedTool == nil {
			s.message = "Select a tool first, then choose a slot for it"
			return ErrNoToolSelected
		}
		selected := *s.selectedTool
		tool, ok := s.tool(selected)
		if !ok {
			s.selectedTool = nil
			return fmt.Errorf("%w: tool %d", ErrUnknownTool, selected+1)
		}
		if s.station == nil {
			s.message = "Material station status is still loading"
			return ErrStationNotLoaded
		}
		if !s.station.Connected {
			s.message = "Material station is not connected"
			return ErrNoMaterialStation
		}
		slot, ok := s.station.Slot(slotID)
		if !ok {
			s.message = fmt.Sprintf("Slot %d does not exist", slotID+1)
			return fmt.Errorf("%w: slot %d", ErrUnknownSlot, slotID+1)
		}
		if slot.IsEmpty {
			s.message = fmt.Sprintf("Slot %d is empty", slotID+1)
			return fmt.Errorf("%w: slot %d", ErrSlotEmpty, slotID+1)
		}
		if !sameText(tool.MaterialName, slot.MaterialType) {
			s.message = fmt.Sprintf("Material mismatch: Tool %d requires %s but Slot %d contains %s",
				tool.ToolID+1, tool.MaterialName, slotID+1, slot.MaterialType)
			return fmt.Errorf("%w: tool %d needs %s, slot %d has %s",
				ErrMaterialMismatch, tool.ToolID+1, tool.MaterialName, slotID+1, slot.MaterialType)
		}

		displaySlot := slotID + 1
		for _, m := range s.mappings {
			if m.SlotID == displaySlot && m.ToolID != tool.ToolID {
				s.message = fmt.Sprintf("Slot %d is already assigned to Tool %d", displaySlot, m.ToolID+1)
				return fmt.Errorf("%w: slot %d", ErrSlotInUse, displaySlot)
			}
		}

		s.mappings[tool.ToolID] = protocol.MaterialMapping{
			ToolID:            tool.ToolID,
			SlotID:            displaySlot,
			MaterialName:      tool.MaterialName,
			ToolMaterialColor: tool.MaterialColor,
			SlotMaterialColor: slot.MaterialColor,
		}
		s.selectedTool = nil
		s.message = ""
		s.warning = ""
		if !sameText(tool.MaterialColor, slot.MaterialColor) {
			s.warning = fmt.Sprintf("Color mismatch: Tool %d expects %s but Slot %d has %s. The print will use the slot's color.",
				tool.ToolID+1, tool.MaterialColor, displaySlot, slot.MaterialColor)
		}
		return nil
	})
}

// RemoveMapping drops the mapping of toolID. No tool is reselected.
func (e *Engine) RemoveMapping(toolID int) error {
	return e.update(func(s *matchSession) error {
		if _, ok := s.mappings[toolID]; !ok {
			return fmt.Errorf("%w: tool %d has no mapping", ErrUnknownTool, toolID+1)
		}
		delete(s.mappings, toolID)
		s.message = ""
		s.warning = ""
		return nil
	})
}

// ConfirmEnabled reports whether every tool is mapped and no submit is running
func (e *Engine) ConfirmEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.complete() && !e.sess.submitting
}

// Submit sends the job-start request with the assembled mappings. On
// success the session ends; on failure it stays open for another try.
func (e *Engine) Submit(ctx context.Context) error {
	e.mu.Lock()
	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	if s.submitting {
		e.mu.Unlock()
		return ErrSubmitInProgress
	}
	if !s.complete() {
		s.message = fmt.Sprintf("Map all %d tools before starting (%d mapped)", len(s.pending.Job.ToolDatas), len(s.mappings))
		vm := e.viewModelLocked()
		e.mu.Unlock()
		e.render(vm)
		return ErrIncomplete
	}
	if s.station == nil || !s.station.Connected {
		s.message = "Material station is not connected"
		vm := e.viewModelLocked()
		e.mu.Unlock()
		e.render(vm)
		return ErrNoMaterialStation
	}
	s.submitting = true
	s.message = ""
	req := api.StartJobRequest{
		Filename:         s.pending.Filename,
		Leveling:         s.pending.Leveling,
		StartNow:         true,
		MaterialMappings: s.orderedMappings(),
	}
	id := s.id
	vm := e.viewModelLocked()
	e.mu.Unlock()
	e.render(vm)

	err := e.starter.StartJob(ctx, req)

	e.mu.Lock()
	if e.sess == nil || e.sess.id != id {
		// Cancelled while the request was in flight
		e.mu.Unlock()
		return err
	}
	if err != nil {
		e.sess.submitting = false
		e.sess.message = "Failed to start job: " + err.Error()
		vm := e.viewModelLocked()
		e.mu.Unlock()

		log.Printf("[ERROR] matching: job start for %s failed: %v", req.Filename, err)
		e.notifier.Notify(notify.Error, "Failed to start job: "+err.Error())
		e.render(vm)
		return fmt.Errorf("failed to start %s: %w", req.Filename, err)
	}
	e.sess = nil
	vm = e.viewModelLocked()
	e.mu.Unlock()

	e.state.SetPendingJobStart(nil)
	log.Printf("[INFO] matching: started %s with %d material mapping(s)", req.Filename, len(req.MaterialMappings))
	e.notifier.Notify(notify.Success, "Print job started: "+req.Filename)
	e.render(vm)
	if e.view != nil {
		e.view.JobStarted(req.Filename)
	}
	return nil
}

// Cancel discards the session and the pending job start. Safe to call in
// any state, including when nothing is open.
func (e *Engine) Cancel() {
	e.mu.Lock()
	wasOpen := e.sess != nil
	e.sess = nil
	vm := e.viewModelLocked()
	e.mu.Unlock()

	e.state.SetPendingJobStart(nil)
	if wasOpen {
		log.Printf("[INFO] matching: cancelled")
		e.render(vm)
	}
}

// Phase returns the current engine state
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.sess == nil:
		return PhaseClosed
	case e.sess.submitting:
		return PhaseSubmitting
	case e.sess.selectedTool != nil:
		return PhaseToolSelected
	default:
		return PhaseIdle
	}
}

// SessionID returns the id of the open session, or "" when closed
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return ""
	}
	return e.sess.id
}

// Mappings returns the current mappings ordered by tool id
func (e *Engine) Mappings() []protocol.MaterialMapping {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.orderedMappings()
}

// ViewModel returns the current render state
func (e *Engine) ViewModel() ViewModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewModelLocked()
}

// update runs fn against the open session and renders the result, whether
// fn succeeded or not
func (e *Engine) update(fn func(s *matchSession) error) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	if e.sess.submitting {
		e.mu.Unlock()
		return ErrSubmitInProgress
	}
	err := fn(e.sess)
	vm := e.viewModelLocked()
	e.mu.Unlock()

	e.render(vm)
	return err
}

func (e *Engine) render(vm ViewModel) {
	if e.view != nil {
		e.view.RenderMatching(vm)
	}
}

func (s *matchSession) tool(toolID int) (protocol.ToolData, bool) {
	for _, t := range s.pending.Job.ToolDatas {
		if t.ToolID == toolID {
			return t, true
		}
	}
	return protocol.ToolData{}, false
}

// complete reports whether the mappings form a bijection from the job's
// tools onto distinct slots
func (s *matchSession) complete() bool {
	tools := s.pending.Job.ToolDatas
	if len(tools) == 0 || len(s.mappings) != len(tools) {
		return false
	}
	slots := make(map[int]bool, len(s.mappings))
	for _, m := range s.mappings {
		if slots[m.SlotID] {
			return false
		}
		slots[m.SlotID] = true
	}
	return true
}

func (s *matchSession) orderedMappings() []protocol.MaterialMapping {
	out := make([]protocol.MaterialMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// sameText compares material names and colours ignoring case and
// surrounding whitespace
func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
