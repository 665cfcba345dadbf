package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/fabdeck/fabdeck/internal/layout"
	"github.com/fabdeck/fabdeck/internal/matching"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
)

const clearScreen = "\033[H\033[2J"

// Terminal is the line-oriented front end. It receives notices, context
// lists, layouts, matching updates and live telemetry from the core.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer

	layoutKey string
	layout    *layout.Layout
	dirty     bool

	listContexts bool

	matching matching.ViewModel

	dashboard func() Dashboard
}

// NewTerminal creates a terminal writing content to out and notices to errOut
func NewTerminal(out, errOut io.Writer) *Terminal {
	return &Terminal{
		out:    out,
		errOut: errOut,
		layout: layout.Default(),
	}
}

// Notify prints a notice line
func (t *Terminal) Notify(level notify.Level, message string) {
	var line string
	switch level {
	case notify.Success:
		line = Color(Green, "✓ ") + message
	case notify.Warning:
		line = Color(Yellow, "! "+message)
	case notify.Error:
		line = Color(Red, "✗ "+message)
	default:
		line = Color(Dim, "· ") + message
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.errOut, line)
}

// ListContexts turns printing of fetched printer lists on or off
func (t *Terminal) ListContexts(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listContexts = on
}

// RenderContexts prints the printer list when listing is on
func (t *Terminal) RenderContexts(contexts []protocol.PrinterContext, activeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listContexts {
		fmt.Fprint(t.out, RenderContextList(contexts, activeID))
	}
}

// CaptureLayout returns the edited layout, or nil when it was not changed
// since it was applied
func (t *Terminal) CaptureLayout() *layout.Layout {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	t.dirty = false
	l := *t.layout
	l.Panels = append([]string(nil), t.layout.Panels...)
	return &l
}

// ApplyLayout installs the layout stored for the printer key
func (t *Terminal) ApplyLayout(key string, l *layout.Layout) {
	if l == nil {
		l = layout.Default()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layoutKey = key
	t.layout = l
	t.dirty = false
}

// SetLayout replaces the current layout and marks it for saving
func (t *Terminal) SetLayout(l *layout.Layout) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layout = l
	t.dirty = true
}

// Layout returns the current layout and the printer key it belongs to
func (t *Terminal) Layout() (string, *layout.Layout) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.layoutKey, t.layout
}

// RenderMatching redraws the matching card
func (t *Terminal) RenderMatching(vm matching.ViewModel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matching = vm
	if vm.Open {
		fmt.Fprint(t.out, RenderMatchingCard(vm))
	}
}

// JobStarted reports a job accepted through the matching dialog
func (t *Terminal) JobStarted(filename string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, RenderSuccess("Started "+filename))
}

// Matching returns the last rendered matching view model
func (t *Terminal) Matching() matching.ViewModel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matching
}

// Watch redraws the dashboard from src on every status update until
// Unwatch is called
func (t *Terminal) Watch(src func() Dashboard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dashboard = src
}

// Unwatch stops live redraws
func (t *Terminal) Unwatch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dashboard = nil
}

// RenderDashboard prints d with the current layout
func (t *Terminal) RenderDashboard(d Dashboard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drawLocked(d)
}

func (t *Terminal) drawLocked(d Dashboard) {
	if isTTY && t.dashboard != nil {
		fmt.Fprint(t.out, clearScreen)
	}
	name := "no printer"
	if d.Context != nil {
		name = d.Context.Name
	}
	fmt.Fprintf(t.out, "%s\n", Color(Bold, name))
	fmt.Fprint(t.out, RenderDashboard(d, t.layout))
}

// OnStatusUpdate redraws the dashboard while watching
func (t *Terminal) OnStatusUpdate(contextID string, status protocol.PrinterStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dashboard == nil {
		return
	}
	t.drawLocked(t.dashboard())
}

// OnConnectionChange prints connection transitions while watching
func (t *Terminal) OnConnectionChange(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dashboard == nil {
		return
	}
	if connected {
		fmt.Fprintln(t.errOut, Color(Green, "Connected"))
	} else {
		fmt.Fprintln(t.errOut, Color(Yellow, "Connection lost"))
	}
}
