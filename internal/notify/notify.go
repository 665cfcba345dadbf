// Package notify defines the user-notice port the core reports through
package notify

import "sync"

// Level is the severity of a notice
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Notifier shows a non-blocking notice to the user (a toast in the GUI,
// a line on stderr in the terminal)
type Notifier interface {
	Notify(level Level, message string)
}

// Func adapts a plain function to Notifier
type Func func(level Level, message string)

// Notify implements Notifier
func (f Func) Notify(level Level, message string) { f(level, message) }

// Discard drops every notice
var Discard Notifier = Func(func(Level, string) {})

// Notice is one recorded notification
type Notice struct {
	Level   Level
	Message string
}

// Recorder keeps every notice it receives. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier
func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: level, Message: message})
}

// Notices returns a copy of everything recorded so far
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Last returns the most recent notice
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// Count returns how many notices of the given level were recorded
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Level == level {
			n++
		}
	}
	return n
}
