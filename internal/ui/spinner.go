package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Spinner displays an animated indicator while the backend is busy, such
// as during a printer switch or a feeder status fetch
type Spinner struct {
	out       io.Writer
	message   string
	frames    []string
	interval  time.Duration
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	startTime time.Time
}

var defaultFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewSpinnerTo creates a spinner drawing to out
func NewSpinnerTo(out io.Writer, message string) *Spinner {
	return &Spinner{
		out:      out,
		message:  message,
		frames:   defaultFrames,
		interval: 80 * time.Millisecond,
	}
}

// Start begins the animation. Without a terminal it prints the message once.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.startTime = time.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if !isTTY {
		fmt.Fprintln(s.out, s.message)
		close(s.doneCh)
		return
	}
	go s.spin()
}

func (s *Spinner) spin() {
	defer close(s.doneCh)

	i := 0
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			fmt.Fprint(s.out, "\r"+strings.Repeat(" ", 60)+"\r")
			return
		case <-ticker.C:
			s.mu.Lock()
			elapsed := time.Since(s.startTime)
			message := s.message
			s.mu.Unlock()

			frame := s.frames[i%len(s.frames)]
			line := fmt.Sprintf("\r%s %s", Color(Cyan, frame), message)
			if elapsed > 2*time.Second {
				line += fmt.Sprintf(" (%ds)", int(elapsed.Seconds()))
			}
			fmt.Fprint(s.out, line+"   ")
			i++
		}
	}
}

// Stop halts the animation and clears the line
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

// SetMessage updates the message. Without a terminal a running spinner
// prints the new message on its own line.
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	printNow := s.running && !isTTY
	s.mu.Unlock()

	if printNow {
		fmt.Fprintln(s.out, msg)
	}
}
