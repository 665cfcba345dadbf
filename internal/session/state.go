// Package session holds the client-wide session record shared by the
// transport, context switcher and job-start flow
package session

import (
	"sync"

	"github.com/fabdeck/fabdeck/internal/protocol"
)

// State is the mutable session record. It is created once per client and
// passed by pointer to every component that reads or writes it.
type State struct {
	mu sync.RWMutex

	isAuthenticated   bool
	authToken         string
	authRequired      bool
	isConnected       bool
	reconnectAttempts int
	activeContextID   string
	printerStatus     *protocol.PrinterStatus
	printerFeatures   *protocol.PrinterFeatures
	jobMetadata       map[string]protocol.JobFile
	pendingJobStart   *protocol.PendingJobStart
	activeSpool       *protocol.ActiveSpool
}

// Snapshot is a point-in-time copy of State
type Snapshot struct {
	IsAuthenticated   bool
	AuthToken         string
	AuthRequired      bool
	IsConnected       bool
	ReconnectAttempts int
	ActiveContextID   string
	PrinterStatus     *protocol.PrinterStatus
	PrinterFeatures   *protocol.PrinterFeatures
	PendingJobStart   *protocol.PendingJobStart
	ActiveSpool       *protocol.ActiveSpool
	CachedJobs        int
}

// New creates a State with default values
func New() *State {
	return &State{
		jobMetadata: make(map[string]protocol.JobFile),
	}
}

// Reset returns every field to its default. Called on logout.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isAuthenticated = false
	s.authToken = ""
	s.authRequired = false
	s.isConnected = false
	s.reconnectAttempts = 0
	s.activeContextID = ""
	s.printerStatus = nil
	s.printerFeatures = nil
	s.jobMetadata = make(map[string]protocol.JobFile)
	s.pendingJobStart = nil
	s.activeSpool = nil
}

// Snapshot returns a copy of the current state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		IsAuthenticated:   s.isAuthenticated,
		AuthToken:         s.authToken,
		AuthRequired:      s.authRequired,
		IsConnected:       s.isConnected,
		ReconnectAttempts: s.reconnectAttempts,
		ActiveContextID:   s.activeContextID,
		PrinterStatus:     s.printerStatus,
		PrinterFeatures:   s.printerFeatures,
		PendingJobStart:   s.pendingJobStart,
		ActiveSpool:       s.activeSpool,
		CachedJobs:        len(s.jobMetadata),
	}
}

// SetAuth records the auth token and whether the backend requires one.
// A non-empty token, or a backend without auth, marks the session
// authenticated.
func (s *State) SetAuth(token string, required bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authToken = token
	s.authRequired = required
	s.isAuthenticated = token != "" || !required
}

// MarkAuthenticated is called when the backend accepts the socket
func (s *State) MarkAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isAuthenticated = true
}

// IsAuthenticated reports whether the session is considered logged in
func (s *State) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAuthenticated
}

// AuthToken returns the bearer token, if any
func (s *State) AuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authToken
}

// AuthRequired reports whether the backend demands a token
func (s *State) AuthRequired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authRequired
}

// SetConnected records the socket state
func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConnected = connected
}

// IsConnected reports whether the socket is open
func (s *State) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

// ReconnectAttempts returns the current retry counter
func (s *State) ReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectAttempts
}

// IncrementReconnectAttempts bumps the retry counter and returns the new value
func (s *State) IncrementReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts++
	return s.reconnectAttempts
}

// ResetReconnectAttempts sets the retry counter back to zero
func (s *State) ResetReconnectAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts = 0
}

// ActiveContextID returns the selected printer context id
func (s *State) ActiveContextID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeContextID
}

// SetActiveContextID selects a printer context
func (s *State) SetActiveContextID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeContextID = id
}

// SetPrinterStatus replaces the telemetry snapshot
func (s *State) SetPrinterStatus(status *protocol.PrinterStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printerStatus = status
}

// PrinterStatus returns the last telemetry snapshot, or nil
func (s *State) PrinterStatus() *protocol.PrinterStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.printerStatus
}

// SetPrinterFeatures replaces the capability flags
func (s *State) SetPrinterFeatures(features *protocol.PrinterFeatures) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printerFeatures = features
}

// PrinterFeatures returns the capability flags, or nil if not loaded
func (s *State) PrinterFeatures() *protocol.PrinterFeatures {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.printerFeatures
}

// CacheJobs replaces the job metadata cache
func (s *State) CacheJobs(jobs []protocol.JobFile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobMetadata = make(map[string]protocol.JobFile, len(jobs))
	for _, j := range jobs {
		s.jobMetadata[j.FileName] = j
	}
}

// Job returns cached metadata for a file
func (s *State) Job(fileName string) (protocol.JobFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobMetadata[fileName]
	return j, ok
}

// SetPendingJobStart records a start request awaiting material matching
func (s *State) SetPendingJobStart(p *protocol.PendingJobStart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingJobStart = p
}

// PendingJobStart returns the waiting start request, or nil
func (s *State) PendingJobStart() *protocol.PendingJobStart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingJobStart
}

// SetActiveSpool replaces the tracked spool; nil clears it
func (s *State) SetActiveSpool(spool *protocol.ActiveSpool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSpool = spool
}

// ActiveSpool returns the tracked spool, or nil
func (s *State) ActiveSpool() *protocol.ActiveSpool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeSpool
}
