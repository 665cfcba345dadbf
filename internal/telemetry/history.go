// Package telemetry keeps a short in-memory history of printer status
// updates per printer context
package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/fabdeck/fabdeck/internal/protocol"
)

const (
	// MaxSamples is the number of samples kept per context
	MaxSamples = 300 // ~5 minutes at the backend's 1 Hz push rate

	// Retention is how long a context's history survives without updates
	Retention = 10 * time.Minute
)

// Sample is one status update with its receive time
type Sample struct {
	Timestamp               int64   `json:"timestamp_ms"`
	PrinterState            string  `json:"printer_state"`
	BedTemperature          float64 `json:"bed_temperature"`
	BedTargetTemperature    float64 `json:"bed_target_temperature"`
	NozzleTemperature       float64 `json:"nozzle_temperature"`
	NozzleTargetTemperature float64 `json:"nozzle_target_temperature"`
	Progress                float64 `json:"progress"`
	CurrentLayer            int     `json:"current_layer"`
}

// SampleFrom reduces a status update to the fields kept in history
func SampleFrom(status protocol.PrinterStatus, at time.Time) Sample {
	return Sample{
		Timestamp:               at.UnixMilli(),
		PrinterState:            status.PrinterState,
		BedTemperature:          status.BedTemperature,
		BedTargetTemperature:    status.BedTargetTemperature,
		NozzleTemperature:       status.NozzleTemperature,
		NozzleTargetTemperature: status.NozzleTargetTemperature,
		Progress:                status.Progress,
		CurrentLayer:            status.CurrentLayer,
	}
}

type contextHistory struct {
	samples    []Sample
	lastUpdate time.Time
}

// Store holds bounded per-context histories. It satisfies the transport
// observer so it can be fed straight from the socket.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*contextHistory
	max      int
	now      func() time.Time
}

// NewStore creates a store keeping at most maxSamples per context
// (MaxSamples when <= 0)
func NewStore(maxSamples int) *Store {
	if maxSamples <= 0 {
		maxSamples = MaxSamples
	}
	return &Store{
		contexts: make(map[string]*contextHistory),
		max:      maxSamples,
		now:      time.Now,
	}
}

// Add appends a sample for contextID, dropping the oldest past the limit
func (s *Store) Add(contextID string, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.contexts[contextID]
	if !ok {
		h = &contextHistory{samples: make([]Sample, 0, s.max)}
		s.contexts[contextID] = h
	}
	h.samples = append(h.samples, sample)
	if excess := len(h.samples) - s.max; excess > 0 {
		h.samples = h.samples[excess:]
	}
	h.lastUpdate = s.now()
}

// OnStatusUpdate records a pushed status update
func (s *Store) OnStatusUpdate(contextID string, status protocol.PrinterStatus) {
	s.Add(contextID, SampleFrom(status, s.now()))
}

// OnConnectionChange is a no-op; history survives reconnects
func (s *Store) OnConnectionChange(bool) {}

// History returns samples for contextID newer than sinceMs (all when <= 0)
func (s *Store) History(contextID string, sinceMs int64) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.contexts[contextID]
	if !ok {
		return nil
	}
	var out []Sample
	for _, sample := range h.samples {
		if sample.Timestamp > sinceMs {
			out = append(out, sample)
		}
	}
	return out
}

// ContextIDs lists contexts with history, sorted
func (s *Store) ContextIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops the history of one context
func (s *Store) Forget(contextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextID)
}

// Prune removes contexts not updated within Retention and returns how many
// were removed
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-Retention)
	removed := 0
	for id, h := range s.contexts {
		if h.lastUpdate.Before(cutoff) {
			delete(s.contexts, id)
			removed++
		}
	}
	return removed
}

// Summary describes one context's history
type Summary struct {
	ContextID    string  `json:"context_id"`
	Latest       *Sample `json:"latest,omitempty"`
	SampleCount  int     `json:"sample_count"`
	OldestSample int64   `json:"oldest_sample_ms,omitempty"`
	NewestSample int64   `json:"newest_sample_ms,omitempty"`
	PeakNozzle   float64 `json:"peak_nozzle_temperature"`
	PeakBed      float64 `json:"peak_bed_temperature"`
}

// Summarize returns a summary for contextID, or nil when it has no history
func (s *Store) Summarize(contextID string) *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.contexts[contextID]
	if !ok {
		return nil
	}
	sum := &Summary{ContextID: contextID, SampleCount: len(h.samples)}
	if len(h.samples) == 0 {
		return sum
	}
	latest := h.samples[len(h.samples)-1]
	sum.Latest = &latest
	sum.OldestSample = h.samples[0].Timestamp
	sum.NewestSample = latest.Timestamp
	for _, sample := range h.samples {
		if sample.NozzleTemperature > sum.PeakNozzle {
			sum.PeakNozzle = sample.NozzleTemperature
		}
		if sample.BedTemperature > sum.PeakBed {
			sum.PeakBed = sample.BedTemperature
		}
	}
	return sum
}
