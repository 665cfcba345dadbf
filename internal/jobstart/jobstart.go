// Package jobstart decides how a print job is started: directly, or through
// a material matching session when the job needs the material station
package jobstart

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fabdeck/fabdeck/internal/api"
	"github.com/fabdeck/fabdeck/internal/matching"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/session"
)

var (
	// ErrUnknownJob is returned when the file is not in the job cache
	ErrUnknownJob = errors.New("job not found")
	// ErrNoMaterialStation is returned when a job needs the material station
	// but the active printer has none
	ErrNoMaterialStation = errors.New("printer has no material station")
)

// Backend is the subset of the HTTP API used to list and start jobs
type Backend interface {
	ListJobs(ctx context.Context, source api.JobSource) ([]protocol.JobFile, error)
	StartJob(ctx context.Context, req api.StartJobRequest) error
}

// Result describes what Request did
type Result struct {
	// Started is true when the job was started directly
	Started bool
	// SessionID is set when a matching session was opened instead
	SessionID string
	// StationLoaded is closed once the matching session's feeder status
	// has been loaded (nil when Started)
	StationLoaded <-chan struct{}
}

// Coordinator starts jobs, routing multi-material jobs through matching
type Coordinator struct {
	state    *session.State
	backend  Backend
	engine   *matching.Engine
	notifier notify.Notifier
}

// NewCoordinator creates a coordinator
func NewCoordinator(state *session.State, backend Backend, engine *matching.Engine, notifier notify.Notifier) *Coordinator {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Coordinator{
		state:    state,
		backend:  backend,
		engine:   engine,
		notifier: notifier,
	}
}

// LoadJobs fetches a job listing and replaces the metadata cache with it
func (c *Coordinator) LoadJobs(ctx context.Context, source api.JobSource) ([]protocol.JobFile, error) {
	jobs, err := c.backend.ListJobs(ctx, source)
	if err != nil {
		c.notifier.Notify(notify.Error, "Failed to load jobs: "+err.Error())
		return nil, fmt.Errorf("failed to list %s jobs: %w", source, err)
	}
	c.state.CacheJobs(jobs)
	return jobs, nil
}

// Request starts fileName. A job that declares material station use and is
// started now opens a matching session; anything else is started directly.
func (c *Coordinator) Request(ctx context.Context, fileName string, leveling, startNow bool) (*Result, error) {
	job, ok := c.state.Job(fileName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, fileName)
	}

	if startNow && job.NeedsMaterialStation() {
		if f := c.state.PrinterFeatures(); f != nil && !f.HasMaterialStation {
			c.notifier.Notify(notify.Error, "This job needs a material station, but the printer has none")
			return nil, ErrNoMaterialStation
		}

		pending := protocol.PendingJobStart{
			Filename: fileName,
			Leveling: leveling,
			StartNow: startNow,
			Job:      job,
		}
		id, loaded := c.engine.Open(ctx, pending)
		return &Result{SessionID: id, StationLoaded: loaded}, nil
	}

	req := api.StartJobRequest{
		Filename: fileName,
		Leveling: leveling,
		StartNow: startNow,
	}
	if err := c.backend.StartJob(ctx, req); err != nil {
		log.Printf("[ERROR] jobstart: %s failed: %v", fileName, err)
		c.notifier.Notify(notify.Error, "Failed to start job: "+err.Error())
		return nil, fmt.Errorf("failed to start %s: %w", fileName, err)
	}

	if startNow {
		c.notifier.Notify(notify.Success, "Print job started: "+fileName)
	} else {
		c.notifier.Notify(notify.Success, "Job loaded: "+fileName)
	}
	log.Printf("[INFO] jobstart: started %s (leveling=%v, startNow=%v)", fileName, leveling, startNow)
	return &Result{Started: true}, nil
}

// Cancel abandons any pending job start and its matching session
func (c *Coordinator) Cancel() {
	c.engine.Cancel()
}

// Engine returns the matching engine driven by this coordinator
func (c *Coordinator) Engine() *matching.Engine {
	return c.engine
}
