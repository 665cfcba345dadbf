package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabdeck/fabdeck/internal/api"
	"github.com/fabdeck/fabdeck/internal/config"
	"github.com/fabdeck/fabdeck/internal/contexts"
	"github.com/fabdeck/fabdeck/internal/jobstart"
	"github.com/fabdeck/fabdeck/internal/layout"
	"github.com/fabdeck/fabdeck/internal/matching"
	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/redact"
	"github.com/fabdeck/fabdeck/internal/session"
	"github.com/fabdeck/fabdeck/internal/telemetry"
	"github.com/fabdeck/fabdeck/internal/transport"
	"github.com/fabdeck/fabdeck/internal/ui"
)

// trendWindow is how much telemetry the dashboard trend line covers
const trendWindow = 2 * time.Minute

// ErrLoginRequired is returned when the backend needs a token and none is
// configured
var ErrLoginRequired = errors.New("backend requires a login, run 'fabdeck login'")

// app wires the core components for one command invocation
type app struct {
	cfg   *config.Config
	paths *config.Paths

	state    *session.State
	api      *api.Client
	term     *ui.Terminal
	history  *telemetry.Store
	layouts  *layout.Store
	ws       *transport.Client
	switcher *contexts.Switcher
	engine   *matching.Engine
	jobs     *jobstart.Coordinator

	// notices receives a copy of every transport notice, for commands
	// that wait on a command result
	notices chan notify.Notice
}

// loadConfig resolves the config directory, loads the file and applies
// .env files, environment overrides and flags, in that order
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Paths, error) {
	var paths *config.Paths
	if dir, _ := cmd.Flags().GetString("config"); dir != "" {
		paths = config.PathsAt(dir)
	} else {
		p, err := config.GetPaths()
		if err != nil {
			return nil, nil, err
		}
		paths = p
	}

	cfg, err := config.LoadFrom(paths)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyEnv(paths.EnvFile, ".env"); err != nil {
		return nil, nil, err
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.ServerURL = server
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	return cfg, paths, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, paths, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		ui.SetNoColor(true)
	}

	// Log lines are diagnostics; the terminal view is the user-facing output
	if cfg.Verbose {
		log.SetOutput(redact.NewWriter(cmd.ErrOrStderr()))
	} else {
		log.SetOutput(io.Discard)
	}

	a := &app{
		cfg:     cfg,
		paths:   paths,
		state:   session.New(),
		term:    ui.NewTerminal(cmd.OutOrStdout(), cmd.ErrOrStderr()),
		history: telemetry.NewStore(0),
		layouts: layout.NewStore(paths.LayoutsDir),
		notices: make(chan notify.Notice, 16),
	}
	a.api = api.NewClient(cfg.ServerURL, a.state.AuthToken)

	wsNotifier := notify.Func(func(level notify.Level, message string) {
		a.term.Notify(level, message)
		select {
		case a.notices <- notify.Notice{Level: level, Message: message}:
		default:
		}
	})
	a.ws, err = transport.New(cfg.ServerURL, a.state, transport.Options{
		Notifier: wsNotifier,
		Observer: transport.Observers{a.history, a.term},
		Verbose:  cfg.Verbose,
	})
	if err != nil {
		return nil, err
	}

	a.switcher = contexts.NewSwitcher(a.state, contexts.Options{
		Backend:           a.api,
		Status:            a.ws,
		Layouts:           a.layouts,
		View:              a.term,
		Notifier:          a.term,
		RollbackOnFailure: cfg.RollbackOnFailure,
	})
	a.engine = matching.NewEngine(a.state, matching.Options{
		Station:  a.api,
		Starter:  a.api,
		View:     a.term,
		Notifier: a.term,
	})
	a.jobs = jobstart.NewCoordinator(a.state, a.api, a.engine, a.term)
	return a, nil
}

// authenticate asks the backend whether a token is needed and records the
// answer in session state
func (a *app) authenticate(ctx context.Context) error {
	status, err := a.api.AuthStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach backend at %s: %w", a.cfg.ServerURL, err)
	}
	a.state.SetAuth(a.cfg.Token(), status.AuthRequired)
	if status.AuthRequired && a.cfg.Token() == "" {
		return ErrLoginRequired
	}
	return nil
}

// bootstrap authenticates, fetches the printer set and loads what the
// active printer needs: features, spool and dashboard layout
func (a *app) bootstrap(ctx context.Context) error {
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	if err := a.switcher.FetchContexts(ctx); err != nil {
		if api.IsUnauthorized(err) {
			return ErrLoginRequired
		}
		return err
	}
	if err := a.switcher.LoadFeatures(ctx); err != nil {
		log.Printf("[WARN] fabdeck: %v", err)
	}
	if err := a.switcher.LoadSpool(ctx); err != nil {
		log.Printf("[WARN] fabdeck: %v", err)
	}

	key := a.switcher.PersistenceKey(a.state.ActiveContextID())
	l, err := a.layouts.Load(key)
	if err != nil {
		log.Printf("[WARN] fabdeck: failed to load layout for %s: %v", key, err)
		l = layout.Default()
	}
	a.term.ApplyLayout(key, l)
	return nil
}

// connect opens the live socket
func (a *app) connect(ctx context.Context) error {
	if err := a.ws.Connect(ctx); err != nil {
		if errors.Is(err, transport.ErrAuthRequired) {
			return ErrLoginRequired
		}
		return err
	}
	return nil
}

// waitForStatus blocks until the first telemetry snapshot arrives
func (a *app) waitForStatus(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.state.PrinterStatus() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no printer status received: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// refresh is the manual recovery path: it reopens the socket with a fresh
// retry budget and reloads the printer list
func (a *app) refresh(ctx context.Context) error {
	connErr := a.ws.Reconnect(ctx)
	if errors.Is(connErr, transport.ErrAuthRequired) {
		return ErrLoginRequired
	}
	if err := a.switcher.FetchContexts(ctx); err != nil {
		return err
	}
	a.forgetRemovedContexts()
	if err := a.switcher.LoadSpool(ctx); err != nil {
		log.Printf("[WARN] fabdeck: %v", err)
	}
	if connErr != nil {
		return connErr
	}
	return a.ws.RequestStatus()
}

// forgetRemovedContexts drops telemetry of printers the backend no longer
// lists
func (a *app) forgetRemovedContexts() int {
	removed := 0
	for _, id := range a.history.ContextIDs() {
		if _, ok := a.switcher.Get(id); !ok {
			a.history.Forget(id)
			removed++
			log.Printf("[INFO] fabdeck: printer %s removed, dropping its history", id)
		}
	}
	return removed
}

// dashboard collects the current view of the active printer
func (a *app) dashboard() ui.Dashboard {
	since := time.Now().Add(-trendWindow).UnixMilli()
	d := ui.Dashboard{
		Connected: a.state.IsConnected(),
		Status:    a.state.PrinterStatus(),
		Features:  a.state.PrinterFeatures(),
		Spool:     a.state.ActiveSpool(),
		Trend:     a.history.History(a.state.ActiveContextID(), since),
	}
	if c, ok := a.switcher.Active(); ok {
		d.Context = &c
	}
	return d
}

func (a *app) close() {
	a.engine.Cancel()
	if err := a.ws.Close(); err != nil {
		log.Printf("[WARN] fabdeck: %v", err)
	}
}
