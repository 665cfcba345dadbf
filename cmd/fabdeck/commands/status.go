package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/ui"
)

const (
	statusTimeout = 10 * time.Second
	gcodeTimeout  = 5 * time.Second
	pruneInterval = time.Minute
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active printer's dashboard",
	Long: `Connect to the backend, wait for the first status push and draw the
dashboard using the printer's saved layout. With --watch the dashboard is
redrawn on every update until interrupted; entering r reconnects and
reloads the printer list, q quits.`,
	RunE: runStatus,
}

var gcodeCmd = &cobra.Command{
	Use:   "gcode <command>...",
	Short: "Send raw G-code to the active printer",
	Example: `  fabdeck gcode M115
  fabdeck gcode G28 X Y`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGCode,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Keep redrawing on every update")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gcodeCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.bootstrap(ctx); err != nil {
		return err
	}

	spinner := ui.NewSpinnerTo(cmd.ErrOrStderr(), "Waiting for printer status...")
	spinner.Start()
	err = a.connect(ctx)
	if err == nil {
		err = a.waitForStatus(ctx, statusTimeout)
	}
	spinner.Stop()
	if err != nil {
		return err
	}

	dashboard := a.dashboard
	if f := a.state.PrinterFeatures(); f != nil && f.HasMaterialStation {
		if station, err := a.api.MaterialStation(ctx); err == nil {
			dashboard = func() ui.Dashboard {
				d := a.dashboard()
				d.Station = station
				return d
			}
		}
	}

	if !statusWatch {
		a.term.RenderDashboard(dashboard())
		return nil
	}

	a.term.Watch(dashboard)
	a.term.RenderDashboard(dashboard())
	fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderDim(watchHelp))
	a.watch(ctx, cmd.InOrStdin(), cmd.ErrOrStderr())
	a.term.Unwatch()

	if sum := a.history.Summarize(a.state.ActiveContextID()); sum != nil && sum.SampleCount > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s %d updates, peak nozzle %.0f°C, peak bed %.0f°C\n",
			ui.RenderDim("Session:"), sum.SampleCount, sum.PeakNozzle, sum.PeakBed)
	}
	return nil
}

const watchHelp = "Type r and Enter to reconnect and reload printers, q to quit"

// watch serves line commands from in until ctx ends or q is entered, and
// prunes stale telemetry in the background. A closed input keeps watching.
func (a *app) watch(ctx context.Context, in io.Reader, errOut io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-prune.C:
			if n := a.history.Prune(); n > 0 {
				log.Printf("[DEBUG] fabdeck: pruned history of %d idle printer(s)", n)
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch strings.ToLower(line) {
			case "":
			case "r", "refresh":
				if err := a.refresh(ctx); err != nil {
					fmt.Fprintln(errOut, ui.RenderError(err))
				}
			case "q", "quit":
				return
			default:
				fmt.Fprintln(errOut, ui.RenderDim(watchHelp))
			}
		}
	}
}

func runGCode(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.authenticate(ctx); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}

	// Drop the notices produced while connecting
	drain(a.notices)

	if err := a.ws.ExecuteGCode(strings.Join(args, " ")); err != nil {
		return err
	}

	timer := time.NewTimer(gcodeTimeout)
	defer timer.Stop()
	for {
		select {
		case n := <-a.notices:
			switch n.Level {
			case notify.Success:
				return nil
			case notify.Error:
				return fmt.Errorf("printer rejected command: %s", n.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no result for G-code within %s", gcodeTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func drain(ch chan notify.Notice) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
