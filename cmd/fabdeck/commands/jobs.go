package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fabdeck/fabdeck/internal/api"
	"github.com/fabdeck/fabdeck/internal/jobstart"
	"github.com/fabdeck/fabdeck/internal/matching"
	"github.com/fabdeck/fabdeck/internal/ui"
)

var jobsRecent bool

var (
	startLeveling bool
	startLoadOnly bool
	startMaps     []string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List print jobs stored on the active printer",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.authenticate(ctx); err != nil {
			return err
		}
		source := api.JobsLocal
		if jobsRecent {
			source = api.JobsRecent
		}
		jobs, err := a.jobs.LoadJobs(ctx, source)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderJobs(jobs))
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <file>",
	Short: "Start or load a print job",
	Long: `Start a job stored on the active printer. Jobs that use the material
station need every tool mapped to a loaded feeder slot first: pass the
mapping with --map tool:slot (1-based, repeatable), or leave it out on a
terminal to pick slots interactively.`,
	Example: `  fabdeck start benchy.gcode --leveling
  fabdeck start bracket.3mf --map 1:2 --map 2:4`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	jobsCmd.Flags().BoolVar(&jobsRecent, "recent", false, "List recently printed jobs instead of local files")
	startCmd.Flags().BoolVar(&startLeveling, "leveling", false, "Run bed leveling before printing")
	startCmd.Flags().BoolVar(&startLoadOnly, "load-only", false, "Load the file without starting it")
	startCmd.Flags().StringArrayVar(&startMaps, "map", nil, "Tool to slot mapping, e.g. 1:3 (repeatable)")
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.bootstrap(ctx); err != nil {
		return err
	}

	fileName := args[0]
	if err := findJob(ctx, a, fileName); err != nil {
		return err
	}

	res, err := a.jobs.Request(ctx, fileName, startLeveling, !startLoadOnly)
	if err != nil {
		return err
	}
	if res.Started {
		return nil
	}

	spinner := ui.NewSpinnerTo(cmd.ErrOrStderr(), "Loading material station...")
	spinner.Start()
	select {
	case <-res.StationLoaded:
	case <-ctx.Done():
	}
	spinner.Stop()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if len(startMaps) > 0 {
		return applyMappings(ctx, a.engine, startMaps)
	}
	if !interactiveInput(cmd.InOrStdin()) {
		a.jobs.Cancel()
		return errors.New("this job uses the material station: pass --map tool:slot for every tool")
	}
	return matchInteractive(ctx, a.engine, cmd.InOrStdin(), cmd.OutOrStdout())
}

// interactiveInput reports whether in can drive the matching prompt: a
// terminal, or a reader that is not a file at all
func interactiveInput(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

// findJob loads the local listing, then the recent one, until fileName is
// in the cache
func findJob(ctx context.Context, a *app, fileName string) error {
	for _, source := range []api.JobSource{api.JobsLocal, api.JobsRecent} {
		if _, err := a.jobs.LoadJobs(ctx, source); err != nil {
			return err
		}
		if _, ok := a.state.Job(fileName); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", jobstart.ErrUnknownJob, fileName)
}

// parseMapping parses a 1-based "tool:slot" pair into 0-based ids
func parseMapping(s string) (tool, slot int, err error) {
	toolStr, slotStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid mapping %q, want tool:slot", s)
	}
	tool, err = strconv.Atoi(strings.TrimSpace(toolStr))
	if err != nil || tool < 1 {
		return 0, 0, fmt.Errorf("invalid tool in mapping %q", s)
	}
	slot, err = strconv.Atoi(strings.TrimSpace(slotStr))
	if err != nil || slot < 1 {
		return 0, 0, fmt.Errorf("invalid slot in mapping %q", s)
	}
	return tool - 1, slot - 1, nil
}

func applyMappings(ctx context.Context, engine *matching.Engine, maps []string) error {
	for _, m := range maps {
		tool, slot, err := parseMapping(m)
		if err != nil {
			engine.Cancel()
			return err
		}
		if err := mapTool(engine, tool, slot); err != nil {
			engine.Cancel()
			return fmt.Errorf("mapping %s: %w", m, err)
		}
	}
	if err := engine.Submit(ctx); err != nil {
		engine.Cancel()
		return err
	}
	return nil
}

// mapTool selects tool (unless already selected) and assigns slot
func mapTool(engine *matching.Engine, tool, slot int) error {
	for _, t := range engine.ViewModel().Tools {
		if t.ToolID == tool && t.Selected {
			return engine.SelectSlot(slot)
		}
	}
	if err := engine.SelectTool(tool); err != nil {
		return err
	}
	return engine.SelectSlot(slot)
}

const matchHelp = `  t N      select tool N
  s N      assign slot N to the selected tool
  m T:S    map tool T to slot S
  r N      remove tool N's mapping
  refresh  reload the material station
  go       start the print
  q        cancel`

// matchInteractive drives the matching dialog from a line prompt
func matchInteractive(ctx context.Context, engine *matching.Engine, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, ui.RenderDim(matchHelp))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, ui.Color(ui.Bold+ui.Magenta, "match> "))
		if !scanner.Scan() {
			engine.Cancel()
			return errors.New("matching cancelled")
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch strings.ToLower(fields[0]) {
		case "q", "quit", "cancel":
			engine.Cancel()
			fmt.Fprintln(out, ui.RenderDim("Cancelled"))
			return nil
		case "help", "?":
			fmt.Fprintln(out, ui.RenderDim(matchHelp))
			continue
		case "refresh":
			err = engine.RefreshStation(ctx)
		case "go", "start":
			err = engine.Submit(ctx)
			if err == nil {
				return nil
			}
		case "t", "s", "r", "m":
			err = matchStep(engine, fields)
		default:
			err = fmt.Errorf("unknown command %q, type ? for help", fields[0])
		}
		if err != nil {
			fmt.Fprintln(out, ui.RenderError(err))
		}
	}
}

func matchStep(engine *matching.Engine, fields []string) error {
	if len(fields) != 2 {
		return errors.New("expected one argument")
	}
	if fields[0] == "m" {
		tool, slot, err := parseMapping(fields[1])
		if err != nil {
			return err
		}
		return mapTool(engine, tool, slot)
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid number %q", fields[1])
	}
	switch fields[0] {
	case "t":
		return engine.SelectTool(n - 1)
	case "s":
		return engine.SelectSlot(n - 1)
	default:
		return engine.RemoveMapping(n - 1)
	}
}
