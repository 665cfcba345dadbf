package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabdeck/fabdeck/internal/layout"
	"github.com/fabdeck/fabdeck/internal/ui"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Show or change the active printer's dashboard layout",
}

var layoutShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the panels of the active printer's dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.bootstrap(cmd.Context()); err != nil {
			return err
		}
		key, l := a.term.Layout()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", ui.RenderDim("Printer:"), key)
		for _, p := range layout.KnownPanels {
			mark := ui.RenderDim("-")
			if l.Visible(p) {
				mark = ui.RenderSuccess("+")
			}
			fmt.Fprintf(out, "  %s %s\n", mark, p)
		}
		return nil
	},
}

var layoutSetCmd = &cobra.Command{
	Use:   "set <panel>...",
	Short: "Choose which panels are shown, in order",
	Long: fmt.Sprintf(`Set the dashboard panels for the active printer. The layout is saved per
printer serial and restored whenever that printer becomes active.

Panels: %s`, strings.Join(layout.KnownPanels, ", ")),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.bootstrap(cmd.Context()); err != nil {
			return err
		}
		l := &layout.Layout{Panels: args}
		if err := l.Validate(); err != nil {
			return err
		}
		a.term.SetLayout(l)

		key, _ := a.term.Layout()
		pending := a.term.CaptureLayout()
		if err := a.layouts.Save(key, pending); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderSuccess("Layout saved for "+key))
		return nil
	},
}

var layoutResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default dashboard layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.bootstrap(cmd.Context()); err != nil {
			return err
		}
		key, _ := a.term.Layout()
		if err := a.layouts.Save(key, layout.Default()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderSuccess("Layout reset for "+key))
		return nil
	},
}

func init() {
	layoutCmd.AddCommand(layoutShowCmd)
	layoutCmd.AddCommand(layoutSetCmd)
	layoutCmd.AddCommand(layoutResetCmd)
	rootCmd.AddCommand(layoutCmd)
}
