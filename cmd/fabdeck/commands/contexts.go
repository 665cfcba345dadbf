package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabdeck/fabdeck/internal/contexts"
	"github.com/fabdeck/fabdeck/internal/ui"
)

var contextsCmd = &cobra.Command{
	Use:     "contexts",
	Aliases: []string{"printers"},
	Short:   "List and switch printers",
}

var contextsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured printers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		a.term.ListContexts(true)
		return a.bootstrap(cmd.Context())
	},
}

var contextsSwitchCmd = &cobra.Command{
	Use:   "switch <context-id>",
	Short: "Make another printer the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.bootstrap(ctx); err != nil {
			return err
		}

		spinner := ui.NewSpinnerTo(cmd.ErrOrStderr(), "Connecting to "+a.cfg.ServerURL+"...")
		spinner.Start()
		connErr := a.connect(ctx)
		name := args[0]
		if c, ok := a.switcher.Get(args[0]); ok {
			name = c.Name
		}
		spinner.SetMessage("Switching to " + name + "...")
		a.term.ListContexts(true)
		err = a.switcher.SwitchContext(ctx, args[0])
		spinner.Stop()

		if connErr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderWarning("Live connection unavailable: "+connErr.Error()))
		}
		if errors.Is(err, contexts.ErrUnknownContext) {
			a.term.RenderContexts(a.switcher.Contexts(), a.state.ActiveContextID())
		}
		return err
	},
}

func init() {
	contextsCmd.AddCommand(contextsListCmd)
	contextsCmd.AddCommand(contextsSwitchCmd)
	rootCmd.AddCommand(contextsCmd)
}
