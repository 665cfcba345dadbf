package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabdeck/fabdeck/internal/redact"
)

// debugCmd is the parent command for debug subcommands
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug and diagnostic commands",
	Long:  `Commands for debugging and diagnosing issues with FabDeck.`,
}

// debugFlagsCmd prints resolved flag and config values
var debugFlagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Print resolved flag and config values",
	Long: `Print the resolved values of global flags and the configuration they
produce, after the config file, .env files and environment overrides have
been applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		configDir, _ := cmd.Flags().GetString("config")
		server, _ := cmd.Flags().GetString("server")
		noColor, _ := cmd.Flags().GetBool("no-color")

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Resolved Flag Values:")
		fmt.Fprintf(out, "  --verbose:  %v\n", verbose)
		fmt.Fprintf(out, "  --config:   %q\n", configDir)
		fmt.Fprintf(out, "  --server:   %q\n", server)
		fmt.Fprintf(out, "  --no-color: %v\n", noColor)

		cfg, paths, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Effective Config:")
		fmt.Fprintf(out, "  File:       %s\n", paths.ConfigFile)
		fmt.Fprintf(out, "  Server:     %s\n", cfg.ServerURL)
		fmt.Fprintf(out, "  Verbose:    %v\n", cfg.Verbose)
		fmt.Fprintf(out, "  Rollback:   %v\n", cfg.RollbackOnFailure)
		fmt.Fprintf(out, "  Token:      %s\n", redact.Token(cfg.Token()))

		var env []string
		for _, kv := range os.Environ() {
			if strings.HasPrefix(kv, "FABDECK_") {
				env = append(env, kv)
			}
		}
		if len(env) > 0 {
			fmt.Fprintln(out, "Environment:")
			for _, kv := range redact.Env(env) {
				fmt.Fprintf(out, "  %s\n", kv)
			}
		}
		return nil
	},
}

func init() {
	debugCmd.AddCommand(debugFlagsCmd)
}
