package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fabdeck/fabdeck/internal/ui"
)

var (
	loginPasswordStdin bool
	loginNoRemember    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the backend",
	Long: `Exchange the backend password for a session token. The token is
stored in the config file unless --no-remember is given, in which case it
is only printed so it can be exported as FABDECK_TOKEN.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin")
	loginCmd.Flags().BoolVar(&loginNoRemember, "no-remember", false, "Do not store the token")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	status, err := a.api.AuthStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach backend at %s: %w", a.cfg.ServerURL, err)
	}
	if !status.AuthRequired {
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderDim("This backend does not require a login."))
		return nil
	}

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	token, err := a.api.Login(ctx, password, !loginNoRemember)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if loginNoRemember {
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}
	if err := a.cfg.SetToken(a.paths, token); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderSuccess("Logged in to "+a.cfg.ServerURL))
	return nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	f, isFile := cmd.InOrStdin().(*os.File)
	if loginPasswordStdin || !isFile || !term.IsTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	pw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Token() != "" {
		a.state.SetAuth(a.cfg.Token(), true)
		if err := a.api.Logout(cmd.Context()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderWarning("Backend logout failed: "+err.Error()))
		}
	}

	// Session state goes back to defaults along with the stored token
	a.state.Reset()
	if err := a.cfg.ClearAuth(a.paths); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderSuccess("Logged out"))
	return nil
}
