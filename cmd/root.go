package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"archivist/internal/oidc"
	"archivist/internal/session"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no session or it has expired.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates credentials were rejected or the OIDC flow failed.
	ExitCodeAuthFailed = 3
)

// Global flags shared by every command.
var (
	configPath string
	serverURL  string
	debug      bool
	quiet      bool
)

// rootCmd represents the base command for the archivist application.
var rootCmd = &cobra.Command{
	Use:   "archivist",
	Short: "Sign in to a document archive and follow its activity",
	Long: `archivist manages your session with a document archive server.

It signs in with a password or through the server's OIDC provider, keeps
the credentials encrypted on disk, refreshes them when they expire and
streams document, tag and sharing events as they happen.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and returns the process exit code. Interrupts
// cancel the command context so long-running commands can shut down cleanly.
func Execute() int {
	rootCmd.SetVersionTemplate(`{{printf "archivist version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return getExitCode(err)
	}
	return ExitCodeSuccess
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if errors.Is(err, session.ErrNotAuthenticated) {
		return ExitCodeAuthRequired
	}

	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Op {
		case "refresh", "fetch_user":
			// The stored session was rejected.
			return ExitCodeAuthRequired
		default:
			return ExitCodeAuthFailed
		}
	}

	if oidc.IsFlowError(err) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default ~/.config/archivist)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Archive server URL, overrides server.url")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
}
