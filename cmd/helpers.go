package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"archivist/internal/app"
	"archivist/internal/oidc"
	"archivist/pkg/logging"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// appOptions adjusts how a command builds its application.
type appOptions struct {
	// restore loads the stored session before the command runs.
	restore bool

	userAgent oidc.UserAgent
}

// openApplication builds the application from the global flags. The caller
// must Close it.
func openApplication(cmd *cobra.Command, opts appOptions) (*app.Application, error) {
	cfg := app.NewConfig(debug, quiet, configPath)
	cfg.ServerURL = serverURL
	cfg.LogOutput = cmd.ErrOrStderr()
	cfg.UserAgent = opts.userAgent

	application, err := app.NewApplication(cfg)
	if err != nil {
		return nil, err
	}

	if opts.restore {
		if err := application.Initialize(cmd.Context()); err != nil {
			logging.Warn("CLI", "Could not restore the stored session: %v", err)
		}
	}
	return application, nil
}

// authPrint prints output only if the --quiet flag is not set.
// Use this for informational messages that aren't essential.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(cmd *cobra.Command, a ...interface{}) {
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), a...)
	}
}

// readPassword prompts on the terminal without echo, or reads the first line
// of stdin when it is not a terminal.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return requirePassword(string(b))
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return requirePassword(strings.TrimRight(line, "\r\n"))
}

func requirePassword(pw string) (string, error) {
	if pw == "" {
		return "", errors.New("a password is required")
	}
	return pw, nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// formatExpiryWithDirection formats a time as "in X" or "expired X ago".
func formatExpiryWithDirection(expiresAt time.Time) string {
	remaining := time.Until(expiresAt)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}
