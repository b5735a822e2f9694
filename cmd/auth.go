package cmd

import (
	"fmt"

	"archivist/internal/session"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage your archive session",
	Long: `Manage your session with the archive server.

Examples:
  archivist auth login --email ada@example.com   # Password login
  archivist auth login --oidc                    # Single sign-on in the browser
  archivist auth register --email ada@example.com
  archivist auth status                          # Show session status
  archivist auth whoami                          # Show current identity
  archivist auth refresh                         # Force token refresh
  archivist auth logout                          # Clear stored credentials`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored credentials",
	Long: `Clear the stored session.

Tokens and the cached profile are removed from storage. Other archivist
processes watching the same storage log out as well.`,
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force token refresh",
	Long: `Exchange the stored refresh token for a new token pair.

A rejected refresh token ends the session.`,
	RunE: runAuthRefresh,
}

// authWhoamiCmd represents the auth whoami command
var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show current authenticated identity",
	RunE:  runAuthWhoami,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authRegisterCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authWhoamiCmd)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	application, err := openApplication(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Session.Logout(); err != nil {
		return fmt.Errorf("failed to clear stored credentials: %w", err)
	}
	authPrintln(cmd, "Logged out.")
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	application, err := openApplication(cmd, appOptions{restore: true})
	if err != nil {
		return err
	}
	defer application.Close()

	sess := application.Session
	if sess.RefreshToken() == "" {
		return session.ErrNotAuthenticated
	}

	authPrint(cmd, "Refreshing token for %s...\n", application.Settings.Server.URL)
	if err := sess.Refresh(cmd.Context()); err != nil {
		return err
	}
	authPrintln(cmd, "Token refreshed successfully.")
	if exp, ok := sess.TokenExpiry(); ok {
		authPrint(cmd, "New token expires %s\n", formatExpiryWithDirection(exp))
	}
	return nil
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	application, err := openApplication(cmd, appOptions{restore: true})
	if err != nil {
		return err
	}
	defer application.Close()

	if !application.Session.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}
	user := application.Session.User()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Email: %s\n", user.Email)
	if user.FullName != "" {
		fmt.Fprintf(out, "Name:  %s\n", user.FullName)
	}
	role := user.Role
	if user.IsPrivileged() {
		role = text.FgCyan.Sprintf("%s (privileged)", role)
	}
	fmt.Fprintf(out, "Role:  %s\n", role)
	return nil
}
