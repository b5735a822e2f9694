package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"archivist/internal/oidc"
	"archivist/internal/session"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	SetVersion(testVersion)

	if GetVersion() != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "archivist" {
		t.Errorf("Expected Use to be 'archivist', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}

	for _, name := range []string{"config-path", "server", "debug", "quiet"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Expected persistent flag --%s", name)
		}
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}

	// Same template as Execute()
	testCmd.SetVersionTemplate(`{{printf "archivist version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	expected := "archivist version 1.0.0\n"
	if buf.String() != expected {
		t.Errorf("Expected version output %q, got %q", expected, buf.String())
	}
}

func TestSubcommands(t *testing.T) {
	expected := map[string][]string{
		"":       {"version", "auth", "events"},
		"auth":   {"login", "register", "logout", "status", "refresh", "whoami"},
		"events": {"watch"},
	}

	for parent, children := range expected {
		cmd := rootCmd
		if parent != "" {
			found, _, err := rootCmd.Find([]string{parent})
			if err != nil {
				t.Fatalf("Expected command %s: %v", parent, err)
			}
			cmd = found
		}

		registered := make(map[string]bool)
		for _, sub := range cmd.Commands() {
			registered[sub.Name()] = true
		}
		for _, name := range children {
			if !registered[name] {
				t.Errorf("Expected subcommand %q under %q", name, cmd.Name())
			}
		}
	}
}

func TestRootCommandHelp(t *testing.T) {
	var buf bytes.Buffer

	// A separate command so the global one is untouched.
	testRootCmd := &cobra.Command{
		Use:          rootCmd.Use,
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}
	testRootCmd.SetOut(&buf)
	testRootCmd.SetArgs([]string{"--help"})

	if err := testRootCmd.Execute(); err != nil {
		t.Fatalf("Error executing help command: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "archivist") {
		t.Errorf("Help output should contain 'archivist'. Got: %q", output)
	}
	if !strings.Contains(output, "encrypted on disk") {
		t.Errorf("Help output should contain the long description. Got: %q", output)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generic error", errors.New("boom"), ExitCodeError},
		{"not authenticated", session.ErrNotAuthenticated, ExitCodeAuthRequired},
		{"wrapped not authenticated", fmt.Errorf("whoami: %w", session.ErrNotAuthenticated), ExitCodeAuthRequired},
		{"rejected login", &session.AuthError{Op: "login", Err: errors.New("401")}, ExitCodeAuthFailed},
		{"rejected registration", &session.AuthError{Op: "register", Err: errors.New("400")}, ExitCodeAuthFailed},
		{"rejected refresh", &session.AuthError{Op: "refresh", Err: errors.New("401")}, ExitCodeAuthRequired},
		{"rejected profile", &session.AuthError{Op: "fetch_user", Err: errors.New("403")}, ExitCodeAuthRequired},
		{"oidc flow", &oidc.FlowError{Step: "discovery", Err: oidc.ErrProviderDisabled}, ExitCodeAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
