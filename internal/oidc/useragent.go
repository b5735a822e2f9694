package oidc

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// UserAgent presents the authorization URL to the user.
type UserAgent interface {
	Open(ctx context.Context, authURL string) error
}

// UserAgentFunc adapts a function to UserAgent.
type UserAgentFunc func(ctx context.Context, authURL string) error

func (f UserAgentFunc) Open(ctx context.Context, authURL string) error {
	return f(ctx, authURL)
}

// Browser opens the URL in the system's default web browser.
type Browser struct{}

// Open implements UserAgent. It supports Linux, macOS, and Windows and does
// not wait for the browser to exit.
func (Browser) Open(ctx context.Context, authURL string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.CommandContext(ctx, "xdg-open", authURL)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", authURL)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", authURL)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Printer writes the URL for the user to open manually.
type Printer struct {
	W io.Writer
}

func (p Printer) Open(_ context.Context, authURL string) error {
	_, err := fmt.Fprintf(p.W, "Open this URL in your browser to log in:\n\n  %s\n\n", authURL)
	return err
}

// Fallback tries Primary and, if it fails, Secondary.
type Fallback struct {
	Primary   UserAgent
	Secondary UserAgent
}

func (f Fallback) Open(ctx context.Context, authURL string) error {
	if err := f.Primary.Open(ctx, authURL); err != nil {
		return f.Secondary.Open(ctx, authURL)
	}
	return nil
}
