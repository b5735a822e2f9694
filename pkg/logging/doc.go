// Package logging provides the structured logging used across archivist.
//
// It is a thin layer over log/slog that tags every entry with a subsystem
// name and keeps printf-style call sites short.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Session", "Logged in as %s", email)
//	logging.Debug("Events", "Dropping %s: no subscribers", eventType)
//	logging.Error("Storage", err, "Failed to persist %s", key)
//
// # Subsystems
//
//   - Bootstrap: process start-up and wiring
//   - Config: configuration loading and validation
//   - Storage: credential store backends and the change watcher
//   - Backend: archive REST API calls
//   - Session: token lifecycle
//   - Transport: bearer attachment and refresh-and-replay
//   - OIDC: browser login with PKCE
//   - Events: event stream connection and dispatch
//
// # Audit Logging
//
// Security-relevant operations are logged with a SECURITY_AUDIT: prefix:
//
//	logging.Audit("Session", logging.AuditEvent{
//	    Event:   "token_stored",
//	    Outcome: "success",
//	})
//
// Token values are never logged; wrap them in oauth.RedactedToken when they
// have to travel through formatted output.
package logging
