// Package app builds archivist's component graph.
//
// NewApplication runs the bootstrap sequence once and returns an
// Application owning every component; nothing is kept in package globals.
// The order is fixed by the dependencies between components:
//
//  1. Configuration (internal/config), unless supplied pre-loaded.
//  2. Logging (pkg/logging), from log.level and log.format.
//  3. Credential vault (internal/storage), sealing the secure tier with a
//     key derived from the master key file for the file and bbolt backends.
//  4. Archive REST client (internal/backend).
//  5. Session manager (internal/session), then the authorizing transport
//     (internal/transport) installed into the REST client.
//  6. OIDC engine (internal/oidc).
//  7. Event stream client (internal/events).
//
// Initialize restores a stored session. Long-running commands call Watch to
// gate the event stream on the session and to pick up logins and logouts
// made by other processes through the storage watcher.
//
// # Example
//
//	application, err := app.NewApplication(app.NewConfig(false, false, ""))
//	if err != nil {
//		return err
//	}
//	defer application.Close()
//	if err := application.Initialize(ctx); err != nil {
//		logging.Warn("Bootstrap", "Session not restored: %v", err)
//	}
package app
