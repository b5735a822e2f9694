// Package storage provides the credential store used by the session core.
//
// A Vault has two tiers with the same Store shape. The secure tier holds
// access and refresh tokens plus the secrets of an in-progress OIDC flow; it
// is encrypted with AES-256-GCM by SealedStore. The cache tier holds
// non-sensitive data such as the last fetched profile.
//
// Backends:
//
//   - MemoryStore: process memory, used by tests and ephemeral sessions
//   - FileStore: one 0600 JSON file per key under a 0700 directory
//   - bbolt.Store (subpackage): a single bbolt database, one bucket per tier
//
// Writes propagate backend errors. Callers treat read errors as "absent";
// ErrNotFound distinguishes a missing key from a broken backend.
//
// Watcher reports changes made to a file vault by another process, so a
// long-running command notices a login or logout performed elsewhere.
package storage
