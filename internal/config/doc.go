// Package config loads archivist's configuration.
//
// Configuration comes from three layers, later ones winning:
//
//  1. Built-in defaults (see GetDefaultConfig).
//  2. config.yaml in the configuration directory, ~/.config/archivist by
//     default or the directory given with --config-path.
//  3. Environment variables prefixed with ARCHIVIST_, for example
//     ARCHIVIST_SERVER_URL or ARCHIVIST_EVENTS_MAX_ATTEMPTS.
//
// The merged result is validated before it is returned; any problem is
// reported as a ConfigurationError naming the file and the offending fields.
//
// # File Format
//
//	server:
//	  url: https://archive.example.com
//	storage:
//	  backend: file        # file, bbolt or memory
//	  path: ~/.config/archivist/credentials
//	oidc:
//	  discoveryTimeout: 5s
//	events:
//	  baseDelay: 1s
//	  maxDelay: 30s
//	  maxAttempts: 5
//	log:
//	  level: info          # debug, info, warn, error
//	  format: text         # text or json
//
// A missing config.yaml is not an error; defaults and environment apply.
package config
