package config

import (
	"fmt"
	"net/url"
	"strings"

	"archivist/internal/storage"
	"archivist/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Fields returns the names of the invalid fields.
func (ve ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(ve))
	for _, err := range ve {
		fields = append(fields, err.Field)
	}
	return fields
}

// Validate checks every field and returns all problems at once.
func (c Config) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Server.URL) == "" {
		errs.Add("server.url", "is required")
	} else if u, err := url.Parse(c.Server.URL); err != nil {
		errs.Add("server.url", fmt.Sprintf("is not a valid URL: %v", err), c.Server.URL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("server.url", "must use http or https", c.Server.URL)
	} else if u.Host == "" {
		errs.Add("server.url", "must include a host", c.Server.URL)
	}

	switch c.Storage.Backend {
	case storage.BackendFile, storage.BackendBbolt:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs.Add("storage.path", fmt.Sprintf("is required for the %s backend", c.Storage.Backend))
		}
	case storage.BackendMemory:
	default:
		errs.Add("storage.backend", "must be one of file, bbolt, memory", c.Storage.Backend)
	}

	if c.OIDC.DiscoveryTimeout <= 0 {
		errs.Add("oidc.discoveryTimeout", "must be positive", c.OIDC.DiscoveryTimeout)
	}

	if c.Events.BaseDelay <= 0 {
		errs.Add("events.baseDelay", "must be positive", c.Events.BaseDelay)
	}
	if c.Events.MaxDelay < c.Events.BaseDelay {
		errs.Add("events.maxDelay", "must not be shorter than events.baseDelay", c.Events.MaxDelay)
	}
	if c.Events.MaxAttempts < 1 {
		errs.Add("events.maxAttempts", "must be at least 1", c.Events.MaxAttempts)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs.Add("log.level", err.Error(), c.Log.Level)
	}
	switch logging.Format(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs.Add("log.format", "must be text or json", c.Log.Format)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
