// Package formatting renders command output as a table, JSON or YAML.
//
// Commands build a Record, an ordered list of key/value fields, and hand it
// to the Formatter selected by --output. Event stream messages have their own
// method so long-running commands can print one event per line or document.
package formatting

import (
	"fmt"
	"io"
	"os"

	"archivist/internal/events"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// ParseFormat validates a --output value. The empty string means table.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want table, json or yaml)", s)
	}
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat

	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// Field is one key/value pair of a Record.
type Field struct {
	Key   string
	Value interface{}
}

// Record is an ordered set of fields.
type Record []Field

// Formatter renders records and events.
type Formatter interface {
	FormatRecord(rec Record) error
	FormatEvent(ev events.Event) error
}

// New creates the formatter for options.Format.
func New(options Options) Formatter {
	if options.Writer == nil {
		options.Writer = os.Stdout
	}
	switch options.Format {
	case FormatJSON:
		return NewJSONFormatter(options)
	case FormatYAML:
		return NewYAMLFormatter(options)
	default:
		return NewTableFormatter(options)
	}
}
