package formatting

import (
	"bytes"
	"encoding/json"
	"fmt"

	"archivist/internal/events"
)

// JSONFormatter provides structured JSON output formatting
type JSONFormatter struct {
	options Options
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(options Options) Formatter {
	return &JSONFormatter{options: options}
}

// FormatRecord writes rec as one indented object, keys in record order.
func (f *JSONFormatter) FormatRecord(rec Record) error {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, field := range rec {
		key, err := json.Marshal(field.Key)
		if err != nil {
			return err
		}
		value, err := json.MarshalIndent(field.Value, "  ", "  ")
		if err != nil {
			return fmt.Errorf("failed to format %s: %w", field.Key, err)
		}
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(value)
	}
	if len(rec) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	_, err := f.options.Writer.Write(buf.Bytes())
	return err
}

// FormatEvent writes one compact JSON object per line.
func (f *JSONFormatter) FormatEvent(ev events.Event) error {
	line, err := json.Marshal(eventDocument(ev))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f.options.Writer, "%s\n", line)
	return err
}

// eventView is the serialized shape of an event.
type eventView struct {
	Type      events.Type `json:"type" yaml:"type"`
	Timestamp string      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Data      any         `json:"data,omitempty" yaml:"data,omitempty"`
}

func eventDocument(ev events.Event) eventView {
	view := eventView{Type: ev.Type, Timestamp: ev.Timestamp}
	if len(ev.Data) > 0 {
		var data any
		if err := json.Unmarshal(ev.Data, &data); err == nil {
			view.Data = data
		}
	}
	return view
}
