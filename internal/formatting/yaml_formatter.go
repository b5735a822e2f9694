package formatting

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"archivist/internal/events"
)

// YAMLFormatter provides YAML output formatting
type YAMLFormatter struct {
	options Options
}

// NewYAMLFormatter creates a new YAML formatter
func NewYAMLFormatter(options Options) Formatter {
	return &YAMLFormatter{options: options}
}

// FormatRecord writes rec as a mapping, keys in record order.
func (f *YAMLFormatter) FormatRecord(rec Record) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, field := range rec {
		var value yaml.Node
		if err := value.Encode(field.Value); err != nil {
			return fmt.Errorf("failed to format %s: %w", field.Key, err)
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: field.Key},
			&value)
	}
	return f.encode(doc)
}

// FormatEvent writes each event as its own YAML document.
func (f *YAMLFormatter) FormatEvent(ev events.Event) error {
	if _, err := fmt.Fprintln(f.options.Writer, "---"); err != nil {
		return err
	}
	return f.encode(eventDocument(ev))
}

func (f *YAMLFormatter) encode(v interface{}) error {
	enc := yaml.NewEncoder(f.options.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to format YAML: %w", err)
	}
	return enc.Close()
}
