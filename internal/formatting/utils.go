package formatting

import (
	"encoding/json"
	"fmt"
	"strings"

	"archivist/internal/events"
)

// PrettyJSON formats any value as indented JSON for human-readable display.
// It handles marshaling errors gracefully by falling back to fmt.Sprintf.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Summarize describes an event payload in one line.
func Summarize(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case events.DocumentPayload:
		name := p.Title
		if name == "" {
			name = p.Filename
		}
		parts := []string{fmt.Sprintf("%q", name), "id=" + p.DocumentID}
		if p.Status != "" {
			parts = append(parts, "status="+p.Status)
		}
		return strings.Join(parts, " ")
	case events.TagPayload:
		s := fmt.Sprintf("%q id=%s", p.Name, p.TagID)
		if p.Color != "" {
			s += " color=" + p.Color
		}
		return s
	case events.ShareNotification:
		s := fmt.Sprintf("%s shared %q", p.SharedBy, p.DocumentTitle)
		if p.Permission != "" {
			s += " (" + p.Permission + ")"
		}
		return s
	case events.ProcessingProgress:
		s := fmt.Sprintf("id=%s %.0f%%", p.DocumentID, p.Progress)
		if p.Stage != "" {
			s += " " + p.Stage
		}
		if p.Message != "" {
			s += ": " + p.Message
		}
		return s
	default:
		if len(ev.Data) == 0 {
			return ""
		}
		return string(ev.Data)
	}
}
