package formatting

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"archivist/internal/events"
	"archivist/pkg/strings"
)

const maxValueWidth = 100

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// NewTableFormatter creates a new table formatter
func NewTableFormatter(options Options) Formatter {
	return &TableFormatter{options: options}
}

// FormatRecord renders rec as a KEY/VALUE table.
func (f *TableFormatter) FormatRecord(rec Record) error {
	if len(rec) == 0 {
		_, err := fmt.Fprintf(f.options.Writer, "%s\n", text.FgYellow.Sprint("Nothing to show"))
		return err
	}

	t := f.createTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("KEY"),
		text.FgHiCyan.Sprint("VALUE"),
	})
	for _, field := range rec {
		t.AppendRow(table.Row{
			text.FgHiCyan.Sprint(field.Key),
			strings.Truncate(fmt.Sprintf("%v", field.Value), maxValueWidth),
		})
	}
	t.Render()
	return nil
}

// FormatEvent prints one line per event.
func (f *TableFormatter) FormatEvent(ev events.Event) error {
	stamp := ev.Timestamp
	if ts, err := ev.Time(); err == nil {
		stamp = ts.Local().Format("15:04:05")
	}
	_, err := fmt.Fprintf(f.options.Writer, "%s  %s  %s\n",
		text.FgHiBlack.Sprint(stamp),
		eventColor(ev.Type).Sprintf("%-20s", ev.Type),
		strings.Truncate(Summarize(ev), maxValueWidth))
	return err
}

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(f.options.Writer)
	t.SetStyle(table.StyleRounded)
	return t
}

func eventColor(t events.Type) text.Color {
	switch t {
	case events.TypeDocumentCreated, events.TypeTagCreated, events.TypeShareCreated:
		return text.FgGreen
	case events.TypeDocumentDeleted, events.TypeTagDeleted:
		return text.FgRed
	case events.TypeDocumentProcessing:
		return text.FgYellow
	default:
		return text.FgCyan
	}
}
