package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"archivist/internal/events"
	"archivist/internal/formatting"
	"archivist/internal/session"
	"archivist/pkg/logging"

	"github.com/spf13/cobra"
)

// Events-specific flags
var (
	eventsTypes  []string
	eventsOutput string
)

// eventsCmd represents the events command group
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow archive activity",
}

// eventsWatchCmd represents the events watch command
var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream document, tag and sharing events",
	Long: `Stream events from the archive until interrupted.

The stream reconnects on its own after a dropped connection, and stops
when the session ends, including a logout from another archivist process.

Examples:
  archivist events watch
  archivist events watch --type document.created --type share.created
  archivist events watch -o json | jq .data`,
	RunE: runEventsWatch,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)

	eventsWatchCmd.Flags().StringSliceVarP(&eventsTypes, "type", "t", nil, "Event types to show (default all)")
	eventsWatchCmd.Flags().StringVarP(&eventsOutput, "output", "o", "table", "Output format: table, json or yaml")
}

func runEventsWatch(cmd *cobra.Command, args []string) error {
	format, err := formatting.ParseFormat(eventsOutput)
	if err != nil {
		return err
	}

	application, err := openApplication(cmd, appOptions{restore: true})
	if err != nil {
		return err
	}
	defer application.Close()

	if !application.Session.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	stopWatch := application.Session.Watch(func(s session.State) {
		if s == session.StateUnauthenticated {
			cancel(session.ErrNotAuthenticated)
		}
	})
	defer stopWatch()

	formatter := formatting.New(formatting.Options{Format: format, Writer: cmd.OutOrStdout()})
	var mu sync.Mutex
	emit := func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		if err := formatter.FormatEvent(ev); err != nil {
			logging.Warn("CLI", "Failed to print %s event: %v", ev.Type, err)
		}
	}

	for _, t := range watchedTypes() {
		unsubscribe := application.Events.Subscribe(t, emit)
		defer unsubscribe()
	}

	if err := application.Watch(ctx); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching events on %s (Ctrl+C to stop)\n", application.Settings.Server.URL)
	}

	<-ctx.Done()
	if cause := context.Cause(ctx); errors.Is(cause, session.ErrNotAuthenticated) {
		return cause
	}
	return nil
}

func watchedTypes() []events.Type {
	if len(eventsTypes) == 0 {
		return events.KnownTypes()
	}
	types := make([]events.Type, 0, len(eventsTypes))
	for _, t := range eventsTypes {
		types = append(types, events.Type(t))
	}
	return types
}
