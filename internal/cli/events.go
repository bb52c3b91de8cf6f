package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Database string
	Since    int64
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log",
		Long: `Print the events of the log with seq greater than --since, in seq order.

Examples:
  napper events
  napper events --since 120 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the event log (overrides database.path)")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only events after this seq")

	return cmd
}

func runEvents(cmd *cobra.Command, opts *EventsOptions) error {
	if opts.Since < 0 {
		return NewExitError(ExitCommandError, "--since must be >= 0")
	}
	path, err := opts.databasePath(opts.Database)
	if err != nil {
		return err
	}
	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.ReadEvents(commandContext(cmd), opts.Since)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	if events == nil {
		events = []ir.Event{}
	}

	return opts.formatter(cmd).Emit(events, func(w io.Writer) {
		if len(events) == 0 {
			fmt.Fprintln(w, "No events.")
			return
		}
		for _, ev := range events {
			origin := ev.ClientID
			if origin == "" {
				origin = "-"
			}
			fmt.Fprintf(w, "%6d  %s  %-16s %-12s %s\n",
				ev.Seq, ev.AppendedAt.Format(time.RFC3339), ev.Type, origin, ev.Payload)
		}
	})
}

// databasePath resolves --db, falling back to the configured path.
func (o *RootOptions) databasePath(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, _, err := o.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Database.Path, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
