package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/snapshot"
	"github.com/roach88/napper/internal/syncagent"
)

// ClientOptions holds flags shared by the client subcommands.
type ClientOptions struct {
	*RootOptions
	ServerURL string
	DataPath  string
}

// NewClientCommand creates the client command group.
func NewClientCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Act as a device: queue, send and receive events",
		Long: `Run the device side of sync.

Events are written to a local queue first and sent in order. When the
server is unreachable they stay queued and go out on the next flush or
reconnect.`,
	}

	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "", "server base URL (overrides client.server_url)")
	cmd.PersistentFlags().StringVar(&opts.DataPath, "data", "", "local database (overrides client.data_path)")

	cmd.AddCommand(
		newClientEnqueueCommand(opts),
		newClientFlushCommand(opts),
		newClientStatusCommand(opts),
		newClientStateCommand(opts),
		newClientWatchCommand(opts),
		newClientDiscardCommand(opts),
	)
	return cmd
}

func (o *ClientOptions) openAgent(cmd *cobra.Command) (*syncagent.Agent, error) {
	cfg, logger, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if o.ServerURL != "" {
		cfg.Client.ServerURL = o.ServerURL
	}
	if o.DataPath != "" {
		cfg.Client.DataPath = o.DataPath
	}
	a, err := syncagent.Open(commandContext(cmd), cfg.Client, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	return a, nil
}

// clientError maps agent failures to exit codes: a rejected event is a
// failure, anything else is a command error.
func clientError(message string, err error) error {
	if syncagent.IsRejected(err) {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}

// EnqueueResult is the output of client enqueue.
type EnqueueResult struct {
	LocalSeq int64  `json:"local_seq"`
	Type     string `json:"type"`
	Queued   bool   `json:"queued"`
	Seq      int64  `json:"seq,omitempty"`
	Pending  int    `json:"pending"`
}

func newClientEnqueueCommand(opts *ClientOptions) *cobra.Command {
	var queueOnly bool

	cmd := &cobra.Command{
		Use:   "enqueue <type> [payload-json]",
		Short: "Record an event and send it",
		Long: `Record an event in the local queue and flush the queue.

Examples:
  napper client enqueue baby.created '{"name":"Ada","birthdate":"2026-06-01"}'
  napper client enqueue diaper.logged '{"time":"2026-10-15T08:00:00Z","type":"wet"}'
  napper client enqueue sleep.started '{"startTime":"2026-10-15T09:30:00Z"}' --queue-only`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := ir.EventType(args[0])
			if !typ.IsKnown() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown event type %q", args[0]))
			}
			var payload json.RawMessage
			if len(args) == 2 {
				payload = json.RawMessage(args[1])
				if !json.Valid(payload) {
					return NewExitError(ExitCommandError, "payload is not valid JSON")
				}
			}

			a, err := opts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := commandContext(cmd)

			out := EnqueueResult{Type: string(typ)}
			if queueOnly {
				p, err := a.Enqueue(ctx, typ, payload)
				if err != nil {
					return clientError("enqueue failed", err)
				}
				out.LocalSeq, out.Queued = p.LocalSeq, true
			} else {
				res, err := a.Dispatch(ctx, typ, payload)
				if err != nil {
					return clientError("event rejected", err)
				}
				out.LocalSeq, out.Queued = res.Pending.LocalSeq, res.Queued
				if res.Result != nil {
					out.Seq = res.Result.Seq
				}
			}
			out.Pending = a.PendingCount()

			return opts.formatter(cmd).Emit(out, func(w io.Writer) {
				if out.Queued {
					fmt.Fprintf(w, "Queued %s as #%d (%d pending)\n", out.Type, out.LocalSeq, out.Pending)
					return
				}
				fmt.Fprintf(w, "Sent %s, log at seq %d\n", out.Type, out.Seq)
			})
		},
	}
	cmd.Flags().BoolVar(&queueOnly, "queue-only", false, "store locally without contacting the server")
	return cmd
}

// FlushResult is the output of client flush.
type FlushResult struct {
	Sent    int   `json:"sent"`
	Seq     int64 `json:"seq,omitempty"`
	Pending int   `json:"pending"`
}

func newClientFlushCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send queued events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			before := a.PendingCount()
			res, err := a.Flush(commandContext(cmd))
			if err != nil {
				return clientError("flush failed", err)
			}
			out := FlushResult{Sent: before - a.PendingCount(), Pending: a.PendingCount()}
			if res != nil {
				out.Seq = res.Seq
			}
			return opts.formatter(cmd).Emit(out, func(w io.Writer) {
				if out.Sent == 0 {
					fmt.Fprintln(w, "Nothing to send.")
					return
				}
				fmt.Fprintf(w, "Sent %d event(s), log at seq %d\n", out.Sent, out.Seq)
			})
		},
	}
}

// StatusResult is the output of client status.
type StatusResult struct {
	DeviceID  string              `json:"device_id"`
	Status    syncagent.Status    `json:"status"`
	CachedSeq int64               `json:"cached_seq"`
	Pending   []syncagent.Pending `json:"pending"`
}

func newClientStatusCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the device id, the queue and the cached seq",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := commandContext(cmd)

			pending, err := a.Pending(ctx)
			if err != nil {
				return clientError("read queue", err)
			}
			_, seq, err := a.CachedState(ctx)
			if err != nil {
				return clientError("read cached state", err)
			}
			out := StatusResult{DeviceID: a.DeviceID(), Status: a.Status(), CachedSeq: seq, Pending: pending}
			if out.Pending == nil {
				out.Pending = []syncagent.Pending{}
			}

			return opts.formatter(cmd).Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "Device:     %s\n", out.DeviceID)
				fmt.Fprintf(w, "Status:     %s\n", out.Status)
				fmt.Fprintf(w, "Cached seq: %d\n", out.CachedSeq)
				fmt.Fprintf(w, "Pending:    %d\n", len(out.Pending))
				for _, p := range out.Pending {
					fmt.Fprintf(w, "  #%d %s %s %s\n", p.LocalSeq, p.EnqueuedAt.Format(time.RFC3339), p.Type, p.Payload)
				}
			})
		},
	}
}

// StateResult is the output of client state.
type StateResult struct {
	Seq   int64             `json:"seq"`
	State snapshot.Snapshot `json:"state"`
}

func newClientStateCommand(opts *ClientOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the cached state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := commandContext(cmd)

			var out StateResult
			if refresh {
				out.State, out.Seq, err = a.Refresh(ctx)
			} else {
				out.State, out.Seq, err = a.CachedState(ctx)
			}
			if err != nil {
				return clientError("read state", err)
			}
			return opts.formatter(cmd).Emit(out, func(w io.Writer) { printState(w, out.Seq, out.State) })
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch from the server first")
	return cmd
}

func newClientWatchCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print every pushed state",
		Long: `Open the push channel and print each state the server broadcasts. The
queue is flushed on every (re)connect. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := opts.formatter(cmd)
			return a.Watch(ctx, func(m fanout.Message) {
				if out.Format == "json" {
					_ = json.NewEncoder(out.Writer).Encode(m)
					return
				}
				origin := m.Origin
				if origin == "" {
					origin = "server"
				}
				fmt.Fprintf(out.Writer, "-- from %s\n", origin)
				printState(out.Writer, m.Seq, m.State)
			})
		},
	}
}

func newClientDiscardCommand(opts *ClientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <local-seq>",
		Short: "Drop a queued event the server keeps rejecting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || seq < 1 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid local seq %q", args[0]))
			}
			a, err := opts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Discard(commandContext(cmd), seq); err != nil {
				return clientError("discard failed", err)
			}
			out := map[string]any{"discarded": seq, "pending": a.PendingCount()}
			return opts.formatter(cmd).Emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "Discarded #%d (%d pending)\n", seq, a.PendingCount())
			})
		},
	}
}

func printState(w io.Writer, seq int64, s snapshot.Snapshot) {
	fmt.Fprintf(w, "State at seq %d\n", seq)
	if s.Baby == nil {
		fmt.Fprintln(w, "  no baby yet")
		return
	}
	fmt.Fprintf(w, "  %s, %d month(s)\n", s.Baby.Name, s.AgeMonths)
	if s.TodayWakeUp != nil {
		fmt.Fprintf(w, "  woke up:   %s\n", s.TodayWakeUp.WakeTime.Format("15:04"))
	}
	if s.ActiveSleep != nil {
		fmt.Fprintf(w, "  sleeping:  %s since %s\n", s.ActiveSleep.Kind, s.ActiveSleep.StartTime.Format("15:04"))
	}
	fmt.Fprintf(w, "  sleeps today: %d  diapers today: %d\n", len(s.TodaySleeps), s.DiaperCount)
	if p := s.Prediction; p != nil {
		if p.NextNap != nil {
			fmt.Fprintf(w, "  next nap:  %s\n", p.NextNap.Format("15:04"))
		}
		fmt.Fprintf(w, "  bedtime:   %s\n", p.Bedtime.Format("15:04"))
	}
}
