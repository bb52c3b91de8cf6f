// Package syncagent is the device side of napper: an outbound queue that
// survives restarts, an optimistic dispatch path, a cached snapshot for
// offline reads and a push-channel listener with reconnect.
package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/napper/internal/config"
	"github.com/roach88/napper/internal/engine"
	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/snapshot"
)

// Status is the connection state shown to the user.
type Status string

const (
	StatusConnected     Status = "connected"
	StatusReconnecting  Status = "reconnecting"
	StatusOfflineQueued Status = "offline-queued"
)

// Options tunes an Agent.
type Options struct {
	// SuppressWindow: broadcasts arriving this soon after a local mutation
	// are cached without asking for a refresh.
	SuppressWindow time.Duration

	// OriginSuppression ignores broadcasts caused by this device.
	OriginSuppression bool

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Agent syncs one device with the server.
type Agent struct {
	local    *LocalStore
	api      *Client
	deviceID string
	opts     Options

	flushMu   sync.Mutex
	pending   atomic.Int64
	connected atomic.Bool
	lastLocal atomic.Int64
}

// DispatchResult reports where a dispatched event ended up.
type DispatchResult struct {
	Pending Pending

	// Queued is true when the server was unreachable and the event waits
	// in the local queue.
	Queued bool

	// Result is the server's answer when the event was committed.
	Result *engine.Result
}

// New creates an agent over an open local store.
func New(ctx context.Context, local *LocalStore, api *Client, opts Options) (*Agent, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * opts.ReconnectMin
	}

	id, err := local.DeviceID(ctx)
	if err != nil {
		return nil, err
	}
	n, err := local.PendingCount(ctx)
	if err != nil {
		return nil, err
	}

	a := &Agent{local: local, api: api, deviceID: id, opts: opts}
	a.pending.Store(int64(n))
	return a, nil
}

// Open builds an agent from configuration. Close releases the local store.
func Open(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) (*Agent, error) {
	local, err := OpenLocal(cfg.DataPath)
	if err != nil {
		return nil, err
	}
	api, err := NewClient(cfg.ServerURL, cfg.RequestTimeout)
	if err != nil {
		local.Close()
		return nil, err
	}
	a, err := New(ctx, local, api, Options{
		SuppressWindow:    cfg.SuppressWindow,
		OriginSuppression: cfg.OriginSuppression,
		ReconnectMin:      cfg.ReconnectMin,
		ReconnectMax:      cfg.ReconnectMax,
		Logger:            logger,
	})
	if err != nil {
		local.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the local store.
func (a *Agent) Close() error {
	return a.local.Close()
}

// DeviceID is the clientId this device tags its events with.
func (a *Agent) DeviceID() string {
	return a.deviceID
}

// Enqueue stores an event for a later Flush.
func (a *Agent) Enqueue(ctx context.Context, typ ir.EventType, payload json.RawMessage) (Pending, error) {
	p, err := a.local.Enqueue(ctx, typ, payload, a.opts.Now())
	if err != nil {
		return Pending{}, err
	}
	a.pending.Add(1)
	return p, nil
}

// Pending lists the queue.
func (a *Agent) Pending(ctx context.Context) ([]Pending, error) {
	return a.local.Pending(ctx)
}

// Flush sends the whole queue as one ordered batch. On success the flushed
// rows are removed and the returned state is cached; on any failure the
// queue is left as it was. A nil result with a nil error means there was
// nothing to send.
func (a *Agent) Flush(ctx context.Context) (*engine.Result, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	rows, err := a.local.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	events := make([]ir.NewEvent, len(rows))
	seqs := make([]int64, len(rows))
	for i, r := range rows {
		seq := r.LocalSeq
		events[i] = ir.NewEvent{Type: r.Type, Payload: r.Payload, ClientID: a.deviceID, ClientSeq: &seq}
		seqs[i] = seq
	}

	res, err := a.api.PostEvents(ctx, a.deviceID, events)
	if err != nil {
		var re *RejectedError
		if errors.As(err, &re) && re.Detail.Index != nil && *re.Detail.Index >= 0 && *re.Detail.Index < len(rows) {
			re.LocalSeq = rows[*re.Detail.Index].LocalSeq
		}
		return nil, err
	}

	if err := a.local.Remove(ctx, seqs); err != nil {
		return nil, err
	}
	a.pending.Add(-int64(len(seqs)))
	if err := a.local.SaveState(ctx, res.State, res.Seq, a.opts.Now()); err != nil {
		return nil, err
	}
	a.opts.Logger.Debug("queue flushed", slog.Int("events", len(seqs)), slog.Int64("seq", res.Seq))
	return &res, nil
}

// Discard drops one queued row, for a batch the server rejects for good.
func (a *Agent) Discard(ctx context.Context, localSeq int64) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	if err := a.local.Remove(ctx, []int64{localSeq}); err != nil {
		return err
	}
	n, err := a.local.PendingCount(ctx)
	if err != nil {
		return err
	}
	a.pending.Store(int64(n))
	return nil
}

// Dispatch is the optimistic write path. The event is queued behind any
// older queued events and the queue is flushed at once. Connectivity never
// fails the call: an unreachable server leaves the event queued. A
// permanent rejection of this very event removes it again and is returned.
func (a *Agent) Dispatch(ctx context.Context, typ ir.EventType, payload json.RawMessage) (DispatchResult, error) {
	a.MarkLocalMutation()

	p, err := a.Enqueue(ctx, typ, payload)
	if err != nil {
		return DispatchResult{}, err
	}

	res, err := a.Flush(ctx)
	switch {
	case err == nil:
		return DispatchResult{Pending: p, Result: res}, nil
	case IsOffline(err):
		a.opts.Logger.Info("offline, event queued", slog.String("type", string(typ)), slog.Int64("local_seq", p.LocalSeq))
		return DispatchResult{Pending: p, Queued: true}, nil
	}

	var re *RejectedError
	if errors.As(err, &re) && re.LocalSeq == p.LocalSeq {
		if derr := a.Discard(ctx, p.LocalSeq); derr != nil {
			return DispatchResult{}, errors.Join(err, derr)
		}
		return DispatchResult{}, err
	}
	// An older queued event blocks the batch; this one stays behind it.
	a.opts.Logger.Warn("queue blocked by rejected event", slog.Any("error", err))
	return DispatchResult{Pending: p, Queued: true}, nil
}

// MarkLocalMutation opens the suppression window.
func (a *Agent) MarkLocalMutation() {
	a.lastLocal.Store(a.opts.Now().UnixNano())
}

// HandleBroadcast caches m and reports whether the UI should refresh.
func (a *Agent) HandleBroadcast(ctx context.Context, m fanout.Message) (bool, error) {
	if err := a.local.SaveState(ctx, m.State, m.Seq, a.opts.Now()); err != nil {
		return false, err
	}
	if a.opts.OriginSuppression && m.Origin != "" && m.Origin == a.deviceID {
		return false, nil
	}
	if last := a.lastLocal.Load(); last != 0 {
		if a.opts.Now().Sub(time.Unix(0, last)) < a.opts.SuppressWindow {
			return false, nil
		}
	}
	return true, nil
}

// CachedState returns the last snapshot this device saw, for offline reads.
// With nothing cached it returns the empty snapshot.
func (a *Agent) CachedState(ctx context.Context) (snapshot.Snapshot, int64, error) {
	snap, seq, ok, err := a.local.CachedState(ctx)
	if err != nil {
		return snapshot.Snapshot{}, 0, err
	}
	if !ok {
		return snapshot.Empty(), 0, nil
	}
	return snap, seq, nil
}

// Refresh fetches the server's state into the cache.
func (a *Agent) Refresh(ctx context.Context) (snapshot.Snapshot, int64, error) {
	snap, seq, err := a.api.State(ctx)
	if err != nil {
		return snapshot.Snapshot{}, 0, err
	}
	if err := a.local.SaveState(ctx, snap, seq, a.opts.Now()); err != nil {
		return snapshot.Snapshot{}, 0, err
	}
	return snap, seq, nil
}

// Status reports the connection state. Only Watch marks the agent
// connected.
func (a *Agent) Status() Status {
	switch {
	case a.connected.Load():
		return StatusConnected
	case a.pending.Load() > 0:
		return StatusOfflineQueued
	default:
		return StatusReconnecting
	}
}

// PendingCount is the number of queued events.
func (a *Agent) PendingCount() int {
	return int(a.pending.Load())
}

// Watch listens on the push channel until ctx ends, reconnecting with
// exponential back-off. Every (re)connect flushes the queue first. onState
// is called for broadcasts that are not suppressed.
func (a *Agent) Watch(ctx context.Context, onState func(fanout.Message)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.ReconnectMin
	bo.MaxInterval = a.opts.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		err := a.watchOnce(ctx, onState, bo.Reset)
		a.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		a.opts.Logger.Info("stream disconnected",
			slog.Any("error", err),
			slog.Duration("retry_in", wait),
			slog.String("status", string(a.Status())),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (a *Agent) watchOnce(ctx context.Context, onState func(fanout.Message), connected func()) error {
	stream, err := a.api.OpenStream(ctx, a.deviceID)
	if err != nil {
		return err
	}
	defer stream.Close()

	a.connected.Store(true)
	connected()
	a.opts.Logger.Info("stream connected", slog.String("device_id", a.deviceID))

	if _, err := a.Flush(ctx); err != nil {
		a.opts.Logger.Warn("flush on connect failed", slog.Any("error", err))
	}

	for {
		m, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("stream closed by server")
			}
			return err
		}
		refresh, err := a.HandleBroadcast(ctx, m)
		if err != nil {
			return err
		}
		if refresh && onState != nil {
			onState(m)
		}
	}
}
