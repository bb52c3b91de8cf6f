package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
	"github.com/roach88/napper/internal/projection"
	"github.com/roach88/napper/internal/snapshot"
	"github.com/roach88/napper/internal/store"
)

// Broadcaster receives the state after every committed write.
type Broadcaster interface {
	Broadcast(fanout.Message)
}

// Result is what a committed job produced.
type Result struct {
	// Events are the batch's events as stored, in batch order. A retried
	// event comes back as the copy already in the log.
	Events []ir.Event `json:"events"`

	// Seq is the last seq in the log after the job.
	Seq int64 `json:"seq"`

	State snapshot.Snapshot `json:"state"`
}

// Engine is the single writer of the log.
//
// Submit and Rebuild may be called from any goroutine; they queue a job and
// wait for it. Run must be called from exactly one goroutine, and every write
// to the store happens there.
type Engine struct {
	store     *store.Store
	clock     *Clock
	queue     *jobQueue
	validator *ir.Validator
	assembler *snapshot.Assembler
	hub       Broadcaster
	batchIDs  BatchIDGenerator
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithBroadcaster pushes every committed state to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.hub = b }
}

// WithBatchIDs replaces the UUIDv7 batch ids, for deterministic logs.
func WithBatchIDs(g BatchIDGenerator) Option {
	return func(e *Engine) { e.batchIDs = g }
}

// WithNow sets the wall clock used for appendedAt.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over s. The logical clock resumes after the last seq
// already in the log.
func New(ctx context.Context, s *store.Store, v *ir.Validator, a *snapshot.Assembler, opts ...Option) (*Engine, error) {
	last, err := s.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume clock: %w", err)
	}

	e := &Engine{
		store:     s,
		clock:     NewClockAt(last),
		queue:     newJobQueue(),
		validator: v,
		assembler: a,
		batchIDs:  UUIDv7Generator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Submit appends events as one atomic batch and waits for the result.
// origin tags the broadcast; when empty the first event's clientId is used.
//
// If ctx ends first Submit returns ctx.Err(), but a job already taken by
// the writer still runs to completion.
func (e *Engine) Submit(ctx context.Context, origin string, events []ir.NewEvent) (Result, error) {
	if len(events) == 0 {
		return Result{}, &Error{Code: CodeInvalidEvent, Message: "empty batch", Index: -1}
	}
	if origin == "" {
		origin = events[0].ClientID
	}

	j := newJob(jobAppend)
	j.origin = origin
	j.events = events
	return e.wait(ctx, j)
}

// Rebuild replays the whole log into fresh derived tables, then broadcasts
// the resulting state.
func (e *Engine) Rebuild(ctx context.Context) (Result, error) {
	return e.wait(ctx, newJob(jobRebuild))
}

func (e *Engine) wait(ctx context.Context, j job) (Result, error) {
	j.batch = e.batchIDs.Generate()
	if !e.queue.Enqueue(j) {
		return Result{}, errStopped
	}
	select {
	case out := <-j.reply:
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// State assembles the current snapshot in a read-only transaction.
func (e *Engine) State(ctx context.Context) (snapshot.Snapshot, int64, error) {
	var (
		snap snapshot.Snapshot
		seq  int64
	)
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		if seq, err = tx.LastSeq(ctx); err != nil {
			return err
		}
		snap, err = e.assembler.Assemble(ctx, tx)
		return err
	})
	if err != nil {
		return snapshot.Snapshot{}, 0, fmt.Errorf("read state: %w", err)
	}
	return snap, seq, nil
}

// QueueLen is the number of jobs waiting for the writer.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run is the writer loop. It blocks until ctx is cancelled or Stop is
// called, and fails any job still queued at that point.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "seq", e.clock.Current())

	for {
		if j, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.drain()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Stop; an empty queue then
			// means there is nothing left to do.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run finishes the job in hand and returns.
func (e *Engine) Stop() {
	e.drain()
}

func (e *Engine) drain() {
	for _, j := range e.queue.Close() {
		j.reply <- outcome{err: errStopped}
	}
}

func (e *Engine) process(ctx context.Context, j job) {
	var (
		res Result
		err error
	)
	switch j.kind {
	case jobAppend:
		res, err = e.append(ctx, j)
	case jobRebuild:
		res, err = e.rebuild(ctx, j)
	default:
		err = fmt.Errorf("unknown job kind %d", j.kind)
	}
	if err != nil {
		logJobError(j, err)
	}
	j.reply <- outcome{res: res, err: err}
}

// append validates, appends and projects the batch in one transaction. On
// any failure the transaction rolls back and the clock is rewound.
func (e *Engine) append(ctx context.Context, j job) (Result, error) {
	start := e.clock.Current()
	stored := make([]ir.Event, 0, len(j.events))
	inserted := 0

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		for i, ne := range j.events {
			if ne.HasIdempotencyKey() {
				prev, err := tx.EventByClientKey(ctx, ne.ClientID, *ne.ClientSeq)
				if err == nil {
					stored = append(stored, prev)
					continue
				}
				if !errors.Is(err, store.ErrNotFound) {
					return durability(err)
				}
			}

			ev, err := e.prepare(ctx, tx, i, ne)
			if err != nil {
				return err
			}
			ev.Seq = e.clock.Next()

			got, ok, err := tx.AppendEvent(ctx, ev)
			if err != nil {
				return durability(err)
			}
			if !ok {
				// A duplicate key slipped past the lookup above.
				e.clock.Rewind(ev.Seq - 1)
				stored = append(stored, got)
				continue
			}
			if err := projection.Apply(ctx, tx, got); err != nil {
				return durability(err)
			}
			stored = append(stored, got)
			inserted++
		}
		return nil
	})
	if err != nil {
		e.clock.Rewind(start)
		var ee *Error
		if !errors.As(err, &ee) {
			err = durability(err)
		}
		return Result{}, err
	}

	slog.Debug("batch committed",
		"batch", j.batch,
		"origin", j.origin,
		"events", len(stored),
		"inserted", inserted,
		"seq", e.clock.Current(),
	)

	res, err := e.publish(ctx, j.origin, inserted > 0)
	if err != nil {
		return Result{}, err
	}
	res.Events = stored
	return res, nil
}

// prepare validates one event against the schema and the current state
// (which includes earlier events of the same batch). The body is decoded
// from the canonical bytes that are stored, so projecting it now and
// replaying it later see the same values.
func (e *Engine) prepare(ctx context.Context, tx *store.Tx, index int, ne ir.NewEvent) (ir.Event, error) {
	typ := string(ne.Type)
	raw := ne.Payload
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	canonical, err := ir.Canonicalize(raw)
	if err != nil {
		return ir.Event{}, invalidEvent(index, typ, err)
	}

	body, err := e.validator.Validate(ne.Type, canonical)
	if err != nil {
		return ir.Event{}, invalidEvent(index, typ, err)
	}

	if err := checkReferences(ctx, tx, index, body); err != nil {
		return ir.Event{}, err
	}

	return ir.Event{
		Type:      ne.Type,
		Payload:   canonical,
		ClientID:  ne.ClientID,
		ClientSeq: ne.ClientSeq,
		// The log keeps milliseconds.
		AppendedAt: e.now().UTC().Truncate(time.Millisecond),
		Body:       body,
	}, nil
}

// checkReferences rejects events that need a subject when none exists, and
// a start while a session is already running.
func checkReferences(ctx context.Context, tx *store.Tx, index int, body ir.Payload) error {
	var babyID int64
	switch p := body.(type) {
	case ir.SleepStarted:
		babyID = p.BabyID
	case ir.SleepManual:
		babyID = p.BabyID
	case ir.DiaperLogged:
		babyID = p.BabyID
	case ir.DayStarted:
		babyID = p.BabyID
	default:
		return nil
	}

	typ := string(body.EventType())
	var (
		baby model.Baby
		err  error
	)
	if babyID != 0 {
		baby, err = tx.BabyByID(ctx, babyID)
	} else {
		baby, err = tx.LatestBaby(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		return invalidEvent(index, typ, fmt.Errorf("no subject to attach to"))
	}
	if err != nil {
		return durability(err)
	}

	if _, ok := body.(ir.SleepStarted); !ok {
		return nil
	}
	active, err := tx.ActiveSleep(ctx, baby.ID)
	switch {
	case err == nil:
		return sessionActive(index, active.ID)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return durability(err)
	}
}

func (e *Engine) rebuild(ctx context.Context, j job) (Result, error) {
	if err := projection.RebuildAll(ctx, e.store); err != nil {
		return Result{}, durability(err)
	}
	return e.publish(ctx, j.origin, true)
}

// publish assembles the committed state and, when something changed,
// broadcasts it.
func (e *Engine) publish(ctx context.Context, origin string, changed bool) (Result, error) {
	snap, seq, err := e.State(ctx)
	if err != nil {
		// The write is durable; only the read failed.
		return Result{}, err
	}
	if changed && e.hub != nil {
		e.hub.Broadcast(fanout.Message{Seq: seq, Origin: origin, State: snap})
	}
	return Result{Seq: seq, State: snap}, nil
}

func logJobError(j job, err error) {
	attrs := []any{"batch", j.batch, "origin", j.origin, "events", len(j.events), "error", err}
	if code, ok := codeOf(err); ok {
		attrs = append(attrs, "code", string(code))
		if code != CodeDurability {
			slog.Info("batch rejected", attrs...)
			return
		}
	}
	slog.Error("job failed", attrs...)
}
