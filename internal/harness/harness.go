package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/napper/internal/engine"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/snapshot"
	"github.com/roach88/napper/internal/store"
	"github.com/roach88/napper/internal/testutil"
)

// Harness drives one scenario through a running coordinator.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.WallClock
	logger *slog.Logger
}

// Run executes a scenario against a fresh database in a temporary
// directory and returns the result. An error means the scenario could not
// be executed at all; failed expectations are reported in the result.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := validateScenario(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	dir, err := os.MkdirTemp("", "napper-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "napper.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	validator, err := ir.NewValidator()
	if err != nil {
		return nil, err
	}

	// One batch id per job, plus the closing rebuild.
	ids := make([]string, len(sc.Steps)+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("batch-%03d", i+1)
	}

	clock := testutil.NewWallClock(sc.start)
	eng, err := engine.New(ctx, st, validator,
		snapshot.NewAssembler(sc.location(), clock.Now),
		engine.WithNow(clock.Now),
		engine.WithBatchIDs(engine.NewFixedGenerator(ids...)),
	)
	if err != nil {
		return nil, fmt.Errorf("start coordinator: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	h := &Harness{
		store:  st,
		engine: eng,
		clock:  clock,
		logger: slog.Default().With(slog.String("scenario", sc.Name)),
	}

	result := NewResult()
	for i, step := range sc.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, sc.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep runs one step and checks its expect clause.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	if step.Advance > 0 {
		h.clock.Advance(step.Advance)
	}

	entry := TraceEntry{Step: n, Origin: step.Origin}
	var (
		res engine.Result
		err error
	)
	if step.Rebuild {
		entry.Op = "rebuild"
		res, err = h.engine.Rebuild(ctx)
	} else {
		entry.Op = "submit"
		events, encErr := step.newEvents()
		if encErr != nil {
			return encErr
		}
		for _, ev := range events {
			entry.Types = append(entry.Types, string(ev.Type))
		}
		res, err = h.engine.Submit(ctx, step.Origin, events)
	}

	var engErr *engine.Error
	switch {
	case err == nil:
		entry.Seq = res.Seq
	case errors.As(err, &engErr) && engErr.Code != engine.CodeDurability && engErr.Code != engine.CodeStopped:
		entry.Error = string(engErr.Code)
		if engErr.Index >= 0 {
			idx := engErr.Index
			entry.Index = &idx
		}
	default:
		return err
	}
	result.Trace = append(result.Trace, entry)
	h.logger.Debug("step done", slog.Int("step", n), slog.String("op", entry.Op), slog.Int64("seq", entry.Seq))

	checkExpect(n, step.Expect, entry, result)
	return nil
}

func checkExpect(n int, expect *ExpectClause, entry TraceEntry, result *Result) {
	if expect == nil {
		if entry.Error != "" {
			result.AddError(fmt.Sprintf("step %d: unexpected error %s", n, entry.Error))
		}
		return
	}

	if expect.Error != entry.Error {
		result.AddError(fmt.Sprintf("step %d: expected error %q, got %q", n, expect.Error, entry.Error))
		return
	}
	if expect.Index != nil && (entry.Index == nil || *entry.Index != *expect.Index) {
		got := "none"
		if entry.Index != nil {
			got = fmt.Sprint(*entry.Index)
		}
		result.AddError(fmt.Sprintf("step %d: expected index %d, got %s", n, *expect.Index, got))
	}
	if expect.Seq != 0 && expect.Seq != entry.Seq {
		result.AddError(fmt.Sprintf("step %d: expected seq %d, got %d", n, expect.Seq, entry.Seq))
	}
}

// collect reads the final log and state, then rebuilds once more and
// compares derived-table digests.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	var err error
	if result.Log, err = h.store.ReadEvents(ctx, 0); err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	if result.Log == nil {
		result.Log = []ir.Event{}
	}
	if result.State, result.Seq, err = h.engine.State(ctx); err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	before, err := h.derivedDigest(ctx)
	if err != nil {
		return err
	}
	if _, err := h.engine.Rebuild(ctx); err != nil {
		return fmt.Errorf("final rebuild: %w", err)
	}
	after, err := h.derivedDigest(ctx)
	if err != nil {
		return err
	}
	result.Deterministic = before == after
	if !result.Deterministic {
		result.AddError(fmt.Sprintf("rebuild changed derived state: %s -> %s", before, after))
	}
	return nil
}

func (h *Harness) derivedDigest(ctx context.Context) (string, error) {
	d, err := h.store.DumpDerived(ctx)
	if err != nil {
		return "", fmt.Errorf("dump derived: %w", err)
	}
	return ir.Digest(ir.DomainDerived, d)
}
