package testutil

import (
	"sync"
	"time"

	"github.com/roach88/napper/internal/ir"
)

// LogBuilder hands out consecutive seq numbers for typed payloads, the way
// the coordinator does, so tests can build a log without running one.
//
// The first call to Next() gets seq 1.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type LogBuilder struct {
	mu         sync.Mutex
	seq        int64
	appendedAt time.Time
}

// NewLogBuilder creates a builder that stamps every event with appendedAt.
func NewLogBuilder(appendedAt time.Time) *LogBuilder {
	return &LogBuilder{appendedAt: appendedAt}
}

// Next returns p as the next event of the log.
// Panics if p cannot be encoded.
func (b *LogBuilder) Next(p ir.Payload) ir.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return ir.Event{
		Seq:        b.seq,
		Type:       p.EventType(),
		Payload:    ir.MustEncode(p),
		AppendedAt: b.appendedAt,
		Body:       p,
	}
}

// Current returns the last seq handed out.
func (b *LogBuilder) Current() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// NewEvents turns typed payloads into submissions without client keys.
// Panics if a payload cannot be encoded.
func NewEvents(ps ...ir.Payload) []ir.NewEvent {
	out := make([]ir.NewEvent, 0, len(ps))
	for _, p := range ps {
		out = append(out, ir.NewEvent{Type: p.EventType(), Payload: ir.MustEncode(p)})
	}
	return out
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
