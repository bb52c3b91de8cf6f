package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/napper/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testDay = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func clock(h, m int) time.Time {
	return testDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

// diaperEvent builds a diaper.logged event with the given seq.
func diaperEvent(seq int64, kind string) ir.Event {
	body := ir.DiaperLogged{Time: clock(9, 0), Kind: kind}
	return ir.Event{
		Seq:        seq,
		Type:       body.EventType(),
		Payload:    ir.MustEncode(body),
		AppendedAt: clock(9, 1),
		Body:       body,
	}
}

func withClientKey(e ir.Event, clientID string, clientSeq int64) ir.Event {
	e.ClientID = clientID
	e.ClientSeq = &clientSeq
	return e
}

func appendTestEvents(t *testing.T, s *Store, events ...ir.Event) {
	t.Helper()
	ctx := context.Background()
	err := s.Update(ctx, func(tx *Tx) error {
		for _, e := range events {
			if _, _, err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
