package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/roach88/napper/internal/ir"
)

type eventRow struct {
	Seq        int64   `db:"seq"`
	Type       string  `db:"type"`
	Payload    string  `db:"payload"`
	ClientID   *string `db:"client_id"`
	ClientSeq  *int64  `db:"client_seq"`
	AppendedAt string  `db:"appended_at"`
}

const eventColumns = "seq, type, payload, client_id, client_seq, appended_at"

func (r eventRow) event() (ir.Event, error) {
	appended, err := parseTime(r.AppendedAt)
	if err != nil {
		return ir.Event{}, err
	}
	e := ir.Event{
		Seq:        r.Seq,
		Type:       ir.EventType(r.Type),
		Payload:    json.RawMessage(r.Payload),
		ClientSeq:  r.ClientSeq,
		AppendedAt: appended,
	}
	if r.ClientID != nil {
		e.ClientID = *r.ClientID
	}
	if err := ir.DecodeEvent(&e); err != nil {
		return ir.Event{}, err
	}
	return e, nil
}

// AppendEvent inserts ev with its writer-assigned seq.
//
// Uses ON CONFLICT(client_id, client_seq) DO NOTHING for idempotent delivery:
// if an event with the same key already exists, nothing is written and the
// stored event is returned with inserted=false. Events without a client key
// are always appended.
func (t *Tx) AppendEvent(ctx context.Context, ev ir.Event) (stored ir.Event, inserted bool, err error) {
	var clientID *string
	if ev.ClientID != "" {
		clientID = &ev.ClientID
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (seq, type, payload, client_id, client_seq, appended_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, client_seq) DO NOTHING
	`,
		ev.Seq,
		string(ev.Type),
		string(ev.Payload),
		clientID,
		ev.ClientSeq,
		formatTime(ev.AppendedAt),
	)
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: rows affected: %w", err)
	}
	if n == 1 {
		return ev, true, nil
	}
	if ev.ClientSeq == nil {
		return ir.Event{}, false, fmt.Errorf("append event %d: nothing inserted", ev.Seq)
	}

	existing, err := t.EventByClientKey(ctx, ev.ClientID, *ev.ClientSeq)
	if err != nil {
		return ir.Event{}, false, fmt.Errorf("append event: load duplicate: %w", err)
	}
	return existing, false, nil
}

// EventByClientKey returns the event appended with (clientID, clientSeq).
func (t *Tx) EventByClientKey(ctx context.Context, clientID string, clientSeq int64) (ir.Event, error) {
	var row eventRow
	err := sqlscan.Get(ctx, t.tx, &row,
		`SELECT `+eventColumns+` FROM events WHERE client_id = ? AND client_seq = ?`,
		clientID, clientSeq)
	if sqlscan.NotFound(err) {
		return ir.Event{}, ErrNotFound
	}
	if err != nil {
		return ir.Event{}, fmt.Errorf("event by client key: %w", err)
	}
	return row.event()
}

// ReadEvents returns every event with seq > since in ascending seq order.
func (t *Tx) ReadEvents(ctx context.Context, since int64) ([]ir.Event, error) {
	var rows []eventRow
	err := sqlscan.Select(ctx, t.tx, &rows,
		`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq ASC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	events := make([]ir.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.event()
		if err != nil {
			return nil, fmt.Errorf("read events: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// LastSeq returns the highest seq in the log, or 0 for an empty log.
func (t *Tx) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// ReadEvents is a convenience wrapper that reads the log in its own
// read-only transaction.
func (s *Store) ReadEvents(ctx context.Context, since int64) ([]ir.Event, error) {
	var events []ir.Event
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		events, err = tx.ReadEvents(ctx, since)
		return err
	})
	return events, err
}

// LastSeq returns the highest seq in the log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		seq, err = tx.LastSeq(ctx)
		return err
	})
	return seq, err
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
