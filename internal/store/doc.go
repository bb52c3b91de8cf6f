// Package store provides SQLite-backed durable storage for the napper event
// log and the entity tables projected from it.
//
// The store holds:
//   - events: the append-only log, the only source of truth
//   - baby, sleep_log, sleep_pauses, diaper_log, day_start: derived tables,
//     truncated and replayed by a rebuild
//
// # Critical Patterns
//
// Logical ordering:
//   - The log is ordered by seq, assigned by the single writer. appended_at is
//     informational and never used for ordering.
//   - Queries over the log use ORDER BY seq ASC.
//
// Idempotent delivery:
//   - UNIQUE(client_id, client_seq) on events. A retried event with the same
//     key is not appended again; the stored event is returned instead.
//
// Append-only:
//   - Triggers abort any UPDATE or DELETE on events.
//
// # Database Configuration
//
//   - WAL mode: readers see a consistent snapshot while the writer commits
//   - synchronous=FULL: a committed append survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Timestamps are stored as fixed-width UTC text so that lexical order matches
// chronological order.
package store
