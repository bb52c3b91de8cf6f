// Package engine is the coordinator: the only writer of the event log.
//
// Single-writer job loop:
// Every mutation is a job on one FIFO queue, consumed by the Run goroutine.
// A job is handled start to finish before the next one is taken:
//
//  1. validate each event (CUE schema, then subject and active-session checks
//     against the state inside the transaction)
//  2. stamp it with the next seq from the logical Clock
//  3. append it and project it, all events of the batch in one transaction
//  4. commit
//  5. assemble the snapshot and broadcast it
//
// A failure anywhere before commit rolls the whole batch back and rewinds the
// clock, so the log never has gaps and a rejected batch leaves no trace.
//
// Logical clock:
// Seq numbers order the log. Wall-clock appendedAt is informational and is
// never used for ordering.
//
// Idempotency:
// An event carrying (clientId, clientSeq) that is already in the log is not
// appended again; the stored copy is returned in its place. Events without a
// clientSeq are at-least-once.
package engine
