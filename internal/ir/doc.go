// Package ir defines the event vocabulary shared by every napper component.
//
// Events form a closed sum type: each tag in the vocabulary maps to exactly
// one strongly-typed payload struct implementing Payload. Tags that are not
// part of the vocabulary are only tolerated at the decode boundary, where they
// become Unknown so that logs written by newer clients still replay.
//
// This package imports nothing internal. All other internal packages import
// ir, which keeps it the foundational layer.
//
// Key constraints:
//   - Ordering uses the log sequence number (Seq), never wall-clock time
//   - Payloads are stored as canonical JSON (sorted keys, NFC strings)
//   - Entity ids are the Seq of the event that created the entity
package ir
