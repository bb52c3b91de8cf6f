package engine

import (
	"errors"
	"fmt"
)

// Code categorizes coordinator errors. The transport maps each code to a
// status.
type Code string

const (
	// CodeInvalidEvent: a payload failed the schema, or names a subject
	// that does not exist.
	CodeInvalidEvent Code = "INVALID_EVENT"

	// CodeSessionActive: sleep.started while the subject is already asleep.
	CodeSessionActive Code = "SESSION_ACTIVE"

	// CodeDurability: the log write or projection failed and was rolled back.
	CodeDurability Code = "DURABILITY"

	// CodeStopped: the coordinator is no longer accepting work.
	CodeStopped Code = "ENGINE_STOPPED"
)

// Error is a rejected job. Nothing of the job was applied.
type Error struct {
	Code    Code
	Message string

	// Index is the offending event's position in the batch, or -1.
	Index int

	// Type is the offending event's type, when known.
	Type string

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s (event %d", msg, e.Index)
		if e.Type != "" {
			msg += ", type=" + e.Type
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func invalidEvent(index int, typ string, err error) *Error {
	return &Error{Code: CodeInvalidEvent, Message: "invalid event", Index: index, Type: typ, Err: err}
}

func sessionActive(index int, sleepID int64) *Error {
	return &Error{
		Code:    CodeSessionActive,
		Message: fmt.Sprintf("sleep %d is still active", sleepID),
		Index:   index,
		Type:    "sleep.started",
	}
}

func durability(err error) *Error {
	return &Error{Code: CodeDurability, Message: "write rolled back", Index: -1, Err: err}
}

var errStopped = &Error{Code: CodeStopped, Message: "coordinator stopped", Index: -1}

func codeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsInvalid reports a schema or reference failure.
func IsInvalid(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeInvalidEvent
}

// IsConflict reports a start while a session is active.
func IsConflict(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeSessionActive
}

// IsDurability reports a rolled-back write.
func IsDurability(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeDurability
}

// IsStopped reports a coordinator that has shut down.
func IsStopped(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeStopped
}
