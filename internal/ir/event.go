package ir

import (
	"encoding/json"
	"time"
)

// EventType is the tag of an event in the log.
type EventType string

const (
	TypeBabyCreated   EventType = "baby.created"
	TypeBabyUpdated   EventType = "baby.updated"
	TypeSleepStarted  EventType = "sleep.started"
	TypeSleepEnded    EventType = "sleep.ended"
	TypeSleepUpdated  EventType = "sleep.updated"
	TypeSleepPaused   EventType = "sleep.paused"
	TypeSleepResumed  EventType = "sleep.resumed"
	TypeSleepTagged   EventType = "sleep.tagged"
	TypeSleepDeleted  EventType = "sleep.deleted"
	TypeSleepManual   EventType = "sleep.manual"
	TypeDiaperLogged  EventType = "diaper.logged"
	TypeDiaperDeleted EventType = "diaper.deleted"
	TypeDayStarted    EventType = "day.started"
)

// KnownTypes lists the vocabulary in a stable order.
var KnownTypes = []EventType{
	TypeBabyCreated,
	TypeBabyUpdated,
	TypeSleepStarted,
	TypeSleepEnded,
	TypeSleepUpdated,
	TypeSleepPaused,
	TypeSleepResumed,
	TypeSleepTagged,
	TypeSleepDeleted,
	TypeSleepManual,
	TypeDiaperLogged,
	TypeDiaperDeleted,
	TypeDayStarted,
}

// IsKnown reports whether t is part of the vocabulary.
func (t EventType) IsKnown() bool {
	_, ok := decoders[t]
	return ok
}

// Event is one immutable record of the log.
//
// Payload holds the canonical JSON as stored; Body is the decoded variant.
type Event struct {
	Seq        int64           `json:"seq"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ClientID   string          `json:"clientId,omitempty"`
	ClientSeq  *int64          `json:"clientSeq,omitempty"`
	AppendedAt time.Time       `json:"appendedAt"`

	Body Payload `json:"-"`
}

// NewEvent is a mutation submitted for appending. Seq and AppendedAt are
// assigned by the writer.
type NewEvent struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	ClientID  string          `json:"clientId,omitempty"`
	ClientSeq *int64          `json:"clientSeq,omitempty"`
}

// HasIdempotencyKey reports whether the event carries (clientId, clientSeq).
func (e NewEvent) HasIdempotencyKey() bool {
	return e.ClientID != "" && e.ClientSeq != nil
}
