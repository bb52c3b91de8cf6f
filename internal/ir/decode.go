package ir

import (
	"encoding/json"
	"fmt"
)

type decodeFunc func(json.RawMessage) (Payload, error)

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var decoders = map[EventType]decodeFunc{
	TypeBabyCreated:   decodeInto[BabyCreated],
	TypeBabyUpdated:   decodeInto[BabyUpdated],
	TypeSleepStarted:  decodeInto[SleepStarted],
	TypeSleepEnded:    decodeInto[SleepEnded],
	TypeSleepUpdated:  decodeInto[SleepUpdated],
	TypeSleepPaused:   decodeInto[SleepPaused],
	TypeSleepResumed:  decodeInto[SleepResumed],
	TypeSleepTagged:   decodeInto[SleepTagged],
	TypeSleepDeleted:  decodeInto[SleepDeleted],
	TypeSleepManual:   decodeInto[SleepManual],
	TypeDiaperLogged:  decodeInto[DiaperLogged],
	TypeDiaperDeleted: decodeInto[DiaperDeleted],
	TypeDayStarted:    decodeInto[DayStarted],
}

// Decode turns a stored payload into its typed variant. Unrecognized tags
// decode to Unknown without error.
func Decode(t EventType, raw json.RawMessage) (Payload, error) {
	fn, ok := decoders[t]
	if !ok {
		return Unknown{Type: t, Raw: raw}, nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	p, err := fn(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// DecodeEvent fills e.Body from e.Type and e.Payload.
func DecodeEvent(e *Event) error {
	body, err := Decode(e.Type, e.Payload)
	if err != nil {
		return fmt.Errorf("event %d: %w", e.Seq, err)
	}
	e.Body = body
	return nil
}

// Encode marshals a typed payload to canonical JSON.
func Encode(p Payload) (json.RawMessage, error) {
	if u, ok := p.(Unknown); ok {
		return Canonicalize(u.Raw)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return Canonicalize(raw)
}

// MustEncode is like Encode but panics on error.
// Use only in tests or when p is known to marshal.
func MustEncode(p Payload) json.RawMessage {
	raw, err := Encode(p)
	if err != nil {
		panic(err)
	}
	return raw
}

// NewEventFor builds a NewEvent from a typed payload.
func NewEventFor(p Payload) (NewEvent, error) {
	raw, err := Encode(p)
	if err != nil {
		return NewEvent{}, err
	}
	return NewEvent{Type: p.EventType(), Payload: raw}, nil
}
