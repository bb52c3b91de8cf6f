package ir

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// Validator checks submitted payloads against the embedded CUE schema and
// the cross-field rules CUE cannot express.
//
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// Validate returns the decoded payload when raw is a valid body for t.
// Unknown tags are accepted and decode to Unknown.
func (v *Validator) Validate(t EventType, raw json.RawMessage) (Payload, error) {
	if t == "" {
		return nil, fmt.Errorf("event type is required")
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if !t.IsKnown() {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return Unknown{Type: t, Raw: raw}, nil
	}

	if err := v.checkShape(t, raw); err != nil {
		return nil, err
	}

	p, err := Decode(t, raw)
	if err != nil {
		return nil, err
	}
	if err := checkRules(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (v *Validator) checkShape(t EventType, raw json.RawMessage) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.schema.LookupPath(cue.MakePath(cue.Str(string(t))))
	if !def.Exists() {
		return fmt.Errorf("no schema for %s", t)
	}
	data := v.ctx.CompileBytes(raw, cue.Filename("payload.json"))
	if err := data.Err(); err != nil {
		return fmt.Errorf("parse %s payload: %w", t, err)
	}
	if err := def.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s payload: %w", t, err)
	}
	return nil
}

func checkRules(p Payload) error {
	switch body := p.(type) {
	case BabyCreated:
		return checkDate("birthdate", body.Birthdate)
	case BabyUpdated:
		if body.Birthdate != nil {
			return checkDate("birthdate", *body.Birthdate)
		}
	case SleepManual:
		if !body.EndTime.After(body.StartTime) {
			return fmt.Errorf("sleep.manual: endTime must be after startTime")
		}
	case SleepUpdated:
		if body.StartTime != nil && body.EndTime != nil && !body.EndTime.After(*body.StartTime) {
			return fmt.Errorf("sleep.updated: endTime must be after startTime")
		}
	case DayStarted:
		if body.Date != "" {
			return checkDate("date", body.Date)
		}
	}
	return nil
}

func checkDate(field, s string) error {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fmt.Errorf("%s: not a calendar date: %q", field, s)
	}
	return nil
}
