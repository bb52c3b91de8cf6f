package ir

import (
	"encoding/json"
	"time"
)

// Payload is implemented by every event variant. The set is closed: only
// types in this package implement it.
type Payload interface {
	EventType() EventType
	payload()
}

// SleepKind distinguishes naps from night sleep.
type SleepKind string

const (
	KindNap   SleepKind = "nap"
	KindNight SleepKind = "night"
)

// OrNap returns k, or KindNap when k is empty.
func (k SleepKind) OrNap() SleepKind {
	if k == "" {
		return KindNap
	}
	return k
}

type BabyCreated struct {
	Name      string `json:"name"`
	Birthdate string `json:"birthdate"`
}

type BabyUpdated struct {
	Name      *string `json:"name,omitempty"`
	Birthdate *string `json:"birthdate,omitempty"`
}

// SleepStarted opens a session. BabyID zero means the active subject.
type SleepStarted struct {
	BabyID    int64     `json:"babyId,omitempty"`
	StartTime time.Time `json:"startTime"`
	Kind      SleepKind `json:"type,omitempty"`
}

type SleepEnded struct {
	SleepID int64     `json:"sleepId"`
	EndTime time.Time `json:"endTime"`
}

// SleepUpdated patches the fields that are present.
type SleepUpdated struct {
	SleepID   int64      `json:"sleepId"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Kind      *SleepKind `json:"type,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
}

type SleepPaused struct {
	SleepID   int64     `json:"sleepId"`
	PauseTime time.Time `json:"pauseTime"`
}

type SleepResumed struct {
	SleepID    int64     `json:"sleepId"`
	ResumeTime time.Time `json:"resumeTime"`
}

type SleepTagged struct {
	SleepID int64   `json:"sleepId"`
	Mood    *string `json:"mood,omitempty"`
	Method  *string `json:"method,omitempty"`
}

type SleepDeleted struct {
	SleepID int64 `json:"sleepId"`
}

// SleepManual records an already completed session after the fact.
type SleepManual struct {
	BabyID    int64     `json:"babyId,omitempty"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Kind      SleepKind `json:"type,omitempty"`
}

type DiaperLogged struct {
	BabyID int64     `json:"babyId,omitempty"`
	Time   time.Time `json:"time"`
	Kind   string    `json:"type"`
	Amount *string   `json:"amount,omitempty"`
	Note   *string   `json:"note,omitempty"`
}

type DiaperDeleted struct {
	DiaperID int64 `json:"diaperId"`
}

// DayStarted records the morning wake-up. Date defaults to the calendar date
// of WakeTime in the offset it was recorded with.
type DayStarted struct {
	BabyID   int64     `json:"babyId,omitempty"`
	WakeTime time.Time `json:"wakeTime"`
	Date     string    `json:"date,omitempty"`
}

// Day returns the YYYY-MM-DD date this wake-up belongs to.
func (d DayStarted) Day() string {
	if d.Date != "" {
		return d.Date
	}
	return d.WakeTime.Format(time.DateOnly)
}

// Unknown carries an event whose tag is not in the vocabulary.
type Unknown struct {
	Type EventType
	Raw  json.RawMessage
}

func (BabyCreated) EventType() EventType   { return TypeBabyCreated }
func (BabyUpdated) EventType() EventType   { return TypeBabyUpdated }
func (SleepStarted) EventType() EventType  { return TypeSleepStarted }
func (SleepEnded) EventType() EventType    { return TypeSleepEnded }
func (SleepUpdated) EventType() EventType  { return TypeSleepUpdated }
func (SleepPaused) EventType() EventType   { return TypeSleepPaused }
func (SleepResumed) EventType() EventType  { return TypeSleepResumed }
func (SleepTagged) EventType() EventType   { return TypeSleepTagged }
func (SleepDeleted) EventType() EventType  { return TypeSleepDeleted }
func (SleepManual) EventType() EventType   { return TypeSleepManual }
func (DiaperLogged) EventType() EventType  { return TypeDiaperLogged }
func (DiaperDeleted) EventType() EventType { return TypeDiaperDeleted }
func (DayStarted) EventType() EventType    { return TypeDayStarted }
func (u Unknown) EventType() EventType     { return u.Type }

func (BabyCreated) payload()   {}
func (BabyUpdated) payload()   {}
func (SleepStarted) payload()  {}
func (SleepEnded) payload()    {}
func (SleepUpdated) payload()  {}
func (SleepPaused) payload()   {}
func (SleepResumed) payload()  {}
func (SleepTagged) payload()   {}
func (SleepDeleted) payload()  {}
func (SleepManual) payload()   {}
func (DiaperLogged) payload()  {}
func (DiaperDeleted) payload() {}
func (DayStarted) payload()    {}
func (Unknown) payload()       {}
