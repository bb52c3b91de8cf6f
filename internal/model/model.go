// Package model holds the entities projected from the event log.
//
// Every id is the seq of the event that created the entity, so ids survive a
// full rebuild unchanged.
package model

import (
	"time"

	"github.com/roach88/napper/internal/ir"
)

// Baby is the tracked subject. The latest created one is active.
type Baby struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Birthdate  string `json:"birthdate"`
	CreatedSeq int64  `json:"createdSeq"`
}

// BabyPatch lists the fields a baby.updated event may change.
type BabyPatch struct {
	Name      *string
	Birthdate *string
}

// Sleep is one sleep session.
type Sleep struct {
	ID        int64        `json:"id"`
	BabyID    int64        `json:"babyId"`
	StartTime time.Time    `json:"startTime"`
	EndTime   *time.Time   `json:"endTime"`
	Kind      ir.SleepKind `json:"type"`
	Mood      *string      `json:"mood,omitempty"`
	Method    *string      `json:"method,omitempty"`
	Notes     *string      `json:"notes,omitempty"`
	Deleted   bool         `json:"deleted,omitempty"`
	Pauses    []Pause      `json:"pauses"`
}

// Active reports whether the session is still running.
func (s Sleep) Active() bool {
	return s.EndTime == nil && !s.Deleted
}

// Completed reports whether the session has an end time.
func (s Sleep) Completed() bool {
	return s.EndTime != nil && !s.Deleted
}

// OpenPause returns the unresumed pause, if any.
func (s Sleep) OpenPause() *Pause {
	for i := range s.Pauses {
		if s.Pauses[i].ResumeTime == nil {
			return &s.Pauses[i]
		}
	}
	return nil
}

// PausedFor sums pause time up to the given instant. An open pause counts
// until until.
func (s Sleep) PausedFor(until time.Time) time.Duration {
	var total time.Duration
	for _, p := range s.Pauses {
		end := until
		if p.ResumeTime != nil && p.ResumeTime.Before(until) {
			end = *p.ResumeTime
		}
		if end.After(p.PauseTime) {
			total += end.Sub(p.PauseTime)
		}
	}
	return total
}

// Slept returns the time actually asleep: from start to the end (or now for
// an active session) minus pauses.
func (s Sleep) Slept(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	d := end.Sub(s.StartTime) - s.PausedFor(end)
	if d < 0 {
		return 0
	}
	return d
}

// SleepPatch lists the fields sleep.updated, sleep.tagged, sleep.ended and
// sleep.deleted may change. Nil fields are left alone.
type SleepPatch struct {
	StartTime *time.Time
	EndTime   *time.Time
	Kind      *ir.SleepKind
	Notes     *string
	Mood      *string
	Method    *string
	Deleted   *bool
}

// Empty reports whether the patch changes nothing.
func (p SleepPatch) Empty() bool {
	return p.StartTime == nil && p.EndTime == nil && p.Kind == nil &&
		p.Notes == nil && p.Mood == nil && p.Method == nil && p.Deleted == nil
}

// Pause interrupts a sleep session. Seq is the seq of the sleep.paused event.
type Pause struct {
	SleepID    int64      `json:"sleepId"`
	Seq        int64      `json:"seq"`
	PauseTime  time.Time  `json:"pauseTime"`
	ResumeTime *time.Time `json:"resumeTime"`
}

// Diaper is one logged diaper change.
type Diaper struct {
	ID      int64     `json:"id"`
	BabyID  int64     `json:"babyId"`
	Time    time.Time `json:"time"`
	Kind    string    `json:"type"`
	Amount  *string   `json:"amount,omitempty"`
	Note    *string   `json:"note,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
}

// DayStart is the morning wake-up for one calendar date.
type DayStart struct {
	BabyID   int64     `json:"babyId"`
	Date     string    `json:"date"`
	WakeTime time.Time `json:"wakeTime"`
}
