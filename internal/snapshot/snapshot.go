// Package snapshot folds the projected entities and the schedule predictions
// into the single state document every client renders.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/napper/internal/model"
	"github.com/roach88/napper/internal/schedule"
	"github.com/roach88/napper/internal/store"
)

// Reader is the read side of the derived tables an assembly needs.
type Reader interface {
	LatestBaby(ctx context.Context) (model.Baby, error)
	ActiveSleep(ctx context.Context, babyID int64) (model.Sleep, error)
	SleepsSince(ctx context.Context, babyID int64, since time.Time) ([]model.Sleep, error)
	DiaperHistory(ctx context.Context, babyID int64, since *time.Time, limit uint64) ([]model.Diaper, error)
	DayStartFor(ctx context.Context, babyID int64, date string) (model.DayStart, error)
}

var _ Reader = (*store.Tx)(nil)

// Snapshot is the full client-facing state. It is derived on demand and
// never stored server side.
type Snapshot struct {
	Baby        *model.Baby        `json:"baby"`
	AgeMonths   int                `json:"ageMonths"`
	ActiveSleep *model.Sleep       `json:"activeSleep"`
	TodaySleeps []model.Sleep      `json:"todaySleeps"`
	DiaperCount int                `json:"diaperCount"`
	TodayWakeUp *model.DayStart    `json:"todayWakeUp"`
	Stats       *schedule.DayStats `json:"stats"`
	Prediction  *Prediction        `json:"prediction"`
}

// Prediction is only present while no session is running.
type Prediction struct {
	NextNap           *time.Time              `json:"nextNap"`
	Bedtime           time.Time               `json:"bedtime"`
	WakeWindowMinutes int                     `json:"wakeWindowMinutes"`
	DayNaps           []schedule.PredictedNap `json:"dayNaps"`
	NapTransition     *schedule.NapTransition `json:"napTransition"`
}

// Empty is the snapshot served before any subject exists.
func Empty() Snapshot {
	return Snapshot{TodaySleeps: []model.Sleep{}}
}

// Assembler builds snapshots. Day boundaries are local to loc, and now is
// the only source of wall-clock time.
type Assembler struct {
	loc *time.Location
	now func() time.Time
}

// NewAssembler returns an assembler for the given zone. A nil now uses
// time.Now.
func NewAssembler(loc *time.Location, now func() time.Time) *Assembler {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Assembler{loc: loc, now: now}
}

// Location is the zone day boundaries are computed in.
func (a *Assembler) Location() *time.Location { return a.loc }

// Now is the assembler's current time in its zone.
func (a *Assembler) Now() time.Time { return a.now().In(a.loc) }

// Assemble reads the active subject's state through r. It never writes.
func (a *Assembler) Assemble(ctx context.Context, r Reader) (Snapshot, error) {
	baby, err := r.LatestBaby(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return Empty(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("assemble snapshot: %w", err)
	}

	now := a.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	today := now.Format(time.DateOnly)

	snap := Snapshot{Baby: &baby}
	if age, err := schedule.AgeMonths(baby.Birthdate, now); err == nil {
		snap.AgeMonths = age
	}

	active, err := r.ActiveSleep(ctx, baby.ID)
	switch {
	case err == nil:
		snap.ActiveSleep = &active
	case !errors.Is(err, store.ErrNotFound):
		return Snapshot{}, fmt.Errorf("assemble snapshot: %w", err)
	}

	snap.TodaySleeps, err = r.SleepsSince(ctx, baby.ID, midnight)
	if err != nil {
		return Snapshot{}, fmt.Errorf("assemble snapshot: %w", err)
	}
	if snap.TodaySleeps == nil {
		snap.TodaySleeps = []model.Sleep{}
	}

	diapers, err := r.DiaperHistory(ctx, baby.ID, &midnight, 0)
	if err != nil {
		return Snapshot{}, fmt.Errorf("assemble snapshot: %w", err)
	}
	snap.DiaperCount = len(diapers)

	wake, err := r.DayStartFor(ctx, baby.ID, today)
	switch {
	case err == nil:
		snap.TodayWakeUp = &wake
	case !errors.Is(err, store.ErrNotFound):
		return Snapshot{}, fmt.Errorf("assemble snapshot: %w", err)
	}

	stats := schedule.SummarizeDay(snap.TodaySleeps)
	snap.Stats = &stats

	if snap.ActiveSleep == nil {
		recent, err := r.SleepsSince(ctx, baby.ID, now.Add(-7*24*time.Hour))
		if err != nil {
			return Snapshot{}, fmt.Errorf("assemble snapshot: %w", err)
		}
		snap.Prediction = a.predict(snap, recent, now)
	}
	return snap, nil
}

func (a *Assembler) predict(snap Snapshot, recent []model.Sleep, now time.Time) *Prediction {
	age := snap.AgeMonths
	p := &Prediction{
		Bedtime:           schedule.RecommendBedtime(snap.TodaySleeps, age, now),
		WakeWindowMinutes: schedule.WakeWindow(age, recent),
		DayNaps:           []schedule.PredictedNap{},
	}

	// TodaySleeps is newest first.
	for _, s := range snap.TodaySleeps {
		if s.Completed() {
			next := schedule.PredictNextNap(*s.EndTime, age, recent)
			p.NextNap = &next
			break
		}
	}
	if snap.TodayWakeUp != nil {
		wake := snap.TodayWakeUp.WakeTime
		if p.NextNap == nil {
			next := schedule.PredictNextNap(wake, age, recent)
			p.NextNap = &next
		}
		p.DayNaps = schedule.PredictDayNaps(wake, age, recent)
	}

	_, days := schedule.GroupByDay(recent, a.loc)
	p.NapTransition = schedule.DetectNapTransition(days)
	return p
}
