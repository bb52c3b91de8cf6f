package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
	"github.com/roach88/napper/internal/schedule"
	"github.com/roach88/napper/internal/store"
)

// DefaultHistoryLimit caps history queries that do not set a limit.
const DefaultHistoryLimit = 50

// Stats summarizes the last Days local days for the current subject.
type Stats struct {
	Days      int                 `json:"days"`
	AgeMonths int                 `json:"ageMonths"`
	SleepNeed *schedule.SleepNeed `json:"sleepNeed"`
	Week      schedule.WeekStats  `json:"week"`
}

// Events returns the log after since, in seq order.
func (e *Engine) Events(ctx context.Context, since int64) ([]ir.Event, error) {
	var events []ir.Event
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		events, err = tx.ReadEvents(ctx, since)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if events == nil {
		events = []ir.Event{}
	}
	return events, nil
}

// Sleeps returns the current subject's sessions, newest first. With no
// subject the result is empty.
func (e *Engine) Sleeps(ctx context.Context, f store.SleepFilter) ([]model.Sleep, error) {
	if f.Limit == 0 {
		f.Limit = DefaultHistoryLimit
	}
	sleeps := []model.Sleep{}
	err := e.store.View(ctx, func(tx *store.Tx) error {
		baby, err := tx.LatestBaby(ctx)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		sleeps, err = tx.SleepHistory(ctx, baby.ID, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read sleeps: %w", err)
	}
	return sleeps, nil
}

// Diapers returns the current subject's diaper log, newest first.
func (e *Engine) Diapers(ctx context.Context, limit uint64) ([]model.Diaper, error) {
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	diapers := []model.Diaper{}
	err := e.store.View(ctx, func(tx *store.Tx) error {
		baby, err := tx.LatestBaby(ctx)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		diapers, err = tx.DiaperHistory(ctx, baby.ID, nil, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read diapers: %w", err)
	}
	return diapers, nil
}

// Stats summarizes the sessions that started in the last days local days,
// today included.
func (e *Engine) Stats(ctx context.Context, days int) (Stats, error) {
	if days < 1 {
		days = 1
	}
	out := Stats{Days: days, Week: schedule.WeekStats{Days: []schedule.DayEntry{}}}

	loc := e.assembler.Location()
	now := e.assembler.Now().In(loc)
	y, m, d := now.Date()
	since := time.Date(y, m, d-(days-1), 0, 0, 0, 0, loc)

	err := e.store.View(ctx, func(tx *store.Tx) error {
		baby, err := tx.LatestBaby(ctx)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		age, err := schedule.AgeMonths(baby.Birthdate, now)
		if err != nil {
			return err
		}
		need := schedule.SleepNeedFor(age)
		out.AgeMonths = age
		out.SleepNeed = &need

		sleeps, err := tx.SleepsSince(ctx, baby.ID, since)
		if err != nil {
			return err
		}
		out.Week = schedule.SummarizeWeek(sleeps, loc)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}
	return out, nil
}
