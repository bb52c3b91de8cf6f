package store

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/roach88/napper/internal/model"
)

// Dump is the full content of the derived tables, ordered by primary key.
// Two stores whose dumps are equal hold the same projected state.
type Dump struct {
	Babies    []model.Baby     `json:"babies" yaml:"babies"`
	Sleeps    []model.Sleep    `json:"sleeps" yaml:"sleeps"`
	Diapers   []model.Diaper   `json:"diapers" yaml:"diapers"`
	DayStarts []model.DayStart `json:"dayStarts" yaml:"dayStarts"`
}

// DumpDerived reads every derived row, including soft-deleted ones.
func (t *Tx) DumpDerived(ctx context.Context) (Dump, error) {
	d := Dump{
		Babies:    []model.Baby{},
		Diapers:   []model.Diaper{},
		DayStarts: []model.DayStart{},
	}

	var babies []babyRow
	if err := sqlscan.Select(ctx, t.tx, &babies,
		`SELECT id, name, birthdate, created_seq FROM baby ORDER BY id ASC`); err != nil {
		return Dump{}, fmt.Errorf("dump baby: %w", err)
	}
	for _, r := range babies {
		d.Babies = append(d.Babies, r.model())
	}

	sleeps, err := t.selectSleeps(ctx, builder.Select(sleepColumns...).From("sleep_log").OrderBy("id ASC"))
	if err != nil {
		return Dump{}, fmt.Errorf("dump sleep_log: %w", err)
	}
	d.Sleeps = sleeps

	var diapers []diaperRow
	if err := sqlscan.Select(ctx, t.tx, &diapers,
		`SELECT id, baby_id, time, type, amount, note, deleted FROM diaper_log ORDER BY id ASC`); err != nil {
		return Dump{}, fmt.Errorf("dump diaper_log: %w", err)
	}
	for _, r := range diapers {
		m, err := r.model()
		if err != nil {
			return Dump{}, err
		}
		d.Diapers = append(d.Diapers, m)
	}

	var days []dayStartRow
	if err := sqlscan.Select(ctx, t.tx, &days,
		`SELECT baby_id, date, wake_time FROM day_start ORDER BY baby_id ASC, date ASC`); err != nil {
		return Dump{}, fmt.Errorf("dump day_start: %w", err)
	}
	for _, r := range days {
		m, err := r.model()
		if err != nil {
			return Dump{}, err
		}
		d.DayStarts = append(d.DayStarts, m)
	}

	return d, nil
}

// DumpDerived reads the derived tables in a read-only transaction.
func (s *Store) DumpDerived(ctx context.Context) (Dump, error) {
	var d Dump
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		d, err = tx.DumpDerived(ctx)
		return err
	})
	return d, err
}
