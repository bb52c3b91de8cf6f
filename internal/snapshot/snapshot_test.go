package snapshot

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/projection"
	"github.com/roach88/napper/internal/store"
	"github.com/roach88/napper/internal/testutil"
)

var day = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func seed(t *testing.T, payloads ...ir.Payload) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "napper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	b := testutil.NewLogBuilder(day)
	for _, p := range payloads {
		ev := b.Next(p)
		require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
			if _, _, err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
			return projection.Apply(ctx, tx, ev)
		}))
	}
	return s
}

func assemble(t *testing.T, s *store.Store, a *Assembler) Snapshot {
	t.Helper()
	var snap Snapshot
	require.NoError(t, s.View(context.Background(), func(tx *store.Tx) error {
		var err error
		snap, err = a.Assemble(context.Background(), tx)
		return err
	}))
	return snap
}

func TestAssemble_NoSubject(t *testing.T) {
	s := seed(t)
	snap := assemble(t, s, NewAssembler(time.UTC, func() time.Time { return at(8, 0) }))

	assert.Equal(t, Empty(), snap)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"baby":null`)
	assert.Contains(t, string(raw), `"todaySleeps":[]`)
	assert.Contains(t, string(raw), `"prediction":null`)
}

func TestAssemble_FourMonthNapPlan(t *testing.T) {
	s := seed(t,
		ir.BabyCreated{Name: "Mia", Birthdate: "2025-11-01"},
		ir.DayStarted{WakeTime: at(7, 0)},
	)
	snap := assemble(t, s, NewAssembler(time.UTC, func() time.Time { return at(8, 0) }))

	require.NotNil(t, snap.Baby)
	assert.Equal(t, 4, snap.AgeMonths)
	assert.Nil(t, snap.ActiveSleep)
	require.NotNil(t, snap.TodayWakeUp)
	assert.Equal(t, "2026-03-01", snap.TodayWakeUp.Date)

	require.NotNil(t, snap.Prediction)
	p := snap.Prediction
	assert.Equal(t, 127, p.WakeWindowMinutes)
	require.NotNil(t, p.NextNap)
	assert.True(t, p.NextNap.Equal(at(9, 7)))
	assert.True(t, p.Bedtime.Equal(at(19, 0)))
	assert.Nil(t, p.NapTransition)

	require.Len(t, p.DayNaps, 3)
	wantStarts := []time.Time{at(9, 7), at(12, 14), at(15, 21)}
	for i, nap := range p.DayNaps {
		assert.True(t, nap.StartTime.Equal(wantStarts[i]), "nap %d starts %v", i, nap.StartTime)
		assert.Equal(t, time.Hour, nap.EndTime.Sub(nap.StartTime))
	}
}

func TestAssemble_ActiveSessionHasNoPrediction(t *testing.T) {
	s := seed(t,
		ir.BabyCreated{Name: "Mia", Birthdate: "2025-11-01"},
		ir.SleepStarted{StartTime: at(9, 0)},
		ir.DiaperLogged{Time: at(8, 30), Kind: "wet"},
		ir.DiaperLogged{Time: day.Add(-time.Hour), Kind: "wet"},
	)
	snap := assemble(t, s, NewAssembler(time.UTC, func() time.Time { return at(9, 30) }))

	require.NotNil(t, snap.ActiveSleep)
	assert.Equal(t, int64(2), snap.ActiveSleep.ID)
	assert.Nil(t, snap.Prediction)
	assert.Equal(t, 1, snap.DiaperCount, "yesterday's diaper is not counted")
	require.Len(t, snap.TodaySleeps, 1)
	assert.Equal(t, 0, snap.Stats.NapCount)
}

func TestAssemble_NextNapFromLatestCompleted(t *testing.T) {
	s := seed(t,
		ir.BabyCreated{Name: "Mia", Birthdate: "2025-11-01"},
		ir.DayStarted{WakeTime: at(7, 0)},
		ir.SleepManual{StartTime: at(9, 0), EndTime: at(10, 0)},
		ir.SleepManual{StartTime: at(12, 30), EndTime: at(13, 30)},
	)
	snap := assemble(t, s, NewAssembler(time.UTC, func() time.Time { return at(14, 0) }))

	require.NotNil(t, snap.Prediction)
	// two sessions 150 minutes apart set the window
	assert.Equal(t, 150, snap.Prediction.WakeWindowMinutes)
	assert.True(t, snap.Prediction.NextNap.Equal(at(16, 0)))
	assert.Equal(t, 2, snap.Stats.NapCount)
	assert.Equal(t, 120, snap.Stats.TotalNapMinutes)
}

func TestAssemble_LocalDayBoundary(t *testing.T) {
	oslo := time.FixedZone("CET", 3600)
	s := seed(t,
		ir.BabyCreated{Name: "Mia", Birthdate: "2025-11-01"},
		// 23:30 UTC on Feb 28 is already Mar 1 in Oslo
		ir.SleepManual{StartTime: day.Add(-30 * time.Minute), EndTime: day.Add(30 * time.Minute), Kind: ir.KindNight},
	)

	utc := assemble(t, s, NewAssembler(time.UTC, func() time.Time { return at(8, 0) }))
	local := assemble(t, s, NewAssembler(oslo, func() time.Time { return at(8, 0) }))

	assert.Empty(t, utc.TodaySleeps)
	assert.Len(t, local.TodaySleeps, 1)
}

func TestAssemble_Idempotent(t *testing.T) {
	s := seed(t,
		ir.BabyCreated{Name: "Mia", Birthdate: "2025-11-01"},
		ir.DayStarted{WakeTime: at(7, 0)},
		ir.SleepManual{StartTime: at(9, 0), EndTime: at(10, 0)},
		ir.DiaperLogged{Time: at(10, 5), Kind: "dirty"},
	)
	clock := testutil.NewWallClock(at(11, 0))
	a := NewAssembler(time.UTC, clock.Now)

	first := ir.MustDigest(ir.DomainSnapshot, assemble(t, s, a))
	second := ir.MustDigest(ir.DomainSnapshot, assemble(t, s, a))
	assert.Equal(t, first, second)

	clock.Advance(time.Minute)
	assert.Equal(t, first, ir.MustDigest(ir.DomainSnapshot, assemble(t, s, a)),
		"nothing in this state depends on the minute")
}
