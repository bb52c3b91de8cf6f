package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
)

func update(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return fn(ctx, tx) }))
}

func TestBaby_LatestAndPatch(t *testing.T) {
	s := createTestStore(t)

	update(t, s, func(ctx context.Context, tx *Tx) error {
		_, err := tx.LatestBaby(ctx)
		assert.True(t, IsNotFound(err))

		require.NoError(t, tx.InsertBaby(ctx, model.Baby{ID: 1, Name: "Mia", Birthdate: "2025-11-01", CreatedSeq: 1}))
		require.NoError(t, tx.InsertBaby(ctx, model.Baby{ID: 5, Name: "Leo", Birthdate: "2026-01-10", CreatedSeq: 5}))
		require.NoError(t, tx.PatchBaby(ctx, 5, model.BabyPatch{Name: ptr("Leon")}))
		require.NoError(t, tx.PatchBaby(ctx, 5, model.BabyPatch{}))

		b, err := tx.LatestBaby(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.Baby{ID: 5, Name: "Leon", Birthdate: "2026-01-10", CreatedSeq: 5}, b)
		return nil
	})
}

func TestSleep_ActiveAndPauses(t *testing.T) {
	s := createTestStore(t)

	update(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 2, BabyID: 1, StartTime: clock(9, 0)}))
		require.NoError(t, tx.InsertPause(ctx, model.Pause{SleepID: 2, Seq: 3, PauseTime: clock(9, 20)}))

		active, err := tx.ActiveSleep(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), active.ID)
		assert.Equal(t, ir.KindNap, active.Kind)
		require.Len(t, active.Pauses, 1)
		assert.Nil(t, active.Pauses[0].ResumeTime)

		require.NoError(t, tx.ResumePause(ctx, 2, 3, clock(9, 30)))
		require.NoError(t, tx.PatchSleep(ctx, 2, model.SleepPatch{EndTime: ptr(clock(10, 0)), Mood: ptr("calm")}))

		_, err = tx.ActiveSleep(ctx, 1)
		assert.True(t, IsNotFound(err))

		done, err := tx.SleepByID(ctx, 2)
		require.NoError(t, err)
		require.NotNil(t, done.EndTime)
		assert.True(t, done.EndTime.Equal(clock(10, 0)))
		assert.Equal(t, "calm", *done.Mood)
		assert.True(t, done.Pauses[0].ResumeTime.Equal(clock(9, 30)))
		return nil
	})
}

func TestSleep_PatchUnknownIsNoop(t *testing.T) {
	s := createTestStore(t)

	update(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.PatchSleep(ctx, 42, model.SleepPatch{Deleted: ptr(true)}))
		_, err := tx.SleepByID(ctx, 42)
		assert.True(t, IsNotFound(err))
		return nil
	})
}

func TestSleepsSince_NewestFirstExcludesDeleted(t *testing.T) {
	s := createTestStore(t)

	update(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 1, BabyID: 1, StartTime: testDay.Add(-3 * time.Hour), EndTime: ptr(clock(6, 30)), Kind: ir.KindNight}))
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 2, BabyID: 1, StartTime: clock(9, 0), EndTime: ptr(clock(10, 0))}))
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 3, BabyID: 1, StartTime: clock(12, 0), EndTime: ptr(clock(12, 45))}))
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 4, BabyID: 1, StartTime: clock(15, 0), Deleted: true}))
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 5, BabyID: 9, StartTime: clock(15, 0)}))

		got, err := tx.SleepsSince(ctx, 1, testDay)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(3), got[0].ID)
		assert.Equal(t, int64(2), got[1].ID)
		assert.NotNil(t, got[0].Pauses)
		return nil
	})
}

func TestSleepHistory_Filters(t *testing.T) {
	s := createTestStore(t)

	update(t, s, func(ctx context.Context, tx *Tx) error {
		for i := int64(1); i <= 5; i++ {
			start := clock(int(6+2*i), 0)
			require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: i, BabyID: 1, StartTime: start, EndTime: ptr(start.Add(30 * time.Minute))}))
		}

		all, err := tx.SleepHistory(ctx, 1, SleepFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 5)

		limited, err := tx.SleepHistory(ctx, 1, SleepFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, int64(5), limited[0].ID)

		ranged, err := tx.SleepHistory(ctx, 1, SleepFilter{From: ptr(clock(10, 0)), To: ptr(clock(14, 0))})
		require.NoError(t, err)
		ids := []int64{}
		for _, sl := range ranged {
			ids = append(ids, sl.ID)
		}
		assert.Equal(t, []int64{4, 3, 2}, ids)
		return nil
	})
}

func TestDiapers(t *testing.T) {
	s := createTestStore(t)

	update(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.InsertDiaper(ctx, model.Diaper{ID: 3, BabyID: 1, Time: clock(8, 0), Kind: "wet"}))
		require.NoError(t, tx.InsertDiaper(ctx, model.Diaper{ID: 4, BabyID: 1, Time: clock(11, 0), Kind: "dirty", Note: ptr("blowout")}))
		require.NoError(t, tx.InsertDiaper(ctx, model.Diaper{ID: 6, BabyID: 1, Time: clock(13, 0), Kind: "wet"}))
		require.NoError(t, tx.DeleteDiaper(ctx, 6))
		require.NoError(t, tx.DeleteDiaper(ctx, 99))

		got, err := tx.DiaperHistory(ctx, 1, ptr(clock(9, 0)), 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "blowout", *got[0].Note)

		all, err := tx.DiaperHistory(ctx, 1, nil, 10)
		require.NoError(t, err)
		assert.Len(t, all, 2)
		return nil
	})
}

func TestDayStart_Upsert(t *testing.T) {
	s := createTestStore(t)

	update(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.UpsertDayStart(ctx, model.DayStart{BabyID: 1, Date: "2026-03-01", WakeTime: clock(6, 30)}))
		require.NoError(t, tx.UpsertDayStart(ctx, model.DayStart{BabyID: 1, Date: "2026-03-01", WakeTime: clock(7, 0)}))

		d, err := tx.DayStartFor(ctx, 1, "2026-03-01")
		require.NoError(t, err)
		assert.True(t, d.WakeTime.Equal(clock(7, 0)))

		_, err = tx.DayStartFor(ctx, 1, "2026-03-02")
		assert.True(t, IsNotFound(err))
		return nil
	})
}

func TestTruncateDerived_KeepsLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	appendTestEvents(t, s, diaperEvent(1, "wet"))
	update(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.InsertBaby(ctx, model.Baby{ID: 1, Name: "Mia", Birthdate: "2025-11-01", CreatedSeq: 1}))
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 2, BabyID: 1, StartTime: clock(9, 0)}))
		require.NoError(t, tx.InsertPause(ctx, model.Pause{SleepID: 2, Seq: 3, PauseTime: clock(9, 10)}))
		return tx.TruncateDerived(ctx)
	})

	dump, err := s.DumpDerived(ctx)
	require.NoError(t, err)
	assert.Empty(t, dump.Babies)
	assert.Empty(t, dump.Sleeps)
	assert.Empty(t, dump.Diapers)
	assert.Empty(t, dump.DayStarts)

	events, err := s.ReadEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDumpDerived_IncludesDeleted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	update(t, s, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.InsertSleep(ctx, model.Sleep{ID: 2, BabyID: 1, StartTime: clock(9, 0), Deleted: true}))
		return tx.InsertDiaper(ctx, model.Diaper{ID: 3, BabyID: 1, Time: clock(8, 0), Kind: "wet", Deleted: true})
	})

	dump, err := s.DumpDerived(ctx)
	require.NoError(t, err)
	require.Len(t, dump.Sleeps, 1)
	assert.True(t, dump.Sleeps[0].Deleted)
	require.Len(t, dump.Diapers, 1)
	assert.True(t, dump.Diapers[0].Deleted)
}
