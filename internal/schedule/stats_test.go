package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
)

func TestSummarizeDay(t *testing.T) {
	paused := completed(at(9, 0), at(10, 0), ir.KindNap)
	resume := at(9, 40)
	paused.Pauses = []model.Pause{{PauseTime: at(9, 30), ResumeTime: &resume}}

	sleeps := []model.Sleep{
		paused,
		completed(at(13, 0), at(14, 30), ""),
		completed(at(19, 0), at(19, 0).Add(11*time.Hour), ir.KindNight),
		completed(at(15, 0), at(15, 0), ir.KindNap),
		{StartTime: at(16, 0), Kind: ir.KindNap},
	}

	assert.Equal(t, DayStats{TotalNapMinutes: 140, TotalNightMinutes: 660, NapCount: 2}, SummarizeDay(sleeps))
	assert.Equal(t, DayStats{}, SummarizeDay(nil))
}

func TestSummarizeWeek(t *testing.T) {
	oslo := time.FixedZone("CET", 3600)
	sleeps := []model.Sleep{
		completed(at(9, 0), at(10, 0), ir.KindNap),
		completed(at(13, 0), at(14, 0), ir.KindNap),
		// 23:30 UTC is the next local day in Oslo
		completed(at(23, 30), at(23, 30).Add(7*time.Hour), ir.KindNight),
		completed(at(33, 0), at(33, 45), ir.KindNap),
	}

	ws := SummarizeWeek(sleeps, oslo)
	require.Len(t, ws.Days, 2)
	assert.Equal(t, "2026-03-01", ws.Days[0].Date)
	assert.Equal(t, DayStats{TotalNapMinutes: 120, NapCount: 2}, ws.Days[0].DayStats)
	assert.Equal(t, "2026-03-02", ws.Days[1].Date)
	assert.Equal(t, DayStats{TotalNapMinutes: 45, TotalNightMinutes: 420, NapCount: 1}, ws.Days[1].DayStats)

	assert.Equal(t, 83, ws.AvgNapMinutesPerDay)
	assert.Equal(t, 210, ws.AvgNightMinutesPerDay)
	assert.Equal(t, 1.5, ws.AvgNapsPerDay)
}

func TestSummarizeWeek_Empty(t *testing.T) {
	ws := SummarizeWeek(nil, time.UTC)
	assert.Empty(t, ws.Days)
	assert.Zero(t, ws.AvgNapMinutesPerDay)
	assert.Zero(t, ws.AvgNapsPerDay)
}
