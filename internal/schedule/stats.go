package schedule

import (
	"math"
	"slices"
	"time"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
)

// DayStats totals the completed sessions of one day. Pause time is not sleep.
type DayStats struct {
	TotalNapMinutes   int `json:"totalNapMinutes"`
	TotalNightMinutes int `json:"totalNightMinutes"`
	NapCount          int `json:"napCount"`
}

// SummarizeDay totals completed sessions. Active sessions and sessions with
// no sleep time are skipped.
func SummarizeDay(sleeps []model.Sleep) DayStats {
	var nap, night time.Duration
	var stats DayStats
	for _, s := range sleeps {
		if !s.Completed() {
			continue
		}
		d := s.Slept(*s.EndTime)
		if d <= 0 {
			continue
		}
		if s.Kind.OrNap() == ir.KindNight {
			night += d
			continue
		}
		nap += d
		stats.NapCount++
	}
	stats.TotalNapMinutes = roundMinutes(nap)
	stats.TotalNightMinutes = roundMinutes(night)
	return stats
}

// DayEntry is one local calendar day of a WeekStats.
type DayEntry struct {
	Date string `json:"date"`
	DayStats
}

// WeekStats summarizes several days of sessions.
type WeekStats struct {
	Days                  []DayEntry `json:"days"`
	AvgNapMinutesPerDay   int        `json:"avgNapMinutesPerDay"`
	AvgNightMinutesPerDay int        `json:"avgNightMinutesPerDay"`
	AvgNapsPerDay         float64    `json:"avgNapsPerDay"`
}

// GroupByDay buckets sessions by the local date of their start time in loc.
// Dates come back ascending.
func GroupByDay(sleeps []model.Sleep, loc *time.Location) (dates []string, days [][]model.Sleep) {
	byDate := make(map[string][]model.Sleep)
	for _, s := range sleeps {
		d := s.StartTime.In(loc).Format(time.DateOnly)
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
		byDate[d] = append(byDate[d], s)
	}
	slices.Sort(dates)
	days = make([][]model.Sleep, len(dates))
	for i, d := range dates {
		days[i] = byDate[d]
	}
	return dates, days
}

// SummarizeWeek groups sessions by local day and averages the daily totals.
// With no days the averages are zero.
func SummarizeWeek(sleeps []model.Sleep, loc *time.Location) WeekStats {
	dates, days := GroupByDay(sleeps, loc)

	ws := WeekStats{Days: make([]DayEntry, 0, len(dates))}
	var napMin, nightMin, naps int
	for i, d := range dates {
		st := SummarizeDay(days[i])
		ws.Days = append(ws.Days, DayEntry{Date: d, DayStats: st})
		napMin += st.TotalNapMinutes
		nightMin += st.TotalNightMinutes
		naps += st.NapCount
	}

	n := float64(max(len(dates), 1))
	ws.AvgNapMinutesPerDay = int(math.Round(float64(napMin) / n))
	ws.AvgNightMinutesPerDay = int(math.Round(float64(nightMin) / n))
	ws.AvgNapsPerDay = math.Round(float64(naps)/n*10) / 10
	return ws
}

func roundMinutes(d time.Duration) int {
	return int(d.Round(time.Minute) / time.Minute)
}
