package schedule

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
)

// Gaps outside this range are not wake windows (a missed log, or night).
const (
	minGap = 10 * time.Minute
	maxGap = 480 * time.Minute
)

// Bedtime limits, as minutes after local midnight.
const (
	earliestBedtime = 18 * 60
	latestBedtime   = 20*60 + 30
	defaultBedtime  = 19 * 60
)

// AgeMonths counts whole calendar months from birthdate (YYYY-MM-DD) to now,
// in now's location. A month only counts once its day of month is reached.
func AgeMonths(birthdate string, now time.Time) (int, error) {
	birth, err := time.Parse(time.DateOnly, birthdate)
	if err != nil {
		return 0, fmt.Errorf("parse birthdate: %w", err)
	}
	months := (now.Year()-birth.Year())*12 + int(now.Month()) - int(birth.Month())
	if now.Day() < birth.Day() {
		months--
	}
	return max(0, months), nil
}

func completedByStart(sleeps []model.Sleep) []model.Sleep {
	out := make([]model.Sleep, 0, len(sleeps))
	for _, s := range sleeps {
		if s.Completed() {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Sleep) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out
}

// AverageWakeWindow averages the gaps between consecutive completed sessions,
// counting only gaps between 10 minutes and 8 hours inclusive. The result is
// rounded to the nearest minute. ok is false with fewer than two completed
// sessions or no usable gap.
func AverageWakeWindow(sleeps []model.Sleep) (minutes int, ok bool) {
	sorted := completedByStart(sleeps)
	if len(sorted) < 2 {
		return 0, false
	}

	var total time.Duration
	n := 0
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].StartTime.Sub(*sorted[i-1].EndTime)
		if gap >= minGap && gap <= maxGap {
			total += gap
			n++
		}
	}
	if n == 0 {
		return 0, false
	}

	avg := (total / time.Duration(n)).Round(time.Minute)
	return int(avg / time.Minute), true
}

// WakeWindow returns the wake window in minutes for age. With at least two
// recent sessions and a usable average, the average clamped to the bracket is
// used; otherwise the bracket midpoint.
func WakeWindow(age int, recent []model.Sleep) int {
	r := WakeWindowFor(age)
	if len(recent) < 2 {
		return r.Midpoint()
	}
	avg, ok := AverageWakeWindow(recent)
	if !ok {
		return r.Midpoint()
	}
	return min(max(avg, r.MinMinutes), r.MaxMinutes)
}

// PredictNextNap is lastWake plus one wake window.
func PredictNextNap(lastWake time.Time, age int, recent []model.Sleep) time.Time {
	return lastWake.Add(minutes(WakeWindow(age, recent)))
}

// PredictedNap is one planned nap.
type PredictedNap struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// NapDuration is the planned length of one nap. Younger babies nap longer.
func NapDuration(age int) time.Duration {
	switch {
	case age < 6:
		return 60 * time.Minute
	case age < 12:
		return 45 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// PredictDayNaps plans the typical number of naps for age, starting from the
// morning wake-up. Each nap starts one wake window after the previous wake.
func PredictDayNaps(wakeUp time.Time, age int, recent []model.Sleep) []PredictedNap {
	count := NapCountFor(age).Naps
	ww := minutes(WakeWindow(age, recent))
	dur := NapDuration(age)

	naps := make([]PredictedNap, 0, count)
	wake := wakeUp
	for i := 0; i < count; i++ {
		start := wake.Add(ww)
		end := start.Add(dur)
		naps = append(naps, PredictedNap{StartTime: start, EndTime: end})
		wake = end
	}
	return naps
}

// RecommendBedtime picks tonight's bedtime. Without a completed session today
// it is 19:00 on now's day. Otherwise it is one wake window after the latest
// wake, stretched by 15% once the day's typical naps are done, and clamped to
// 18:00-20:30 on the bedtime's own day. It is never earlier than the latest
// wake. Times are local to now's location.
func RecommendBedtime(today []model.Sleep, age int, now time.Time) time.Time {
	loc := now.Location()

	var last *time.Time
	for _, s := range today {
		if s.Completed() && (last == nil || s.EndTime.After(*last)) {
			last = s.EndTime
		}
	}
	if last == nil {
		return atMinute(now, defaultBedtime)
	}

	ww := WakeWindow(age, nil)
	if len(today) >= NapCountFor(age).Naps {
		ww = ww * 115 / 100
	}
	bedtime := last.Add(minutes(ww)).In(loc)

	earliest := atMinute(bedtime, earliestBedtime)
	latest := atMinute(bedtime, latestBedtime)
	switch {
	case bedtime.Before(earliest):
		bedtime = earliest
	case bedtime.After(latest):
		bedtime = latest
	}
	if wake := last.In(loc); bedtime.Before(wake) {
		return wake
	}
	return bedtime
}

// NapTransition reports whether nap count is trending down.
type NapTransition struct {
	Dropping       bool    `json:"dropping"`
	CurrentAvgNaps float64 `json:"currentAvgNaps"`
	SuggestedNaps  int     `json:"suggestedNaps"`
}

// DetectNapTransition compares completed naps per day over the last three
// days with the days before. days is ordered oldest first. It returns nil with
// fewer than five days.
func DetectNapTransition(days [][]model.Sleep) *NapTransition {
	if len(days) < 5 {
		return nil
	}

	counts := make([]int, len(days))
	total := 0
	for i, day := range days {
		for _, s := range day {
			if s.Kind.OrNap() == ir.KindNap && s.Completed() {
				counts[i]++
			}
		}
		total += counts[i]
	}

	nEarlier := len(counts) - 3
	sumEarlier, sumRecent := 0, 0
	for i, c := range counts {
		if i < nEarlier {
			sumEarlier += c
		} else {
			sumRecent += c
		}
	}

	avg := float64(total) / float64(len(counts))
	t := &NapTransition{CurrentAvgNaps: math.Round(avg*10) / 10}

	// earlier/nEarlier - recent/3 >= 1/2, scaled by 6*nEarlier
	if 6*sumEarlier-2*nEarlier*sumRecent >= 3*nEarlier {
		t.Dropping = true
		t.SuggestedNaps = int(math.Round(float64(sumRecent) / 3))
		return t
	}
	t.SuggestedNaps = int(math.Round(avg))
	return t
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// atMinute returns the instant m minutes after midnight on t's local day.
func atMinute(t time.Time, m int) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, m/60, m%60, 0, 0, t.Location())
}
