// Package schedule predicts naps and bedtime from a subject's age and recent
// sleep history.
//
// Every function here is pure: the current time is always an argument, so
// the same inputs give the same prediction.
package schedule

// Bracket is an age range in whole months, [MinMonths, MaxMonths).
type Bracket struct {
	MinMonths int `json:"minMonths"`
	MaxMonths int `json:"maxMonths"`
}

func (b Bracket) contains(age int) bool {
	return age >= b.MinMonths && age < b.MaxMonths
}

func (b Bracket) bracket() Bracket { return b }

// WakeWindowRange is the awake time between sleeps for an age bracket.
type WakeWindowRange struct {
	Bracket
	MinMinutes int `json:"minMinutes"`
	MaxMinutes int `json:"maxMinutes"`
}

// Midpoint is the default wake window when there is no history.
func (r WakeWindowRange) Midpoint() int {
	return (r.MinMinutes + r.MaxMinutes) / 2
}

// NapCount is the typical number of naps per day for an age bracket.
type NapCount struct {
	Bracket
	Naps    int `json:"naps"`
	MinNaps int `json:"minNaps"`
	MaxNaps int `json:"maxNaps"`
}

// SleepNeed is the total sleep per 24h for an age bracket.
type SleepNeed struct {
	Bracket
	TypicalHours float64 `json:"typicalHours"`
	MinHours     float64 `json:"minHours"`
	MaxHours     float64 `json:"maxHours"`
}

var WakeWindows = []WakeWindowRange{
	{Bracket{0, 3}, 60, 90},
	{Bracket{3, 4}, 75, 120},
	{Bracket{4, 6}, 105, 150},
	{Bracket{6, 8}, 120, 180},
	{Bracket{8, 10}, 150, 210},
	{Bracket{10, 12}, 180, 240},
	{Bracket{12, 18}, 210, 300},
	{Bracket{18, 24}, 300, 360},
}

var NapCounts = []NapCount{
	{Bracket{0, 3}, 4, 3, 5},
	{Bracket{3, 6}, 3, 3, 4},
	{Bracket{6, 9}, 2, 2, 3},
	{Bracket{9, 12}, 2, 1, 2},
	{Bracket{12, 18}, 1, 1, 2},
	{Bracket{18, 24}, 1, 1, 1},
}

var SleepNeeds = []SleepNeed{
	{Bracket{0, 3}, 16, 14, 17},
	{Bracket{3, 6}, 15, 13, 16},
	{Bracket{6, 9}, 14, 12, 15},
	{Bracket{9, 12}, 14, 12, 15},
	{Bracket{12, 18}, 13.5, 12, 14},
	{Bracket{18, 24}, 13, 11, 14},
}

type bracketed interface {
	bracket() Bracket
}

// findByAge returns the entry whose bracket holds age. Ages past the last
// bracket use the last entry.
func findByAge[T bracketed](ranges []T, age int) T {
	for _, r := range ranges {
		if r.bracket().contains(age) {
			return r
		}
	}
	return ranges[len(ranges)-1]
}

func WakeWindowFor(age int) WakeWindowRange { return findByAge(WakeWindows, age) }
func NapCountFor(age int) NapCount          { return findByAge(NapCounts, age) }
func SleepNeedFor(age int) SleepNeed        { return findByAge(SleepNeeds, age) }
