package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return sc
}

func TestRun_ExpectationsHold(t *testing.T) {
	sc := mustParse(t, `
name: baby_and_diaper
description: "A baby and one diaper"
now: "2026-03-01T08:00:00Z"
steps:
  - submit:
      - type: baby.created
        payload: { name: Mia, birthdate: "2025-11-01" }
    expect: { seq: 1 }
  - origin: phone
    submit:
      - type: diaper.logged
        payload: { time: "2026-03-01T07:45:00Z", type: wet }
    expect: { seq: 2 }
assertions:
  - type: state
    path: diaperCount
    equals: 1
  - type: log_order
    types: [baby.created, diaper.logged]
`)

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.True(t, result.Deterministic)
	assert.Equal(t, int64(2), result.Seq)
	require.Len(t, result.Log, 2)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceEntry{Step: 2, Op: "submit", Origin: "phone", Types: []string{"diaper.logged"}, Seq: 2}, result.Trace[1])
}

func TestRun_RejectionIsRecorded(t *testing.T) {
	sc := mustParse(t, `
name: orphan_diaper
description: "A diaper with no baby is rejected"
now: "2026-03-01T08:00:00Z"
steps:
  - submit:
      - type: diaper.logged
        payload: { time: "2026-03-01T07:45:00Z", type: wet }
    expect: { error: INVALID_EVENT, index: 0 }
assertions:
  - type: log_count
    event_type: diaper.logged
    count: 0
`)

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "INVALID_EVENT", result.Trace[0].Error)
	require.NotNil(t, result.Trace[0].Index)
	assert.Equal(t, 0, *result.Trace[0].Index)
	assert.Empty(t, result.Log)
	assert.Nil(t, result.State.Baby)
}

func TestRun_ExpectationMismatches(t *testing.T) {
	sc := mustParse(t, `
name: mismatches
description: "Every expect clause is wrong"
now: "2026-03-01T08:00:00Z"
steps:
  - submit:
      - type: baby.created
        payload: { name: Mia, birthdate: "2025-11-01" }
    expect: { seq: 5 }
  - submit:
      - type: sleep.started
        payload: { startTime: "2026-03-01T08:00:00Z" }
      - type: sleep.started
        payload: { startTime: "2026-03-01T08:01:00Z" }
    expect: { error: SESSION_ACTIVE, index: 0 }
  - submit:
      - type: day.started
        payload: { wakeTime: "not a time" }
  - submit:
      - type: day.started
        payload: { wakeTime: "2026-03-01T07:00:00Z" }
    expect: { error: INVALID_EVENT }
assertions:
  - type: state
    path: ageMonths
    equals: 5
`)

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"step 1: expected seq 5, got 1",
		"step 2: expected index 0, got 1",
		"step 3: unexpected error INVALID_EVENT",
		`step 4: expected error "INVALID_EVENT", got ""`,
		`assertions[0]: Assertion failed: state
  Expected: ageMonths = 5
  Actual: ageMonths = 4
`,
	}, result.Errors)
	assert.True(t, result.Deterministic)
}

func TestRun_ClockAdvancesBetweenSteps(t *testing.T) {
	sc := mustParse(t, `
name: clock
description: "Advance moves the day boundary"
time_zone: America/New_York
now: "2026-03-01T22:00:00-05:00"
steps:
  - submit:
      - type: baby.created
        payload: { name: Mia, birthdate: "2025-11-01" }
      - type: diaper.logged
        payload: { time: "2026-03-01T21:30:00-05:00", type: wet }
  - advance: 3h
    submit:
      - type: diaper.logged
        payload: { time: "2026-03-02T00:30:00-05:00", type: dirty }
assertions:
  - type: state
    path: diaperCount
    equals: 1
`)

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, int64(3), result.Seq)
}

func TestRun_InvalidScenario(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario")
}
