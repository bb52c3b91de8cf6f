package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One baby"
now: "2026-03-01T08:00:00Z"
steps:
  - submit:
      - type: baby.created
        payload: { name: Mia, birthdate: "2025-11-01" }
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", sc.Name)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), sc.start.UTC())
	require.Len(t, sc.Steps, 1)
	require.Len(t, sc.Steps[0].Submit, 1)
	assert.Equal(t, "baby.created", sc.Steps[0].Submit[0].Type)
	assert.Equal(t, "Mia", sc.Steps[0].Submit[0].Payload["name"])
	assert.Equal(t, time.UTC, sc.location())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_FullStep(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: full
description: "Every step field"
time_zone: America/New_York
now: "2026-03-01T08:00:00-05:00"
steps:
  - advance: 90m
    origin: phone
    submit:
      - type: diaper.logged
        client_id: phone
        client_seq: 7
        payload: { time: "2026-03-01T08:30:00-05:00", type: wet }
    expect: { error: INVALID_EVENT, index: 0 }
  - rebuild: true
    expect: { seq: 0 }
assertions:
  - type: log_count
    event_type: diaper.logged
    count: 0
`))
	require.NoError(t, err)

	step := sc.Steps[0]
	assert.Equal(t, 90*time.Minute, step.Advance)
	assert.Equal(t, "phone", step.Origin)
	require.NotNil(t, step.Submit[0].ClientSeq)
	assert.Equal(t, int64(7), *step.Submit[0].ClientSeq)
	require.NotNil(t, step.Expect)
	assert.Equal(t, "INVALID_EVENT", step.Expect.Error)
	require.NotNil(t, step.Expect.Index)
	assert.Equal(t, 0, *step.Expect.Index)
	assert.True(t, sc.Steps[1].Rebuild)
	assert.Equal(t, "America/New_York", sc.location().String())

	events, err := step.newEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].HasIdempotencyKey())
	assert.JSONEq(t, `{"time":"2026-03-01T08:30:00-05:00","type":"wet"}`, string(events[0].Payload))
}

func TestParseScenario_NilPayloadEncodesEmptyObject(t *testing.T) {
	st := Step{Submit: []EventStep{{Type: "sleep.ended"}}}
	events, err := st.newEvents()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(events[0].Payload))
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    minimalScenario + "weather: sunny\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{rebuild: true}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{rebuild: true}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing now",
			yaml:    "name: n\ndescription: d\nsteps: [{rebuild: true}]\n",
			wantErr: "now is required",
		},
		{
			name:    "bad now",
			yaml:    "name: n\ndescription: d\nnow: tomorrow\nsteps: [{rebuild: true}]\n",
			wantErr: "now:",
		},
		{
			name:    "bad zone",
			yaml:    "name: n\ndescription: d\ntime_zone: Mars/Olympus\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{rebuild: true}]\n",
			wantErr: "time_zone",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nnow: \"2026-03-01T08:00:00Z\"\n",
			wantErr: "steps list is required",
		},
		{
			name:    "submit and rebuild",
			yaml:    "name: n\ndescription: d\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{rebuild: true, submit: [{type: baby.created}]}]\n",
			wantErr: "exactly one of submit or rebuild",
		},
		{
			name:    "empty step",
			yaml:    "name: n\ndescription: d\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{origin: phone}]\n",
			wantErr: "exactly one of submit or rebuild",
		},
		{
			name:    "negative advance",
			yaml:    "name: n\ndescription: d\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{advance: -1m, rebuild: true}]\n",
			wantErr: "advance must be non-negative",
		},
		{
			name:    "event without type",
			yaml:    "name: n\ndescription: d\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{submit: [{payload: {}}]}]\n",
			wantErr: "type is required",
		},
		{
			name:    "half a key",
			yaml:    "name: n\ndescription: d\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{submit: [{type: baby.created, client_id: phone}]}]\n",
			wantErr: "client_id and client_seq go together",
		},
		{
			name:    "index without error",
			yaml:    "name: n\ndescription: d\nnow: \"2026-03-01T08:00:00Z\"\nsteps: [{rebuild: true, expect: {index: 1}}]\n",
			wantErr: "index requires error",
		},
		{
			name:    "assertion without type",
			yaml:    minimalScenario + "assertions:\n  - path: baby\n",
			wantErr: "assertions[0]: type is required",
		},
		{
			name:    "state without path",
			yaml:    minimalScenario + "assertions:\n  - type: state\n    equals: 1\n",
			wantErr: "path is required for state",
		},
		{
			name:    "log_count without event type",
			yaml:    minimalScenario + "assertions:\n  - type: log_count\n    count: 1\n",
			wantErr: "event_type is required",
		},
		{
			name:    "log_count negative",
			yaml:    minimalScenario + "assertions:\n  - type: log_count\n    event_type: baby.created\n    count: -1\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "log_order without types",
			yaml:    minimalScenario + "assertions:\n  - type: log_order\n",
			wantErr: "types list is required",
		},
		{
			name:    "unknown assertion",
			yaml:    minimalScenario + "assertions:\n  - type: trace_contains\n",
			wantErr: `unknown assertion type "trace_contains"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
