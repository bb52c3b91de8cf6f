package harness

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/napper/internal/ir"
)

// TraceLines renders a result as canonical JSON, one line per step plus a
// closing line that summarizes the final state. Only values that are fixed
// by the scenario appear, so the output is stable across runs.
func TraceLines(result *Result) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range result.Trace {
		line := map[string]any{
			"step": e.Step,
			"op":   e.Op,
		}
		if e.Origin != "" {
			line["origin"] = e.Origin
		}
		if len(e.Types) > 0 {
			types := make([]any, len(e.Types))
			for i, t := range e.Types {
				types[i] = t
			}
			line["types"] = types
		}
		if e.Error != "" {
			line["error"] = e.Error
			if e.Index != nil {
				line["index"] = *e.Index
			}
		} else {
			line["seq"] = e.Seq
		}
		if err := writeLine(&buf, line); err != nil {
			return nil, err
		}
	}

	if err := writeLine(&buf, summarize(result)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func summarize(result *Result) map[string]any {
	s := result.State
	line := map[string]any{
		"op":                "final",
		"seq":               result.Seq,
		"baby":              nil,
		"ageMonths":         s.AgeMonths,
		"activeSleep":       nil,
		"todaySleeps":       len(s.TodaySleeps),
		"diaperCount":       s.DiaperCount,
		"nextNap":           nil,
		"wakeWindowMinutes": nil,
	}
	if s.Baby != nil {
		line["baby"] = s.Baby.Name
	}
	if s.ActiveSleep != nil {
		line["activeSleep"] = s.ActiveSleep.ID
	}
	if p := s.Prediction; p != nil {
		line["wakeWindowMinutes"] = p.WakeWindowMinutes
		if p.NextNap != nil {
			line["nextNap"] = p.NextNap.UTC().Format(time.RFC3339)
		}
	}
	return line
}

func writeLine(buf *bytes.Buffer, v map[string]any) error {
	raw, err := ir.MarshalCanonical(v)
	if err != nil {
		return err
	}
	buf.Write(raw)
	buf.WriteByte('\n')
	return nil
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	trace, err := TraceLines(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, trace)
	return nil
}
