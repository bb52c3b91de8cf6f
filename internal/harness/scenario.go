package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/napper/internal/ir"
)

// Scenario is a scripted sequence of submissions against a fresh log.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TimeZone is the zone day boundaries are computed in. Defaults to UTC.
	TimeZone string `yaml:"time_zone,omitempty"`

	// Now is the scenario clock at the first step, RFC 3339.
	Now string `yaml:"now"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	start time.Time
}

// Step submits one batch, or rebuilds the projection when Rebuild is set.
type Step struct {
	// Advance moves the clock forward before the step.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Origin is the client id the batch is submitted under.
	Origin string `yaml:"origin,omitempty"`

	Submit  []EventStep   `yaml:"submit,omitempty"`
	Rebuild bool          `yaml:"rebuild,omitempty"`
	Expect  *ExpectClause `yaml:"expect,omitempty"`
}

// EventStep is one event of a batch.
type EventStep struct {
	Type      string         `yaml:"type"`
	ClientID  string         `yaml:"client_id,omitempty"`
	ClientSeq *int64         `yaml:"client_seq,omitempty"`
	Payload   map[string]any `yaml:"payload"`
}

// ExpectClause checks a step's outcome.
type ExpectClause struct {
	// Error is the coordinator error code the batch must be rejected with.
	Error string `yaml:"error,omitempty"`

	// Index is the offending event's batch position, checked with Error.
	Index *int `yaml:"index,omitempty"`

	// Seq is the last seq of the log after a successful step.
	Seq int64 `yaml:"seq,omitempty"`
}

// Assertion validates the final log or state.
type Assertion struct {
	// Type is one of state, log_count, log_order.
	Type string `yaml:"type"`

	// Path and Equals are used by state.
	Path   string `yaml:"path,omitempty"`
	Equals any    `yaml:"equals"`

	// EventType and Count are used by log_count.
	EventType string `yaml:"event_type,omitempty"`
	Count     int    `yaml:"count,omitempty"`

	// Types is the expected relative order, used by log_order.
	Types []string `yaml:"types,omitempty"`
}

// Assertion type constants.
const (
	AssertState    = "state"
	AssertLogCount = "log_count"
	AssertLogOrder = "log_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Now == "" {
		return fmt.Errorf("now is required")
	}
	start, err := time.Parse(time.RFC3339, s.Now)
	if err != nil {
		return fmt.Errorf("now: %w", err)
	}
	s.start = start
	if s.TimeZone != "" {
		if _, err := time.LoadLocation(s.TimeZone); err != nil {
			return fmt.Errorf("time_zone: %w", err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Rebuild == (len(step.Submit) > 0) {
			return fmt.Errorf("steps[%d]: exactly one of submit or rebuild is required", i)
		}
		if step.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be non-negative", i)
		}
		for j, ev := range step.Submit {
			if ev.Type == "" {
				return fmt.Errorf("steps[%d].submit[%d]: type is required", i, j)
			}
			if (ev.ClientID == "") != (ev.ClientSeq == nil) {
				return fmt.Errorf("steps[%d].submit[%d]: client_id and client_seq go together", i, j)
			}
		}
		if step.Expect != nil && step.Expect.Index != nil && step.Expect.Error == "" {
			return fmt.Errorf("steps[%d].expect: index requires error", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertState:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for state", index)
		}
	case AssertLogCount:
		if a.EventType == "" {
			return fmt.Errorf("assertions[%d]: event_type is required for log_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for log_count", index)
		}
	case AssertLogOrder:
		if len(a.Types) == 0 {
			return fmt.Errorf("assertions[%d]: types list is required for log_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// location resolves TimeZone. validateScenario has already checked it.
func (s *Scenario) location() *time.Location {
	if s.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// newEvents encodes a step's batch.
func (st Step) newEvents() ([]ir.NewEvent, error) {
	out := make([]ir.NewEvent, 0, len(st.Submit))
	for i, ev := range st.Submit {
		payload := ev.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("submit[%d]: %w", i, err)
		}
		out = append(out, ir.NewEvent{
			Type:      ir.EventType(ev.Type),
			Payload:   raw,
			ClientID:  ev.ClientID,
			ClientSeq: ev.ClientSeq,
		})
	}
	return out, nil
}
