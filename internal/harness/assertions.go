package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/napper/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the log to help debug the failure.
type AssertionError struct {
	Type     string     // Assertion type for categorization
	Expected string     // Human-readable expected outcome
	Actual   string     // Human-readable actual outcome
	Log      []ir.Event // Full log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Log) > 0 {
		fmt.Fprintf(&buf, "\nLog:\n")
		for _, ev := range e.Log {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Seq, ev.Type, ev.Payload)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertState:
			err = assertState(result, a)
		case AssertLogCount:
			err = assertLogCount(result.Log, a)
		case AssertLogOrder:
			err = assertLogOrder(result.Log, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertState compares the value at a dot path of the snapshot JSON with
// the expected value. Both sides are compared as canonical JSON, so 4 and
// 4.0 differ but key order does not matter.
func assertState(result *Result, a Assertion) error {
	doc, err := toJSONValue(result.State)
	if err != nil {
		return err
	}

	actual, err := lookupPath(doc, a.Path)
	if err != nil {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s = %v", a.Path, a.Equals),
			Actual:   err.Error(),
		}
	}

	want, err := canonicalJSON(a.Equals)
	if err != nil {
		return fmt.Errorf("encode expected value: %w", err)
	}
	got, err := canonicalJSON(actual)
	if err != nil {
		return fmt.Errorf("encode actual value: %w", err)
	}
	if !bytes.Equal(want, got) {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s = %s", a.Path, want),
			Actual:   fmt.Sprintf("%s = %s", a.Path, got),
		}
	}
	return nil
}

// assertLogCount checks the number of events of one type.
func assertLogCount(log []ir.Event, a Assertion) error {
	count := 0
	for _, ev := range log {
		if string(ev.Type) == a.EventType {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertLogCount,
			Expected: fmt.Sprintf("%d events of %s", a.Count, a.EventType),
			Actual:   fmt.Sprintf("%d events", count),
			Log:      log,
		}
	}
	return nil
}

// assertLogOrder checks that the types occur in this relative order.
// Intervening events are allowed.
func assertLogOrder(log []ir.Event, a Assertion) error {
	next := 0
	for _, ev := range log {
		if next < len(a.Types) && string(ev.Type) == a.Types[next] {
			next++
		}
	}
	if next < len(a.Types) {
		return &AssertionError{
			Type:     AssertLogOrder,
			Expected: fmt.Sprintf("types in order: %v", a.Types),
			Actual:   fmt.Sprintf("%s not found after %v", a.Types[next], a.Types[:next]),
			Log:      log,
		}
	}
	return nil
}

// toJSONValue round-trips v through encoding/json into plain values with
// json.Number leaves.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ir.Canonicalize(raw)
}

// lookupPath walks a dot path. Segments are object keys or array indexes;
// a final "#" yields the length of an array.
func lookupPath(doc any, path string) (any, error) {
	cur := doc
	walked := "$"
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("%s has no field %q", walked, seg)
			}
			cur = v
		case []any:
			if seg == "#" {
				cur = len(node)
				break
			}
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("%s has no element %q (length %d)", walked, seg, len(node))
			}
			cur = node[i]
		case nil:
			return nil, fmt.Errorf("%s is null", walked)
		default:
			return nil, fmt.Errorf("%s is not a container", walked)
		}
		walked += "." + seg
	}
	return cur, nil
}
