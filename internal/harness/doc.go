// Package harness replays scripted event scenarios against a real
// coordinator and checks the resulting state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: start_end_rebuild
//	description: "What this scenario validates"
//	time_zone: UTC
//	now: "2026-03-01T09:00:00Z"
//	steps:
//	  - submit:
//	      - type: baby.created
//	        payload: { name: Mia, birthdate: "2025-11-01" }
//	    expect: { seq: 1 }
//	  - advance: 45m
//	    origin: phone
//	    submit:
//	      - type: sleep.ended
//	        payload: { sleepId: 2, endTime: "2026-03-01T09:45:00Z" }
//	  - rebuild: true
//	assertions:
//	  - type: state
//	    path: activeSleep
//	    equals: null
//	  - type: log_count
//	    event_type: sleep.ended
//	    count: 1
//
// Each step either submits one batch or rebuilds the projection. advance
// moves the scenario clock before the step runs. An expect clause with an
// error code requires the batch to be rejected with that code.
//
// # Assertion Types
//
//   - state: the value at a dot path of the final snapshot ("#" is a length)
//   - log_count: the log holds exactly count events of event_type
//   - log_order: event types appear in the log in this relative order
//
// # Determinism
//
// The clock only moves when a step says so and batch ids are fixed, so a
// scenario produces the same trace on every run. After the last step the
// harness rebuilds the projection once more and compares derived-table
// digests; a difference fails the scenario.
package harness
