// Package harness runs orchestration scenarios.
//
// A scenario seeds a working directory, drives a real engine.Session through
// a list of navigator calls and checks the outcome. Each scenario runs in a
// fresh temporary directory with a fixed session id and clock, so its trace
// is reproducible and can be compared against a golden file.
//
// # Scenario Format
//
//	name: plan_adjacency
//	description: "P3 may not follow a fresh schedule selection"
//	files:
//	  README.md: "# demo\n"
//	steps:
//	  - call: schedule 2
//	  - call: process 3
//	    expect: { code: E001 }
//	  - call: resume skip
//	    expect: { state: "InSchedule(S2, -) running P1" }
//	  - call: complete
//	    write: { plan.md: "outline\n" }
//	assertions:
//	  - type: flow_code
//	    flow_code: S2P1
//	  - type: restore
//	    target: 1
//	    files: { plan.md: "outline\n" }
//
// Calls are schedule <n>, process <n>, complete, cancel, terminate schedule,
// terminate prompt, resume <directive> and reopen. Before a call, write and
// remove edit the working directory; complete captures those edits unless
// diff is given. error marks a completion as failed.
//
// expect checks the call's code ("ok", an error code such as E001, or
// not_suspended for a directive with nothing to resume), the navigator
// state string and the flow code. An empty expect clause means "ok". A
// step without expect may fail with any code.
//
// # Assertion Types
//
//   - flow_code: the session flow code equals flow_code
//   - phase: the navigator phase equals phase
//   - suspended: the session is suspended with code (any code when empty)
//   - not_suspended: the session is not suspended
//   - terminated: the terminated schedules equal schedules
//   - event_count: event appeared count times on the session bus
//   - node_count: the log holds count nodes
//   - restore: restoring target reproduces files and verifies
package harness
