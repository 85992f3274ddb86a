// Package engine implements the orchestrate state machine and the session
// that drives it.
//
// ARCHITECTURE:
//
// Navigator:
// The Navigator is a single-writer finite state machine over five schedules
// of three processes each. It accepts one call at a time and considers a
// move committed only after its Recorder (the session store) has durably
// returned. It holds no locks; the Session serializes access.
//
// Suspension:
// Every critical violation (E001-E009) freezes the Navigator through its
// SuspensionController. State() keeps reporting the last valid position;
// Suspension() reports the overlay record. Only a continuation directive
// (retry, skip, abort, investigate) lifts or annotates the record.
//
// Session:
// A Session owns exactly one Navigator, one store.Store, one event Bus and
// one metrics registry. After every call it persists the navigator snapshot
// next to the transition log so a later process can reopen the session.
//
// CRITICAL PATTERNS:
//
// Logical clock:
// Events are stamped with a monotonic seq from Clock.Next(), never with
// wall-clock time.
//
// System errors (E010-E015) bubble to the caller and leave the Navigator
// exactly as it was.
package engine
