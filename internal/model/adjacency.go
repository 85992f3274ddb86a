package model

// adjacency[from][to] reports whether process to may follow process from
// within one schedule entry. Row 0 is the entry point: a schedule always
// starts at P1.
var adjacency = [NumProcesses + 1][NumProcesses + 1]bool{
	0: {1: true},
	1: {1: true, 2: true},
	2: {1: true, 2: true, 3: true},
	3: {2: true, 3: true},
}

// CanFollow reports whether process to is a legal successor of from. A from
// value of 0 means no process has run yet in the current schedule entry.
func CanFollow(from, to ProcessID) bool {
	if from < 0 || from > NumProcesses || !to.Valid() {
		return false
	}
	return adjacency[from][to]
}

// Successors lists the legal successors of from in ascending order.
func Successors(from ProcessID) []ProcessID {
	var out []ProcessID
	for to := ProcessID(1); to <= NumProcesses; to++ {
		if CanFollow(from, to) {
			out = append(out, to)
		}
	}
	return out
}

// CanTerminateSchedule reports whether a schedule whose last process was
// last (with the given outcome) may be terminated.
func CanTerminateSchedule(last ProcessID, outcome Outcome) bool {
	return last == NumProcesses && outcome == OutcomeCompleted
}
