package model

import "fmt"

// Outcome is how a process ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
)

// Transition is a single committed move. It is produced exactly once per
// Navigator call that succeeds or fails terminally.
type Transition struct {
	Schedule ScheduleID `json:"schedule"`
	Process  ProcessID  `json:"process"`
	Outcome  Outcome    `json:"outcome"`

	// Code is set only when Outcome is OutcomeError. The textual flow code
	// does not carry it, so a decoded error transition has an empty Code.
	Code ErrorCode `json:"code,omitempty"`
}

// Completed reports whether the process finished successfully.
func (t Transition) Completed() bool {
	return t.Outcome == OutcomeCompleted
}

func (t Transition) String() string {
	if t.Outcome == OutcomeError {
		if t.Code != "" {
			return fmt.Sprintf("%s%sX(%s)", t.Schedule, t.Process, t.Code)
		}
		return fmt.Sprintf("%s%sX", t.Schedule, t.Process)
	}
	return fmt.Sprintf("%s%s", t.Schedule, t.Process)
}

// StateNode is one persisted point in session history. Nodes form a strict
// linear sequence: node n's predecessor is n-1 and its successor is n+1.
type StateNode struct {
	ID         int        `json:"id"`
	Schedule   ScheduleID `json:"schedule"`
	Process    ProcessID  `json:"process"`
	Outcome    Outcome    `json:"outcome"`
	ErrorCode  ErrorCode  `json:"error_code,omitempty"`
	FilesHash  string     `json:"files_hash"`
	ParentHash string     `json:"parent_hash"`
	NodeHash   string     `json:"node_hash"`
	ActionIDs  []string   `json:"action_ids"`

	// Diffs are held in memory and persisted as separate files under
	// actions/diffs, never inline in the .state file.
	DiffForward  []byte `json:"-"`
	DiffBackward []byte `json:"-"`
}

// Transition returns the transition this node committed.
func (n StateNode) Transition() Transition {
	return Transition{Schedule: n.Schedule, Process: n.Process, Outcome: n.Outcome, Code: n.ErrorCode}
}

// CheckpointKind says why a checkpoint was taken.
type CheckpointKind string

const (
	CheckpointBase     CheckpointKind = "base"
	CheckpointSchedule CheckpointKind = "schedule"
	CheckpointFinal    CheckpointKind = "final"
)

// CheckpointRef locates a full-tree archive. Index is the StateNode id at
// which the archive was taken; index 0 is the session baseline.
type CheckpointRef struct {
	Index     int            `json:"index"`
	Schedule  ScheduleID     `json:"schedule"`
	Kind      CheckpointKind `json:"kind"`
	Path      string         `json:"path"`
	FilesHash string         `json:"files_hash"`
}
