package model

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable identifier from the orchestrate error catalog.
type ErrorCode string

// Critical codes: FSM invariant violations raised by the Navigator or the
// suspension controller. Never retried automatically.
const (
	ErrProcessAdjacency     ErrorCode = "E001"
	ErrPhaseViolation       ErrorCode = "E002"
	ErrPrematurePromptEnd   ErrorCode = "E003"
	ErrUnknownIdentifier    ErrorCode = "E004"
	ErrSessionSuspended     ErrorCode = "E005"
	ErrProcessState         ErrorCode = "E006"
	ErrPromptTerminated     ErrorCode = "E007"
	ErrPrematureScheduleEnd ErrorCode = "E008"
	ErrFlowCodeCorrupt      ErrorCode = "E009"
)

// System codes: environment failures. They bubble to the immediate caller
// without mutating Navigator state.
const (
	ErrModelUnavailable     ErrorCode = "E010"
	ErrWorkspaceUnavailable ErrorCode = "E011"
	ErrPatchRejected        ErrorCode = "E012"
	ErrPersistenceFailed    ErrorCode = "E013"
	ErrCheckpointFailed     ErrorCode = "E014"
	ErrCancelled            ErrorCode = "E015"
)

// ErrorClass partitions the catalog.
type ErrorClass string

const (
	ClassCritical ErrorClass = "critical"
	ClassSystem   ErrorClass = "system"
	ClassUnknown  ErrorClass = "unknown"
)

// Class returns the class of the code.
func (c ErrorCode) Class() ErrorClass {
	switch {
	case c >= "E001" && c <= "E009" && len(c) == 4:
		return ClassCritical
	case c >= "E010" && c <= "E015" && len(c) == 4:
		return ClassSystem
	default:
		return ClassUnknown
	}
}

// Valid reports whether c is a catalog code.
func (c ErrorCode) Valid() bool {
	_, ok := descriptions[c]
	return ok
}

// Description returns the one-line catalog description.
func (c ErrorCode) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return "unknown error"
}

// Remediation returns the hardcoded remediation string for system codes.
func (c ErrorCode) Remediation() string {
	return remediations[c]
}

var descriptions = map[ErrorCode]string{
	ErrProcessAdjacency:     "process transition violates the adjacency table",
	ErrPhaseViolation:       "operation is not legal in the current navigator phase",
	ErrPrematurePromptEnd:   "prompt termination preconditions not met",
	ErrUnknownIdentifier:    "unknown schedule or process identifier",
	ErrSessionSuspended:     "session is suspended; apply a continuation directive",
	ErrProcessState:         "no process is running, or a process is already running",
	ErrPromptTerminated:     "prompt already terminated; flow code is frozen",
	ErrPrematureScheduleEnd: "schedule can only terminate after a completed P3",
	ErrFlowCodeCorrupt:      "flow code does not match the transition log",
	ErrModelUnavailable:     "model backend unavailable",
	ErrWorkspaceUnavailable: "working directory unavailable",
	ErrPatchRejected:        "process diff does not apply to the tracked tree",
	ErrPersistenceFailed:    "session state could not be persisted",
	ErrCheckpointFailed:     "checkpoint archive could not be written",
	ErrCancelled:            "process cancelled",
}

var remediations = map[ErrorCode]string{
	ErrModelUnavailable:     "Ollama is not running. Start Ollama with: ollama serve",
	ErrWorkspaceUnavailable: "Working directory is missing or unreadable. Check the --workdir path.",
	ErrPatchRejected:        "Regenerate the diff against the current session head and report the process again.",
	ErrPersistenceFailed:    "Check free disk space and write permissions on the session directory, then retry.",
	ErrCheckpointFailed:     "Check free disk space on the session directory, then terminate the schedule again.",
	ErrCancelled:            "Select the process again to re-run it.",
}

// SystemError is an environment failure carrying a remediation string.
type SystemError struct {
	Code ErrorCode
	Op   string
	Err  error
}

// NewSystemError wraps err under a system code.
func NewSystemError(code ErrorCode, op string, err error) *SystemError {
	return &SystemError{Code: code, Op: op, Err: err}
}

func (e *SystemError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Code.Description())
	if e.Op != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if r := e.Code.Remediation(); r != "" {
		msg += ". " + r
	}
	return msg
}

func (e *SystemError) Unwrap() error {
	return e.Err
}

// IsSystem reports whether err wraps a SystemError.
func IsSystem(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// SystemCode extracts the code of a wrapped SystemError.
func SystemCode(err error) (ErrorCode, bool) {
	var se *SystemError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}
