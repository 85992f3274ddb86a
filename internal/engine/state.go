package engine

import (
	"fmt"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// Phase is the coarse navigator state. Suspension is an overlay, not a phase.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseInSchedule         Phase = "in_schedule"
	PhaseScheduleTerminated Phase = "schedule_terminated"
	PhasePromptTerminated   Phase = "prompt_terminated"
)

// State is a valid navigator position.
type State struct {
	Phase    Phase            `json:"phase"`
	Schedule model.ScheduleID `json:"schedule,omitempty"`

	// Process is the last committed process of the current schedule entry,
	// 0 when none has been committed yet.
	Process model.ProcessID `json:"process,omitempty"`
	Outcome model.Outcome   `json:"outcome,omitempty"`

	// Running is the selected process awaiting termination, 0 when none.
	Running model.ProcessID `json:"running,omitempty"`
}

func (s State) String() string {
	switch s.Phase {
	case PhaseInSchedule:
		last := "-"
		if s.Process != 0 {
			last = s.Process.String()
			if s.Outcome == model.OutcomeError {
				last += "X"
			}
		}
		out := fmt.Sprintf("InSchedule(%s, %s)", s.Schedule, last)
		if s.Running != 0 {
			out += " running " + s.Running.String()
		}
		return out
	case PhaseScheduleTerminated:
		return fmt.Sprintf("ScheduleTerminated(%s)", s.Schedule)
	case PhasePromptTerminated:
		return "PromptTerminated"
	default:
		return "Idle"
	}
}

// CallKind names a navigator operation.
type CallKind string

const (
	CallSelectSchedule    CallKind = "select_schedule"
	CallSelectProcess     CallKind = "select_process"
	CallTerminateProcess  CallKind = "terminate_process"
	CallCancelProcess     CallKind = "cancel_process"
	CallTerminateSchedule CallKind = "terminate_schedule"
	CallTerminatePrompt   CallKind = "terminate_prompt"
	CallResume            CallKind = "resume"
	CallOpen              CallKind = "open"
)

// Call is one attempted navigator operation and its arguments.
type Call struct {
	Kind     CallKind         `json:"kind"`
	Schedule model.ScheduleID `json:"schedule,omitempty"`
	Process  model.ProcessID  `json:"process,omitempty"`
}

func (c Call) String() string {
	switch c.Kind {
	case CallSelectSchedule:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Schedule)
	case CallSelectProcess, CallTerminateProcess, CallCancelProcess:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Process)
	case CallTerminateSchedule:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Schedule)
	default:
		return string(c.Kind)
	}
}
