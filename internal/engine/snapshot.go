package engine

import (
	"github.com/cadenroberts/OllamaBot-sub000/internal/flowcode"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// Snapshot is the persisted navigator position. The transition log itself
// lives in the store; Transitions and FlowCode let a reader check that the
// snapshot belongs to that log.
type Snapshot struct {
	State          State              `json:"state"`
	Terminated     []model.ScheduleID `json:"terminated"`
	LastTerminated model.ScheduleID   `json:"last_terminated,omitempty"`
	LastCall       *Call              `json:"last_call,omitempty"`
	Suspension     *SuspensionRecord  `json:"suspension,omitempty"`
	Transitions    int                `json:"transitions"`
	FlowCode       string             `json:"flow_code"`
}

// Snapshot captures the navigator, suspension overlay included.
func (n *Navigator) Snapshot() Snapshot {
	snap := Snapshot{
		State:          n.state,
		Terminated:     n.Terminated(),
		LastTerminated: n.lastTerminated,
		Transitions:    len(n.transitions),
		FlowCode:       n.FlowCode(),
	}
	if n.lastCall != nil {
		c := *n.lastCall
		snap.LastCall = &c
	}
	if rec, ok := n.ctl.Record(); ok {
		snap.Suspension = &rec
	}
	return snap
}

// Load replaces the navigator's position with snap over the committed log.
// It fails with E009 when snap does not describe log; the navigator is
// left untouched in that case.
func (n *Navigator) Load(snap Snapshot, log []model.Transition) error {
	call := Call{Kind: CallOpen}
	if snap.Transitions != len(log) {
		return violation(model.ErrFlowCodeCorrupt, call,
			"snapshot covers %d transitions, log has %d", snap.Transitions, len(log))
	}
	if code := flowcode.Encode(log); snap.FlowCode != code {
		return violation(model.ErrFlowCodeCorrupt, call,
			"snapshot flow code %q does not match log %q", snap.FlowCode, code)
	}
	for _, s := range snap.Terminated {
		if !s.Valid() {
			return violation(model.ErrFlowCodeCorrupt, call, "snapshot terminates unknown schedule %d", int(s))
		}
	}

	n.reset()
	n.state = snap.State
	n.transitions = append([]model.Transition(nil), log...)
	for _, s := range snap.Terminated {
		n.terminated[s] = true
	}
	n.lastTerminated = snap.LastTerminated
	if snap.LastCall != nil {
		c := *snap.LastCall
		n.lastCall = &c
	}
	if snap.State.Phase == PhasePromptTerminated {
		n.frozen = snap.FlowCode
	}
	if snap.Suspension != nil {
		rec := *snap.Suspension
		n.ctl.record = &rec
	}
	return nil
}

// Rebuild derives the navigator position from the committed log and the
// schedule checkpoints alone. A selection without a committed process, a
// running process and any suspension are not recoverable this way.
func (n *Navigator) Rebuild(log []model.Transition, checkpoints []model.CheckpointRef) {
	n.reset()

	terminations := make(map[int]model.ScheduleID)
	for _, c := range checkpoints {
		if c.Kind == model.CheckpointSchedule {
			terminations[c.Index] = c.Schedule
		}
	}

	for i, tr := range log {
		if n.state.Phase != PhaseInSchedule || n.state.Schedule != tr.Schedule {
			n.state = State{Phase: PhaseInSchedule, Schedule: tr.Schedule}
		}
		n.state.Process = tr.Process
		n.state.Outcome = tr.Outcome
		n.transitions = append(n.transitions, tr)
		n.succeeded(Call{Kind: CallTerminateProcess, Schedule: tr.Schedule, Process: tr.Process})

		if sid, ok := terminations[i+1]; ok {
			n.terminated[sid] = true
			n.lastTerminated = sid
			n.state = State{Phase: PhaseScheduleTerminated, Schedule: sid}
			n.succeeded(Call{Kind: CallTerminateSchedule, Schedule: sid})
		}
	}
}

func (n *Navigator) reset() {
	n.state = State{Phase: PhaseIdle}
	n.transitions = nil
	n.terminated = [model.NumSchedules + 1]bool{}
	n.lastTerminated = 0
	n.lastCall = nil
	n.frozen = ""
	n.ctl.record = nil
}
