package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadenroberts/OllamaBot-sub000/internal/flowcode"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// Recorder durably persists committed navigator moves. *store.Store
// implements it.
type Recorder interface {
	Append(ctx context.Context, tr model.Transition, diffForward []byte) (model.StateNode, error)

	// Checkpoint archives the head tree. Schedule 0 requests a final
	// checkpoint.
	Checkpoint(ctx context.Context, sid model.ScheduleID) (model.CheckpointRef, error)
}

// Navigator is the schedule/process state machine.
//
// A move is committed only once the Recorder returns; a Recorder failure
// is returned unchanged and leaves the Navigator exactly as it was. Any
// rule violation suspends the Navigator through its SuspensionController.
//
// Navigator is not safe for concurrent use. Session serializes calls.
type Navigator struct {
	rec    Recorder
	bus    *Bus
	logger *slog.Logger
	ctl    *SuspensionController

	state       State
	transitions []model.Transition

	// terminated[s] is set once schedule s has been terminated.
	terminated     [model.NumSchedules + 1]bool
	lastTerminated model.ScheduleID

	// lastCall is the last call that succeeded, re-issued by Retry.
	lastCall *Call

	// frozen is the flow code captured at prompt termination.
	frozen string
}

// NewNavigator returns an Idle navigator recording through rec.
func NewNavigator(rec Recorder, opts ...Option) *Navigator {
	cfg := newSettings(opts)
	n := &Navigator{
		rec:    rec,
		bus:    cfg.bus,
		logger: cfg.logger.With(slog.String("component", "navigator")),
		state:  State{Phase: PhaseIdle},
	}
	n.ctl = &SuspensionController{
		nav:          n,
		investigator: cfg.investigator,
		logger:       cfg.logger.With(slog.String("component", "suspension")),
	}
	return n
}

// State returns the last valid position. A violation never changes it.
func (n *Navigator) State() State {
	return n.state
}

// Suspension returns the active suspension record, if any.
func (n *Navigator) Suspension() (SuspensionRecord, bool) {
	return n.ctl.Record()
}

// Controller returns the suspension controller.
func (n *Navigator) Controller() *SuspensionController {
	return n.ctl
}

// Transitions returns a copy of the committed transitions.
func (n *Navigator) Transitions() []model.Transition {
	return append([]model.Transition(nil), n.transitions...)
}

// Terminated lists the schedules terminated at least once, ascending.
func (n *Navigator) Terminated() []model.ScheduleID {
	var out []model.ScheduleID
	for s := model.ScheduleID(1); s <= model.NumSchedules; s++ {
		if n.terminated[s] {
			out = append(out, s)
		}
	}
	return out
}

// FlowCode renders the committed transitions. After prompt termination it
// returns the frozen code.
func (n *Navigator) FlowCode() string {
	if n.state.Phase == PhasePromptTerminated {
		return n.frozen
	}
	return flowcode.Encode(n.transitions)
}

// Resume applies a continuation directive. See SuspensionController.Resume.
func (n *Navigator) Resume(ctx context.Context, d Directive) error {
	return n.ctl.Resume(ctx, d)
}

// guard refuses every call while suspended (E005) or after the prompt was
// terminated (E007). Neither creates a new suspension record.
func (n *Navigator) guard(call Call) error {
	if rec, ok := n.ctl.Record(); ok {
		return violation(model.ErrSessionSuspended, call,
			"suspended on %s after %s; apply a directive", rec.Code, rec.Attempted)
	}
	if n.state.Phase == PhasePromptTerminated {
		return violation(model.ErrPromptTerminated, call, "prompt already terminated")
	}
	return nil
}

// violate suspends the navigator and returns the violation.
func (n *Navigator) violate(code model.ErrorCode, call Call, format string, args ...any) error {
	err := violation(code, call, format, args...)
	n.ctl.raise(componentNavigator, code, n.state, call, err.Message)
	return err
}

// SelectSchedule enters schedule id. Legal from Idle or ScheduleTerminated,
// in any order.
func (n *Navigator) SelectSchedule(id model.ScheduleID) error {
	call := Call{Kind: CallSelectSchedule, Schedule: id}
	if err := n.guard(call); err != nil {
		return err
	}
	if !id.Valid() {
		return n.violate(model.ErrUnknownIdentifier, call, "schedule %d does not exist", int(id))
	}
	if n.state.Phase != PhaseIdle && n.state.Phase != PhaseScheduleTerminated {
		return n.violate(model.ErrPhaseViolation, call,
			"cannot enter %s from %s; terminate the current schedule first", id, n.state)
	}

	n.state = State{Phase: PhaseInSchedule, Schedule: id}
	n.succeeded(call)
	n.logger.Info("schedule selected", slog.String("schedule", scheduleName(id)))
	return nil
}

// SelectProcess starts process id in the current schedule. It must satisfy
// the adjacency table relative to the last committed process.
func (n *Navigator) SelectProcess(id model.ProcessID) error {
	call := Call{Kind: CallSelectProcess, Schedule: n.state.Schedule, Process: id}
	if err := n.guard(call); err != nil {
		return err
	}
	if n.state.Phase != PhaseInSchedule {
		return n.violate(model.ErrPhaseViolation, call, "no schedule selected (%s)", n.state)
	}
	if !id.Valid() {
		return n.violate(model.ErrUnknownIdentifier, call, "process %d does not exist", int(id))
	}
	if n.state.Running != 0 {
		return n.violate(model.ErrProcessState, call, "%s is still running", n.state.Running)
	}
	if !model.CanFollow(n.state.Process, id) {
		return n.violate(model.ErrProcessAdjacency, call,
			"%s cannot follow %s; allowed: %s", id, lastLabel(n.state.Process), joinProcesses(model.Successors(n.state.Process)))
	}

	n.state.Running = id
	n.succeeded(call)
	n.logger.Info("process selected", slog.String("step", model.StepName(n.state.Schedule, id)))
	return nil
}

// TerminateProcess commits the running process. A nil failure records a
// completed process; otherwise the transition carries the error code. The
// StateNode is durable when TerminateProcess returns.
func (n *Navigator) TerminateProcess(ctx context.Context, diff []byte, failure *model.ErrorCode) (model.StateNode, error) {
	call := Call{Kind: CallTerminateProcess, Schedule: n.state.Schedule, Process: n.state.Running}
	if err := n.guard(call); err != nil {
		return model.StateNode{}, err
	}
	if n.state.Phase != PhaseInSchedule || n.state.Running == 0 {
		return model.StateNode{}, n.violate(model.ErrProcessState, call, "no process is running (%s)", n.state)
	}

	tr := model.Transition{Schedule: n.state.Schedule, Process: n.state.Running, Outcome: model.OutcomeCompleted}
	if failure != nil {
		tr.Outcome = model.OutcomeError
		tr.Code = *failure
	}

	node, err := n.rec.Append(ctx, tr, diff)
	if err != nil {
		n.logger.Warn("transition not committed", slog.String("transition", tr.String()), slog.Any("error", err))
		return model.StateNode{}, err
	}

	n.state.Process = tr.Process
	n.state.Outcome = tr.Outcome
	n.state.Running = 0
	n.transitions = append(n.transitions, tr)
	n.succeeded(call)

	n.logger.Info("transition committed",
		slog.String("transition", tr.String()),
		slog.Int("node", node.ID),
		slog.String("files_hash", node.FilesHash))
	n.publish(Event{Kind: EventTransitionCommitted, Transition: &tr, Node: node.ID})
	return node, nil
}

// CancelProcess abandons the running process. No StateNode is written and
// the position is unchanged.
func (n *Navigator) CancelProcess() error {
	call := Call{Kind: CallCancelProcess, Schedule: n.state.Schedule, Process: n.state.Running}
	if err := n.guard(call); err != nil {
		return err
	}
	if n.state.Phase != PhaseInSchedule || n.state.Running == 0 {
		return n.violate(model.ErrProcessState, call, "no process is running (%s)", n.state)
	}

	n.state.Running = 0
	n.succeeded(call)
	n.logger.Info("process cancelled", slog.String("step", model.StepName(call.Schedule, call.Process)))
	return nil
}

// TerminateSchedule ends the current schedule after a completed P3 and
// writes its checkpoint.
func (n *Navigator) TerminateSchedule(ctx context.Context) (model.CheckpointRef, error) {
	call := Call{Kind: CallTerminateSchedule, Schedule: n.state.Schedule}
	if err := n.guard(call); err != nil {
		return model.CheckpointRef{}, err
	}
	if n.state.Phase != PhaseInSchedule {
		return model.CheckpointRef{}, n.violate(model.ErrPhaseViolation, call, "no schedule selected (%s)", n.state)
	}
	if n.state.Running != 0 {
		return model.CheckpointRef{}, n.violate(model.ErrProcessState, call, "%s is still running", n.state.Running)
	}
	if !model.CanTerminateSchedule(n.state.Process, n.state.Outcome) {
		return model.CheckpointRef{}, n.violate(model.ErrPrematureScheduleEnd, call,
			"last committed process is %s; a completed P3 is required", lastLabel(n.state.Process))
	}

	ref, err := n.rec.Checkpoint(ctx, n.state.Schedule)
	if err != nil {
		n.logger.Warn("schedule not terminated", slog.String("schedule", n.state.Schedule.String()), slog.Any("error", err))
		return model.CheckpointRef{}, err
	}

	sid := n.state.Schedule
	n.terminated[sid] = true
	n.lastTerminated = sid
	n.state = State{Phase: PhaseScheduleTerminated, Schedule: sid}
	n.succeeded(call)

	n.logger.Info("schedule terminated", slog.String("schedule", scheduleName(sid)), slog.String("checkpoint", ref.Path))
	n.publish(Event{Kind: EventCheckpointWritten, Checkpoint: &ref})
	return ref, nil
}

// TerminatePrompt ends the session. Every schedule must have been
// terminated at least once and the most recent termination must be
// Production. The flow code is frozen afterwards.
func (n *Navigator) TerminatePrompt(ctx context.Context) error {
	call := Call{Kind: CallTerminatePrompt}
	if err := n.guard(call); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return model.NewSystemError(model.ErrCancelled, "terminate prompt", err)
	}

	var missing []string
	for s := model.ScheduleID(1); s <= model.NumSchedules; s++ {
		if !n.terminated[s] {
			missing = append(missing, s.String())
		}
	}
	switch {
	case len(missing) > 0:
		return n.violate(model.ErrPrematurePromptEnd, call,
			"schedules never terminated: %s", strings.Join(missing, ", "))
	case n.state.Phase != PhaseScheduleTerminated:
		return n.violate(model.ErrPrematurePromptEnd, call, "a schedule is in progress (%s)", n.state)
	case n.lastTerminated != model.NumSchedules:
		return n.violate(model.ErrPrematurePromptEnd, call,
			"most recent termination is %s; Production must terminate last", n.lastTerminated)
	}

	n.frozen = flowcode.Encode(n.transitions)
	n.state = State{Phase: PhasePromptTerminated}
	n.succeeded(call)

	n.logger.Info("prompt terminated", slog.String("flow_code", n.frozen))
	n.publish(Event{Kind: EventPromptTerminated, FlowCode: n.frozen})
	return nil
}

func (n *Navigator) succeeded(call Call) {
	c := call
	n.lastCall = &c
}

func (n *Navigator) publish(e Event) {
	if n.bus != nil {
		n.bus.Publish(e)
	}
}

// dispatch re-enters the navigator on behalf of a directive.
func (n *Navigator) dispatch(call Call) error {
	switch call.Kind {
	case CallSelectSchedule:
		return n.SelectSchedule(call.Schedule)
	case CallSelectProcess:
		return n.SelectProcess(call.Process)
	default:
		return fmt.Errorf("cannot re-issue %s", call)
	}
}

func scheduleName(id model.ScheduleID) string {
	if s, ok := model.LookupSchedule(id); ok {
		return s.Name
	}
	return id.String()
}

func lastLabel(p model.ProcessID) string {
	if p == 0 {
		return "none"
	}
	return p.String()
}

func joinProcesses(ps []model.ProcessID) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
