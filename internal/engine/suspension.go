package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

const (
	componentNavigator = "navigator"
	componentFlowCodec = "flowcodec"
)

// SuspensionRecord describes a frozen navigator. Records are values: a
// directive that changes one (Abort) replaces it.
type SuspensionRecord struct {
	FrozenFlowCode string          `json:"frozen_flow_code"`
	LastValid      State           `json:"last_valid"`
	Code           model.ErrorCode `json:"error_code"`
	Component      string          `json:"violating_component"`
	Attempted      Call            `json:"attempted"`
	Message        string          `json:"message"`

	// Aborted is set by the Abort directive. Retry and skip are refused
	// afterwards.
	Aborted bool `json:"aborted,omitempty"`
}

// Directive is a continuation applied to a suspended navigator.
type Directive string

const (
	DirectiveRetry       Directive = "retry"
	DirectiveSkip        Directive = "skip"
	DirectiveAbort       Directive = "abort"
	DirectiveInvestigate Directive = "investigate"
)

// ParseDirective accepts the directive names plus "skip-to-next-valid".
func ParseDirective(s string) (Directive, error) {
	switch s {
	case "retry":
		return DirectiveRetry, nil
	case "skip", "skip-to-next-valid":
		return DirectiveSkip, nil
	case "abort":
		return DirectiveAbort, nil
	case "investigate":
		return DirectiveInvestigate, nil
	default:
		return "", fmt.Errorf("unknown directive %q (want retry, skip, abort or investigate)", s)
	}
}

// Investigator is an external debugging collaborator. It receives the
// record and must not call back into the session.
type Investigator interface {
	Investigate(ctx context.Context, rec SuspensionRecord) error
}

// InvestigatorFunc adapts a function to Investigator.
type InvestigatorFunc func(ctx context.Context, rec SuspensionRecord) error

// Investigate calls f.
func (f InvestigatorFunc) Investigate(ctx context.Context, rec SuspensionRecord) error {
	return f(ctx, rec)
}

// SuspensionController owns the suspension overlay of one Navigator.
type SuspensionController struct {
	nav          *Navigator
	investigator Investigator
	logger       *slog.Logger

	record *SuspensionRecord
}

// Record returns the active record.
func (c *SuspensionController) Record() (SuspensionRecord, bool) {
	if c.record == nil {
		return SuspensionRecord{}, false
	}
	return *c.record, true
}

// OnViolation freezes the navigator at lastValid and returns the new record.
func (c *SuspensionController) OnViolation(code model.ErrorCode, lastValid State, attempted Call) SuspensionRecord {
	return c.raise(componentNavigator, code, lastValid, attempted, code.Description())
}

func (c *SuspensionController) raise(component string, code model.ErrorCode, lastValid State, attempted Call, message string) SuspensionRecord {
	rec := SuspensionRecord{
		FrozenFlowCode: c.nav.FlowCode(),
		LastValid:      lastValid,
		Code:           code,
		Component:      component,
		Attempted:      attempted,
		Message:        message,
	}
	c.record = &rec

	c.logger.Warn("navigator suspended",
		slog.String("code", string(code)),
		slog.String("attempted", attempted.String()),
		slog.String("last_valid", lastValid.String()),
		slog.String("message", message))
	r := rec
	c.nav.publish(Event{Kind: EventViolationRaised, Suspension: &r})
	return rec
}

func (c *SuspensionController) clear(d Directive) {
	c.record = nil
	c.nav.publish(Event{Kind: EventSuspensionResolved, Directive: d})
}

// Resume applies directive d to the active suspension.
//
//   - retry lifts the suspension and re-issues the last successful call: a
//     committed or cancelled process is selected again, a terminated
//     schedule is entered again. Selections already in effect are kept.
//   - skip lifts the suspension and moves to the nearest legal position
//     from the last valid state (a P1 to P3 attempt lands on P2).
//   - abort writes a final checkpoint and keeps the navigator suspended,
//     marking the record aborted.
//   - investigate hands the record to the Investigator and keeps it.
//
// A re-issued call that violates again raises a new suspension and returns
// its error.
func (c *SuspensionController) Resume(ctx context.Context, d Directive) error {
	rec, ok := c.Record()
	if !ok {
		return ErrNotSuspended
	}
	attempt := Call{Kind: CallResume}

	switch d {
	case DirectiveRetry, DirectiveSkip:
		if rec.Aborted {
			return violation(model.ErrSessionSuspended, attempt, "session was aborted; only investigate is allowed")
		}
		var next *Call
		if d == DirectiveRetry {
			next = c.retryCall()
		} else {
			next = c.skipCall(rec)
		}
		c.clear(d)
		c.logger.Info("suspension lifted", slog.String("directive", string(d)), slog.String("code", string(rec.Code)))
		if next == nil {
			return nil
		}
		c.logger.Info("re-entering navigator", slog.String("call", next.String()))
		return c.nav.dispatch(*next)

	case DirectiveAbort:
		if rec.Aborted {
			return nil
		}
		ref, err := c.nav.rec.Checkpoint(ctx, 0)
		if err != nil {
			return err
		}
		rec.Aborted = true
		c.record = &rec
		c.logger.Warn("session aborted", slog.String("checkpoint", ref.Path), slog.String("code", string(rec.Code)))
		c.nav.publish(Event{Kind: EventCheckpointWritten, Checkpoint: &ref, Directive: d})
		return nil

	case DirectiveInvestigate:
		if c.investigator == nil {
			c.logger.Info("no investigator configured", slog.String("code", string(rec.Code)))
			return nil
		}
		return c.investigator.Investigate(ctx, rec)

	default:
		return fmt.Errorf("unknown directive %q", d)
	}
}

// retryCall maps the last successful call onto the call that repeats it.
// nil means the call's effect is already in place.
func (c *SuspensionController) retryCall() *Call {
	last := c.nav.lastCall
	if last == nil {
		return nil
	}
	switch last.Kind {
	case CallTerminateProcess, CallCancelProcess:
		return &Call{Kind: CallSelectProcess, Schedule: last.Schedule, Process: last.Process}
	case CallTerminateSchedule:
		return &Call{Kind: CallSelectSchedule, Schedule: last.Schedule}
	default:
		return nil
	}
}

// skipCall finds the nearest legal move from the current position toward
// what the violating call attempted.
func (c *SuspensionController) skipCall(rec SuspensionRecord) *Call {
	st := c.nav.state
	switch st.Phase {
	case PhaseInSchedule:
		if st.Running != 0 {
			return nil
		}
		want := model.ProcessID(model.NumProcesses)
		if rec.Attempted.Kind == CallSelectProcess && rec.Attempted.Process.Valid() {
			want = rec.Attempted.Process
		}
		return &Call{Kind: CallSelectProcess, Schedule: st.Schedule, Process: nearest(model.Successors(st.Process), want)}

	case PhaseIdle, PhaseScheduleTerminated:
		if rec.Attempted.Kind == CallSelectSchedule && rec.Attempted.Schedule.Valid() {
			return &Call{Kind: CallSelectSchedule, Schedule: rec.Attempted.Schedule}
		}
		for s := model.ScheduleID(1); s <= model.NumSchedules; s++ {
			if !c.nav.terminated[s] {
				return &Call{Kind: CallSelectSchedule, Schedule: s}
			}
		}
		return &Call{Kind: CallSelectSchedule, Schedule: model.NumSchedules}

	default:
		return nil
	}
}

// nearest picks the candidate closest to want, preferring the later one
// on a tie. candidates is never empty.
func nearest(candidates []model.ProcessID, want model.ProcessID) model.ProcessID {
	best := candidates[0]
	for _, p := range candidates[1:] {
		if dist(p, want) <= dist(best, want) {
			best = p
		}
	}
	return best
}

func dist(a, b model.ProcessID) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
