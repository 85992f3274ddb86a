package flowcode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// Error describes why a flow code failed to decode.
type Error struct {
	// Code is the catalog code of the violated rule: E009 for malformed text,
	// E004 for out-of-range digits, E001 for adjacency and E008 for a block
	// that is left before its schedule could terminate.
	Code model.ErrorCode

	// Offset is the byte position in the input where the problem was found.
	Offset int

	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: flow code offset %d: %s", e.Code, e.Offset, e.Message)
}

// IsDecodeError reports whether err is (or wraps) a flow code decode error.
func IsDecodeError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}

// Encode renders transitions as a flow code.
//
// A new block starts when the schedule changes, or when the same schedule is
// re-entered after termination. The latter is recognised by a P1 following a
// completed P3, which can never happen within one schedule entry.
func Encode(transitions []model.Transition) string {
	var b strings.Builder
	for i, t := range transitions {
		if i == 0 || startsBlock(transitions[i-1], t) {
			fmt.Fprintf(&b, "S%dP", int(t.Schedule))
		}
		fmt.Fprintf(&b, "%d", int(t.Process))
		if t.Outcome == model.OutcomeError {
			b.WriteByte('X')
		}
	}
	return b.String()
}

func startsBlock(prev, next model.Transition) bool {
	if prev.Schedule != next.Schedule {
		return true
	}
	return model.CanTerminateSchedule(prev.Process, prev.Outcome) && next.Process == 1
}

// Decode parses a flow code into transitions and validates them against the
// adjacency table. The empty string decodes to an empty history.
func Decode(code string) ([]model.Transition, error) {
	d := decoder{src: code}
	return d.run()
}

// Validate reports whether code decodes cleanly.
func Validate(code string) error {
	_, err := Decode(code)
	return err
}

type decoder struct {
	src string
	pos int
	out []model.Transition
}

func (d *decoder) fail(code model.ErrorCode, offset int, format string, args ...any) error {
	return &Error{Code: code, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

func (d *decoder) run() ([]model.Transition, error) {
	d.out = []model.Transition{}

	for d.pos < len(d.src) {
		if len(d.out) > 0 {
			last := d.out[len(d.out)-1]
			if !model.CanTerminateSchedule(last.Process, last.Outcome) {
				return nil, d.fail(model.ErrPrematureScheduleEnd, d.pos,
					"schedule %s left after %s without termination", last.Schedule, last.Process)
			}
		}
		if err := d.block(); err != nil {
			return nil, err
		}
	}
	return d.out, nil
}

// block parses one S<digit>P<digits> run.
func (d *decoder) block() error {
	start := d.pos
	if !d.consume('S') {
		return d.fail(model.ErrFlowCodeCorrupt, d.pos, "expected 'S', found %s", d.peekDesc())
	}
	sid, err := d.digit(model.NumSchedules)
	if err != nil {
		return err
	}
	if !d.consume('P') {
		return d.fail(model.ErrFlowCodeCorrupt, d.pos, "expected 'P' after S%d, found %s", sid, d.peekDesc())
	}

	var prev model.ProcessID
	count := 0
	for d.pos < len(d.src) && d.src[d.pos] != 'S' {
		at := d.pos
		pid, err := d.digit(model.NumProcesses)
		if err != nil {
			return err
		}
		if !model.CanFollow(prev, model.ProcessID(pid)) {
			if prev == 0 {
				return d.fail(model.ErrProcessAdjacency, at, "schedule S%d must start with P1, found P%d", sid, pid)
			}
			return d.fail(model.ErrProcessAdjacency, at, "P%d cannot follow P%d", pid, prev)
		}

		t := model.Transition{
			Schedule: model.ScheduleID(sid),
			Process:  model.ProcessID(pid),
			Outcome:  model.OutcomeCompleted,
		}
		if d.consume('X') {
			t.Outcome = model.OutcomeError
		}
		d.out = append(d.out, t)
		prev = t.Process
		count++
	}
	if count == 0 {
		return d.fail(model.ErrFlowCodeCorrupt, start, "schedule block S%d has no processes", sid)
	}
	return nil
}

// digit reads one ASCII digit in 1..limit.
func (d *decoder) digit(limit int) (int, error) {
	if d.pos >= len(d.src) {
		return 0, d.fail(model.ErrFlowCodeCorrupt, d.pos, "unexpected end of code")
	}
	c := d.src[d.pos]
	if c < '0' || c > '9' {
		return 0, d.fail(model.ErrFlowCodeCorrupt, d.pos, "expected digit, found %s", d.peekDesc())
	}
	n := int(c - '0')
	if n < 1 || n > limit {
		return 0, d.fail(model.ErrUnknownIdentifier, d.pos, "identifier %d out of range 1-%d", n, limit)
	}
	d.pos++
	return n, nil
}

func (d *decoder) consume(c byte) bool {
	if d.pos < len(d.src) && d.src[d.pos] == c {
		d.pos++
		return true
	}
	return false
}

func (d *decoder) peekDesc() string {
	if d.pos >= len(d.src) {
		return "end of code"
	}
	return fmt.Sprintf("%q", d.src[d.pos])
}
