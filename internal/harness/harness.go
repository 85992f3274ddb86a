package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// SessionID is the id every scenario session gets.
const SessionID = "01890a5d-ac96-774b-bcce-b302099a8057"

// CodeOK and CodeNotSuspended are trace codes for calls that did not
// return a navigator error code.
const (
	CodeOK           = "ok"
	CodeNotSuspended = "not_suspended"
)

// Harness drives one scenario against a real session.
type Harness struct {
	session *engine.Session
	sub     *engine.Subscription
	clock   *engine.Clock
	logger  *slog.Logger
	dir     string
	workdir string
	events  []engine.EventKind
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary directory that is removed on
// return. The session id, clock and trace sequence are fixed so two runs
// of the same scenario produce identical traces.
//
// Execution flow:
//  1. Seed the working directory with the scenario files
//  2. Create the session
//  3. Execute steps, checking expect clauses
//  4. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "orchestrate-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		clock:   engine.NewClock(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		dir:     dir,
		workdir: filepath.Join(dir, "work"),
	}
	if err := os.MkdirAll(h.workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}
	if err := writeFiles(h.workdir, scenario.Files); err != nil {
		return nil, fmt.Errorf("failed to seed workdir: %w", err)
	}

	s, err := engine.Create(ctx, filepath.Join(dir, "sessions"), h.workdir, scenario.Prompt,
		append(h.options(scenario), engine.WithIDGenerator(engine.NewFixedGenerator(SessionID)))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	h.attach(s)
	defer func() { h.session.Close() }()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, scenario, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Call, err)
		}
	}
	h.drain()
	result.Events = append(result.Events, h.events...)
	result.FlowCode = h.session.FlowCode()

	actx := &AssertionContext{
		Session: h.session,
		Ctx:     ctx,
		Dir:     filepath.Join(dir, "restore"),
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) options(scenario *Scenario) []engine.Option {
	epoch := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	return []engine.Option{
		engine.WithLogger(h.logger),
		engine.WithIgnore(scenario.Ignore...),
		engine.WithNow(func() time.Time { return epoch }),
	}
}

func (h *Harness) attach(s *engine.Session) {
	h.session = s
	h.sub = s.Events().Subscribe()
}

// drain moves the queued events of the current subscription into h.events.
func (h *Harness) drain() {
	for _, e := range h.sub.Drain() {
		h.events = append(h.events, e.Kind)
	}
}

// execute runs one step and records it in the trace. Navigator errors are
// outcomes, checked against the expect clause; only harness failures are
// returned.
func (h *Harness) execute(ctx context.Context, index int, step Step, scenario *Scenario, result *Result) error {
	if err := writeFiles(h.workdir, step.Write); err != nil {
		return err
	}
	for _, rel := range step.Remove {
		if err := os.RemoveAll(filepath.Join(h.workdir, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}

	verb, arg, err := parseCall(step.Call)
	if err != nil {
		return err
	}

	event := TraceEvent{Seq: h.clock.Next(), Call: step.Call}
	callErr := h.invoke(ctx, verb, arg, step, scenario, &event)
	if verb == callReopen && callErr != nil {
		return callErr
	}

	code, err := traceCode(callErr)
	if err != nil {
		return err
	}
	event.Code = code
	event.State = h.session.State().String()
	event.FlowCode = h.session.FlowCode()
	result.Trace = append(result.Trace, event)

	h.logger.Info("scenario step executed",
		slog.Int("step", index),
		slog.String("call", step.Call),
		slog.String("code", code))

	if step.Expect != nil {
		checkExpect(index, step, event, result)
	}
	return nil
}

func (h *Harness) invoke(ctx context.Context, verb, arg string, step Step, scenario *Scenario, event *TraceEvent) error {
	s := h.session
	switch verb {
	case callSchedule:
		n, _ := strconv.Atoi(arg)
		return s.SelectSchedule(ctx, model.ScheduleID(n))
	case callProcess:
		n, _ := strconv.Atoi(arg)
		return s.SelectProcess(ctx, model.ProcessID(n))
	case callComplete:
		var diff []byte
		if step.Diff != "" {
			diff = []byte(step.Diff)
		}
		var failure *model.ErrorCode
		if step.Error != "" {
			code := model.ErrorCode(step.Error)
			failure = &code
		}
		node, err := s.ProcessCompleted(ctx, diff, failure)
		if err == nil {
			event.Node = node.ID
		}
		return err
	case callCancel:
		return s.CancelProcess(ctx)
	case callTerminate:
		if arg == "prompt" {
			return s.TerminatePrompt(ctx)
		}
		_, err := s.TerminateSchedule(ctx)
		return err
	case callResume:
		d, err := engine.ParseDirective(arg)
		if err != nil {
			return err
		}
		return s.Resume(ctx, d)
	case callReopen:
		return h.reopen(ctx, scenario)
	default:
		return fmt.Errorf("unknown call %q", verb)
	}
}

// reopen closes the session and opens it again from disk, keeping the
// events published so far.
func (h *Harness) reopen(ctx context.Context, scenario *Scenario) error {
	h.drain()
	dir := h.session.Dir()
	if err := h.session.Close(); err != nil {
		return err
	}
	s, err := engine.Open(ctx, dir, h.options(scenario)...)
	if err != nil {
		return err
	}
	h.attach(s)
	return nil
}

// traceCode maps a call error to its trace code. Errors without a code
// abort the scenario.
func traceCode(err error) (string, error) {
	if err == nil {
		return CodeOK, nil
	}
	if errors.Is(err, engine.ErrNotSuspended) {
		return CodeNotSuspended, nil
	}
	if code, ok := engine.Code(err); ok {
		return string(code), nil
	}
	return "", err
}

func checkExpect(index int, step Step, event TraceEvent, result *Result) {
	want := step.Expect
	if want.Code == "" && want.State == "" && want.FlowCode == "" {
		want = &ExpectClause{Code: CodeOK}
	}
	if want.Code != "" && want.Code != event.Code {
		result.AddError(fmt.Sprintf("step %d (%s): expected code %s, got %s", index, step.Call, want.Code, event.Code))
	}
	if want.State != "" && want.State != event.State {
		result.AddError(fmt.Sprintf("step %d (%s): expected state %q, got %q", index, step.Call, want.State, event.State))
	}
	if want.FlowCode != "" && want.FlowCode != event.FlowCode {
		result.AddError(fmt.Sprintf("step %d (%s): expected flow code %q, got %q", index, step.Call, want.FlowCode, event.FlowCode))
	}
}

func writeFiles(root string, files map[string]string) error {
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
