package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
	"github.com/cadenroberts/OllamaBot-sub000/internal/restore"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %-20s %-14s %s\n", event.Seq, event.Call, event.Code, event.State)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the live session.
type AssertionContext struct {
	Session *engine.Session
	Ctx     context.Context

	// Dir receives restored trees, one subdirectory per assertion.
	Dir string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error
		if actx == nil || actx.Session == nil {
			err = fmt.Errorf("assertion[%d]: %s requires a session", i, assertion.Type)
		} else {
			err = evaluate(i, result, assertion, actx)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(index int, result *Result, a Assertion, actx *AssertionContext) error {
	s := actx.Session
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}

	switch a.Type {
	case AssertFlowCode:
		if got := s.FlowCode(); got != a.FlowCode {
			return fail(fmt.Sprintf("flow code %q", a.FlowCode), fmt.Sprintf("flow code %q", got))
		}
	case AssertPhase:
		if got := string(s.State().Phase); got != a.Phase {
			return fail("phase "+a.Phase, "phase "+got)
		}
	case AssertSuspended:
		rec, ok := s.Suspension()
		if !ok {
			return fail(suspendedWith(a.Code), "not suspended")
		}
		if a.Code != "" && string(rec.Code) != a.Code {
			return fail(suspendedWith(a.Code), "suspended with "+string(rec.Code))
		}
	case AssertNotSuspended:
		if rec, ok := s.Suspension(); ok {
			return fail("not suspended", "suspended with "+string(rec.Code))
		}
	case AssertTerminated:
		got := make([]int, 0, model.NumSchedules)
		for _, id := range s.Terminated() {
			got = append(got, int(id))
		}
		want := append([]int{}, a.Schedules...)
		sort.Ints(want)
		if !slices.Equal(got, want) {
			return fail(fmt.Sprintf("terminated %v", want), fmt.Sprintf("terminated %v", got))
		}
	case AssertEventCount:
		got := 0
		for _, kind := range result.Events {
			if string(kind) == a.Event {
				got++
			}
		}
		if got != a.Count {
			return fail(fmt.Sprintf("%d %s events", a.Count, a.Event), fmt.Sprintf("%d %s events", got, a.Event))
		}
	case AssertNodeCount:
		if got := len(s.Log()); got != a.Count {
			return fail(fmt.Sprintf("%d nodes", a.Count), fmt.Sprintf("%d nodes", got))
		}
	case AssertRestore:
		return assertRestore(index, a, actx, fail)
	default:
		return fmt.Errorf("assertion[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// assertRestore restores the target node into a fresh directory and
// compares the listed files. The restore must also verify.
func assertRestore(index int, a Assertion, actx *AssertionContext, fail func(expected, actual string) error) error {
	dir := filepath.Join(actx.Dir, strconv.Itoa(index))
	res, err := actx.Session.Restore(actx.Ctx, a.Target, dir)
	if err != nil && !restore.IsVerification(err) {
		return fmt.Errorf("assertion[%d]: restore %d: %w", index, a.Target, err)
	}
	if res == nil || !res.Verified {
		return fail(fmt.Sprintf("restore %d verified", a.Target), fmt.Sprintf("restore %d not verified", a.Target))
	}

	paths := make([]string, 0, len(a.Files))
	for rel := range a.Files {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	for _, rel := range paths {
		want := a.Files[rel]
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return fail(fmt.Sprintf("%s restored", rel), err.Error())
		}
		if string(data) != want {
			return fail(fmt.Sprintf("%s = %q", rel, want), fmt.Sprintf("%s = %q", rel, string(data)))
		}
	}
	return nil
}

func suspendedWith(code string) string {
	if code == "" {
		return "suspended"
	}
	return "suspended with " + code
}
