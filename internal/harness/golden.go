package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	FlowCode     string       `json:"flow_code"`
	Trace        []TraceEvent `json:"trace"`
	Events       []string     `json:"events"`
}

// NewTraceSnapshot builds the snapshot of result.
func NewTraceSnapshot(name string, result *Result) TraceSnapshot {
	events := make([]string, len(result.Events))
	for i, kind := range result.Events {
		events[i] = string(kind)
	}
	return TraceSnapshot{
		ScenarioName: name,
		FlowCode:     result.FlowCode,
		Trace:        result.Trace,
		Events:       events,
	}
}

// toCanonicalMap converts the snapshot for model.MarshalCanonical, which
// only handles maps, slices and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"seq":       event.Seq,
			"call":      event.Call,
			"code":      event.Code,
			"state":     event.State,
			"flow_code": event.FlowCode,
		}
		if event.Node != 0 {
			m["node"] = event.Node
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"flow_code":     s.FlowCode,
		"trace":         trace,
		"events":        s.Events,
	}
}

// Marshal renders the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return model.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot := NewTraceSnapshot(name, result)
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
