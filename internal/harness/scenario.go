package harness

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// Scenario is one scripted orchestration session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Prompt is stored in the session metadata.
	Prompt string `yaml:"prompt,omitempty"`

	// Files seeds the working directory before the session is created.
	// Keys are slash-separated relative paths.
	Files map[string]string `yaml:"files,omitempty"`

	// Ignore adds path patterns excluded from workspace scans.
	Ignore []string `yaml:"ignore,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final session.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one navigator call and the workdir edits preceding it.
type Step struct {
	// Call is the operation, e.g. "schedule 2" or "resume skip".
	Call string `yaml:"call"`

	// Write and Remove edit the working directory before the call.
	Write  map[string]string `yaml:"write,omitempty"`
	Remove []string          `yaml:"remove,omitempty"`

	// Diff is reported verbatim by complete instead of capturing the workdir.
	Diff string `yaml:"diff,omitempty"`

	// Error records the completed process as failed with this code.
	Error string `yaml:"error,omitempty"`

	// Expect validates the call. If nil, the call may fail with any code.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Code is the expected error code; "ok" expects success.
	Code string `yaml:"code,omitempty"`

	// State is the expected navigator state string after the call.
	State string `yaml:"state,omitempty"`

	// FlowCode is the expected flow code after the call.
	FlowCode string `yaml:"flow_code,omitempty"`
}

// Assertion validates the final session.
type Assertion struct {
	Type string `yaml:"type"`

	FlowCode  string            `yaml:"flow_code,omitempty"` // flow_code
	Phase     string            `yaml:"phase,omitempty"`     // phase
	Code      string            `yaml:"code,omitempty"`      // suspended
	Schedules []int             `yaml:"schedules,omitempty"` // terminated
	Event     string            `yaml:"event,omitempty"`     // event_count
	Count     int               `yaml:"count,omitempty"`     // event_count, node_count
	Target    int               `yaml:"target,omitempty"`    // restore
	Files     map[string]string `yaml:"files,omitempty"`     // restore
}

// Assertion type constants.
const (
	AssertFlowCode     = "flow_code"
	AssertPhase        = "phase"
	AssertSuspended    = "suspended"
	AssertNotSuspended = "not_suspended"
	AssertTerminated   = "terminated"
	AssertEventCount   = "event_count"
	AssertNodeCount    = "node_count"
	AssertRestore      = "restore"
)

// Call verbs.
const (
	callSchedule  = "schedule"
	callProcess   = "process"
	callComplete  = "complete"
	callCancel    = "cancel"
	callTerminate = "terminate"
	callResume    = "resume"
	callReopen    = "reopen"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for rel := range s.Files {
		if err := validRelPath(rel); err != nil {
			return fmt.Errorf("files: %w", err)
		}
	}
	for i, step := range s.Steps {
		if _, _, err := parseCall(step.Call); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		for rel := range step.Write {
			if err := validRelPath(rel); err != nil {
				return fmt.Errorf("steps[%d].write: %w", i, err)
			}
		}
		for _, rel := range step.Remove {
			if err := validRelPath(rel); err != nil {
				return fmt.Errorf("steps[%d].remove: %w", i, err)
			}
		}
		if (step.Diff != "" || step.Error != "") && !strings.HasPrefix(step.Call, callComplete) {
			return fmt.Errorf("steps[%d]: diff and error apply to complete only", i)
		}
		if step.Error != "" && !model.ErrorCode(step.Error).Valid() {
			return fmt.Errorf("steps[%d]: unknown error code %q", i, step.Error)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFlowCode, AssertSuspended, AssertNotSuspended, AssertTerminated:
	case AssertPhase:
		if a.Phase == "" {
			return fmt.Errorf("assertions[%d]: phase is required for phase", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertNodeCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for node_count", index)
		}
	case AssertRestore:
		if a.Target < 0 {
			return fmt.Errorf("assertions[%d]: target must be non-negative for restore", index)
		}
		if len(a.Files) == 0 {
			return fmt.Errorf("assertions[%d]: files is required for restore", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// parseCall splits a step call into its verb and argument.
func parseCall(call string) (string, string, error) {
	fields := strings.Fields(call)
	if len(fields) == 0 {
		return "", "", fmt.Errorf("call is required")
	}
	verb, args := fields[0], fields[1:]

	switch verb {
	case callSchedule, callProcess:
		if len(args) != 1 {
			return "", "", fmt.Errorf("%s takes one number", verb)
		}
		if _, err := strconv.Atoi(args[0]); err != nil {
			return "", "", fmt.Errorf("%s: %q is not a number", verb, args[0])
		}
		return verb, args[0], nil
	case callTerminate:
		if len(args) != 1 || (args[0] != "schedule" && args[0] != "prompt") {
			return "", "", fmt.Errorf("terminate takes schedule or prompt")
		}
		return verb, args[0], nil
	case callResume:
		if len(args) != 1 {
			return "", "", fmt.Errorf("resume takes one directive")
		}
		if _, err := engine.ParseDirective(args[0]); err != nil {
			return "", "", err
		}
		return verb, args[0], nil
	case callComplete, callCancel, callReopen:
		if len(args) != 0 {
			return "", "", fmt.Errorf("%s takes no arguments", verb)
		}
		return verb, "", nil
	default:
		return "", "", fmt.Errorf("unknown call %q", verb)
	}
}

func validRelPath(rel string) error {
	clean := path.Clean(rel)
	if rel == "" || path.IsAbs(rel) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q must be relative to the working directory", rel)
	}
	return nil
}
