package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one schedule selection"
steps:
  - call: schedule 1
assertions:
  - type: phase
    phase: in_schedule
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
prompt: "add a cache"
files:
  src/main.go: "package main\n"
ignore: ["*.log"]
steps:
  - call: schedule 1
  - call: process 1
  - call: complete
    write: { notes.md: "x\n" }
    remove: [src/main.go]
    error: E010
    expect: { code: ok, state: "InSchedule(S1, P1X)", flow_code: S1P1X }
assertions:
  - type: suspended
    code: E001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "add a cache", scenario.Prompt)
	assert.Equal(t, map[string]string{"src/main.go": "package main\n"}, scenario.Files)
	assert.Equal(t, []string{"*.log"}, scenario.Ignore)
	require.Len(t, scenario.Steps, 3)
	step := scenario.Steps[2]
	assert.Equal(t, "complete", step.Call)
	assert.Equal(t, "E010", step.Error)
	assert.Equal(t, []string{"src/main.go"}, step.Remove)
	require.NotNil(t, step.Expect)
	assert.Equal(t, "InSchedule(S1, P1X)", step.Expect.State)
	assert.Equal(t, AssertSuspended, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_TestdataScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "flow_token: abc\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			content: "description: d\nsteps: [{call: cancel}]\nassertions: [{type: not_suspended}]\n",
			want:    "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nsteps: [{call: cancel}]\nassertions: [{type: not_suspended}]\n",
			want:    "description is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\nassertions: [{type: not_suspended}]\n",
			want:    "steps list is required",
		},
		{
			name:    "no assertions",
			content: "name: n\ndescription: d\nsteps: [{call: cancel}]\n",
			want:    "assertions list is required",
		},
		{
			name:    "unknown call",
			content: "name: n\ndescription: d\nsteps: [{call: deploy}]\nassertions: [{type: not_suspended}]\n",
			want:    `steps[0]: unknown call "deploy"`,
		},
		{
			name:    "schedule without number",
			content: "name: n\ndescription: d\nsteps: [{call: schedule plan}]\nassertions: [{type: not_suspended}]\n",
			want:    `schedule: "plan" is not a number`,
		},
		{
			name:    "bad directive",
			content: "name: n\ndescription: d\nsteps: [{call: resume later}]\nassertions: [{type: not_suspended}]\n",
			want:    "unknown directive",
		},
		{
			name:    "diff outside complete",
			content: "name: n\ndescription: d\nsteps: [{call: cancel, diff: x}]\nassertions: [{type: not_suspended}]\n",
			want:    "diff and error apply to complete only",
		},
		{
			name:    "unknown error code",
			content: "name: n\ndescription: d\nsteps: [{call: complete, error: E999}]\nassertions: [{type: not_suspended}]\n",
			want:    `unknown error code "E999"`,
		},
		{
			name:    "escaping write",
			content: "name: n\ndescription: d\nsteps: [{call: complete, write: {../x: y}}]\nassertions: [{type: not_suspended}]\n",
			want:    "must be relative",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nsteps: [{call: cancel}]\nassertions: [{type: trace_contains}]\n",
			want:    `unknown assertion type "trace_contains"`,
		},
		{
			name:    "event_count without event",
			content: "name: n\ndescription: d\nsteps: [{call: cancel}]\nassertions: [{type: event_count, count: 1}]\n",
			want:    "event is required for event_count",
		},
		{
			name:    "restore without files",
			content: "name: n\ndescription: d\nsteps: [{call: cancel}]\nassertions: [{type: restore, target: 1}]\n",
			want:    "files is required for restore",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseCall(t *testing.T) {
	tests := []struct {
		call string
		verb string
		arg  string
	}{
		{"schedule 3", "schedule", "3"},
		{"process 2", "process", "2"},
		{"complete", "complete", ""},
		{"cancel", "cancel", ""},
		{"terminate schedule", "terminate", "schedule"},
		{"terminate prompt", "terminate", "prompt"},
		{"resume skip-to-next-valid", "resume", "skip-to-next-valid"},
		{"  reopen  ", "reopen", ""},
	}
	for _, tt := range tests {
		verb, arg, err := parseCall(tt.call)
		require.NoError(t, err, tt.call)
		assert.Equal(t, tt.verb, verb, tt.call)
		assert.Equal(t, tt.arg, arg, tt.call)
	}

	for _, bad := range []string{"", "complete now", "terminate process", "process", "resume"} {
		_, _, err := parseCall(bad)
		assert.Error(t, err, bad)
	}
}
