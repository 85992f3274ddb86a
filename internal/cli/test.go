package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/harness"
)

// ErrCodeTestFailed is the envelope code when a scenario fails.
const ErrCodeTestFailed = "test_failed"

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "absent"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run navigation scenarios",
		Long: `Run scenario files against fresh sessions.

Each scenario seeds a temporary working directory, drives a session
through its calls and checks expect clauses and assertions. When
golden/<scenario>.golden exists next to the scenario file, the trace must
match it as well.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  orchestrate test ./scenarios
  orchestrate test ./scenarios --filter "plan_*"
  orchestrate test ./scenarios --update
  orchestrate test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, dir string) error {
	out := formatter(opts.RootOptions, cmd)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return out.Fail(NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir)))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "failed to find scenarios", err))
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	progress := io.Discard
	if opts.Format != "json" {
		progress = out.Writer
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return out.Fail(err)
		}
		r := runScenario(ctx, file, opts.Update)
		reportScenario(progress, r)
		result.Scenarios = append(result.Scenarios, r)
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(out, result)
	}
	return outputTestText(out, result)
}

// findScenarioFiles finds all YAML scenario files under dir, skipping
// golden directories.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario file and compares its trace with
// the golden file, if any.
func runScenario(ctx context.Context, file string, update bool) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	r := ScenarioResult{Name: scenario.Name}
	result, err := harness.Run(ctx, scenario)
	if err != nil {
		r.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return r
	}
	r.Pass = result.Pass
	r.Errors = result.Errors

	snapshot := harness.NewTraceSnapshot(scenario.Name, result)
	data, err := snapshot.Marshal()
	if err != nil {
		r.Pass = false
		r.Errors = append(r.Errors, fmt.Sprintf("failed to marshal trace: %v", err))
		return r
	}

	path := goldenFilePath(file)
	if update {
		if err := writeGolden(path, data); err != nil {
			r.Pass = false
			r.Errors = append(r.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return r
		}
		r.Golden = "updated"
		return r
	}

	golden, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.Golden = "absent"
	case err != nil:
		r.Pass = false
		r.Errors = append(r.Errors, fmt.Sprintf("failed to read golden file: %v", err))
	case !bytes.Equal(golden, data):
		r.Pass = false
		r.Errors = append(r.Errors, "trace does not match golden file (run with --update to regenerate)")
	default:
		r.Golden = "match"
	}
	return r
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func reportScenario(w io.Writer, r ScenarioResult) {
	if !r.Pass {
		fmt.Fprintf(w, "✗ %s\n", r.Name)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
		}
		return
	}
	if r.Golden == "updated" {
		fmt.Fprintf(w, "✓ %s (golden updated)\n", r.Name)
		return
	}
	fmt.Fprintf(w, "✓ %s\n", r.Name)
}

// outputTestJSON outputs the test result as a response envelope.
func outputTestJSON(out *OutputFormatter, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := json.NewEncoder(out.Writer).Encode(response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(out *OutputFormatter, result TestResult) error {
	w := out.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
