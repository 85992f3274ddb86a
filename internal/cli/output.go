package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cadenroberts/OllamaBot-sub000/internal/engine"
	"github.com/cadenroberts/OllamaBot-sub000/internal/flowcode"
	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Navigation violation or invalid flow code
	ExitCommandError = 2 // Command error (bad arguments, unreadable session, system errors)
)

// Codes used in the error envelope for failures outside the catalog.
const (
	ErrCodeUsage    = "usage"
	ErrCodeInternal = "internal"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for diagnostics (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string    `json:"status"`            // "ok" or "error"
	Data    any       `json:"data,omitempty"`    // success payload
	Error   *CLIError `json:"error,omitempty"`   // error details
	Session string    `json:"session,omitempty"` // session the command ran against
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code        string `json:"code"`                  // "E001".."E015", usage or internal
	Class       string `json:"class,omitempty"`       // critical | system
	Message     string `json:"message"`               // human-readable message
	Remediation string `json:"remediation,omitempty"` // fixed hint for system codes
	Details     any    `json:"details,omitempty"`     // additional context
}

// formatter builds the output formatter for cmd from the global flags.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(e CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &e,
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Remediation != "" {
		fmt.Fprintf(f.Writer, "Hint: %s\n", e.Remediation)
	}
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// Fail writes err as an error envelope and returns the ExitError the
// command should return.
func (f *OutputFormatter) Fail(err error) error {
	e, exit := describe(err)
	_ = f.Error(e)
	return WrapExitError(exit, e.Code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// describe maps an error to its envelope and exit code.
func describe(err error) (CLIError, int) {
	var (
		ne   *engine.NavigationError
		se   *model.SystemError
		fe   *flowcode.Error
		exit *ExitError
	)
	switch {
	case errors.As(err, &ne):
		return CLIError{
			Code:    string(ne.Code),
			Class:   string(model.ClassCritical),
			Message: ne.Error(),
			Details: map[string]string{"call": ne.Call.String()},
		}, ExitFailure
	case errors.As(err, &se):
		return CLIError{
			Code:        string(se.Code),
			Class:       string(model.ClassSystem),
			Message:     err.Error(),
			Remediation: se.Code.Remediation(),
		}, ExitCommandError
	case errors.As(err, &fe):
		return CLIError{
			Code:    string(fe.Code),
			Class:   string(fe.Code.Class()),
			Message: fe.Error(),
			Details: map[string]int{"offset": fe.Offset},
		}, ExitFailure
	case errors.As(err, &exit):
		return CLIError{Code: ErrCodeUsage, Message: exit.Error()}, exit.Code
	default:
		return CLIError{Code: ErrCodeInternal, Message: err.Error()}, ExitCommandError
	}
}
