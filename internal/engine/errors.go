package engine

import (
	"errors"
	"fmt"

	"github.com/cadenroberts/OllamaBot-sub000/internal/model"
)

// ErrNotSuspended is returned by Resume when there is no suspension to act on.
var ErrNotSuspended = errors.New("session is not suspended")

// NavigationError is a critical violation detected by the Navigator.
//
// Every NavigationError except E005 and E007 also suspends the Navigator:
// those two refuse calls against a state that is already frozen and leave
// the existing record untouched.
type NavigationError struct {
	// Code is a critical catalog code (E001-E009).
	Code model.ErrorCode

	// Call is the attempted operation.
	Call Call

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *NavigationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Call, e.Message)
}

func violation(code model.ErrorCode, call Call, format string, args ...any) *NavigationError {
	return &NavigationError{Code: code, Call: call, Message: fmt.Sprintf(format, args...)}
}

// IsCritical reports whether err wraps a NavigationError.
func IsCritical(err error) bool {
	var ne *NavigationError
	return errors.As(err, &ne)
}

// CriticalCode extracts the code of a wrapped NavigationError.
func CriticalCode(err error) (model.ErrorCode, bool) {
	var ne *NavigationError
	if errors.As(err, &ne) {
		return ne.Code, true
	}
	return "", false
}

// Code returns the catalog code of err, critical or system, and false when
// err carries neither.
func Code(err error) (model.ErrorCode, bool) {
	if c, ok := CriticalCode(err); ok {
		return c, true
	}
	return model.SystemCode(err)
}
