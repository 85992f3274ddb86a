package restore

import (
	"errors"
	"fmt"
)

// ErrNoSuchState is returned for a target outside the session log.
var ErrNoSuchState = errors.New("no such state")

// VerificationError reports that a restored tree does not hash to the value
// recorded for its target. Restoration still completed.
type VerificationError struct {
	Target   int
	Expected string
	Actual   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("restore %d: files hash %s does not match recorded %s; the tree may not be bit-identical",
		e.Target, short(e.Actual), short(e.Expected))
}

// IsVerification reports whether err is (or wraps) a VerificationError.
func IsVerification(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
