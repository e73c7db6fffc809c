package session

import (
	"errors"
	"fmt"

	"github.com/roofscope/backend/internal/workflow"
)

var (
	// ErrSessionCompleted is returned for advance/skip on a terminal session.
	ErrSessionCompleted = errors.New("session is already completed")

	// ErrSkipNotAllowed is returned when the current step forbids skipping.
	ErrSkipNotAllowed = errors.New("step does not allow skipping")

	// ErrInvalidSkipReason is returned when the reason is outside the step's
	// registry-defined set.
	ErrInvalidSkipReason = errors.New("skip reason not allowed for step")
)

// BlockedError carries the validator verdict when advance is gated. The
// session is untouched; the caller fixes evidence and retries.
type BlockedError struct {
	Result workflow.ValidationResult
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("cannot advance: %d requirement(s) unmet", len(e.Result.Blockers))
}
