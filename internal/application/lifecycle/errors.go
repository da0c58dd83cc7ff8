package lifecycle

import (
	"errors"
	"fmt"

	"github.com/garyjia/overturn/internal/domain/claim"
)

// Validation errors: the request was rejected and nothing changed.
var (
	ErrClaimNotFound      = errors.New("claim not found")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrTransitionInFlight = errors.New("a transition for this claim is already in flight")
	ErrLetterLocked       = claim.ErrLetterLocked
)

var (
	// ErrWriteTimeout is the cause of a transient error when a remote write does not finish in time
	ErrWriteTimeout = errors.New("remote write timed out")

	// ErrStopped is returned by manager calls after its loop has exited
	ErrStopped = errors.New("lifecycle manager stopped")
)

// TransientError wraps a failed remote write. The local view has been reverted
// and the caller may retry.
type TransientError struct {
	Op      string
	ClaimID string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s claim %s: %v", e.Op, e.ClaimID, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// transient wraps err unless it already is a TransientError
func transient(op, claimID string, err error) error {
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, ClaimID: claimID, Err: err}
}

// IsValidation reports whether err is a rejected request
func IsValidation(err error) bool {
	return errors.Is(err, ErrClaimNotFound) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrTransitionInFlight) ||
		errors.Is(err, ErrLetterLocked)
}

// IsTransient reports whether err is a remote failure worth retrying
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrWriteTimeout)
}
