package lifecycle

import (
	"fmt"

	"github.com/garyjia/overturn/internal/domain/workflow"
)

// InFlightPolicy decides what happens to a transition request for a claim
// whose previous write has not resolved yet
type InFlightPolicy string

const (
	// InFlightSupersede accepts the request; the earlier write's result is then ignored
	InFlightSupersede InFlightPolicy = "supersede"
	// InFlightReject refuses the request with ErrTransitionInFlight
	InFlightReject InFlightPolicy = "reject"
)

// ParseInFlightPolicy converts a config value. Empty means supersede.
func ParseInFlightPolicy(s string) (InFlightPolicy, error) {
	switch InFlightPolicy(s) {
	case "", InFlightSupersede:
		return InFlightSupersede, nil
	case InFlightReject:
		return InFlightReject, nil
	default:
		return "", fmt.Errorf("unknown in-flight policy: %q", s)
	}
}

// NewValidator builds the transition validator for a configured policy name
func NewValidator(policy string) (workflow.Validator, error) {
	p, err := workflow.ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	return workflow.NewValidator(p), nil
}
