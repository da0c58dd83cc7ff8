package workflow

import "fmt"

// Policy selects which status changes the pipeline accepts
type Policy string

const (
	// PolicyForwardOnly allows moves to any later stage, never back
	PolicyForwardOnly Policy = "forward_only"
	// PolicyAny allows moves between any two stages
	PolicyAny Policy = "any"
)

// ParsePolicy converts a config value into a Policy. Empty means forward only.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyForwardOnly:
		return PolicyForwardOnly, nil
	case PolicyAny:
		return PolicyAny, nil
	default:
		return "", fmt.Errorf("unknown transition policy: %q", s)
	}
}

// NewValidator builds the pipeline validator for the policy
func NewValidator(policy Policy) Validator {
	builder := NewBuilder()

	for _, from := range pipeline {
		config := builder.Configure(from)
		for _, to := range pipeline {
			if to == from {
				continue
			}
			if policy == PolicyAny || to.Rank() > from.Rank() {
				config.Permit(to)
			}
		}
	}

	return builder.Build()
}
