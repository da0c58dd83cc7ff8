package workflow

import (
	"fmt"
)

// GuardFunc evaluates whether a configured move may be taken
type GuardFunc func(from, to Status) bool

// ValidatorBuilder builds a configured transition validator
type ValidatorBuilder interface {
	// Configure returns the configuration for moves leaving the given status
	Configure(status Status) StatusConfiguration
	// Build creates an immutable validator from the configured moves
	Build() Validator
}

// StatusConfiguration configures the moves leaving a specific status
type StatusConfiguration interface {
	// Permit allows a move to the target status
	Permit(to Status) StatusConfiguration
	// PermitIf allows a move to the target status if the guard passes
	PermitIf(to Status, guard GuardFunc) StatusConfiguration
}

// Validator decides which status changes are legal. It holds no mutable state.
type Validator interface {
	// IsLegal reports whether moving from current to target is allowed
	IsLegal(current, target Status) bool
	// Check is IsLegal with the reason for a rejection
	Check(current, target Status) error
	// Permitted returns the targets reachable from current, in pipeline order
	Permitted(current Status) []Status
}

type move struct {
	to    Status
	guard GuardFunc
}

type statusConfig struct {
	moves map[Status]move
}

type validatorBuilder struct {
	configurations map[Status]*statusConfig
}

type validator struct {
	configurations map[Status]map[Status]move
}

// NewBuilder creates a new validator builder
func NewBuilder() ValidatorBuilder {
	return &validatorBuilder{
		configurations: make(map[Status]*statusConfig),
	}
}

// Configure returns the configuration for the given status
func (b *validatorBuilder) Configure(status Status) StatusConfiguration {
	if !status.IsValid() {
		panic(fmt.Sprintf("invalid status: %s", status))
	}

	config, exists := b.configurations[status]
	if !exists {
		config = &statusConfig{moves: make(map[Status]move)}
		b.configurations[status] = config
	}
	return config
}

// Build creates a validator from a copy of the configuration
func (b *validatorBuilder) Build() Validator {
	configsCopy := make(map[Status]map[Status]move, len(b.configurations))
	for status, config := range b.configurations {
		moves := make(map[Status]move, len(config.moves))
		for to, m := range config.moves {
			moves[to] = m
		}
		configsCopy[status] = moves
	}
	return &validator{configurations: configsCopy}
}

// Permit allows a move to the target status
func (c *statusConfig) Permit(to Status) StatusConfiguration {
	return c.PermitIf(to, nil)
}

// PermitIf allows a move to the target status if the guard passes
func (c *statusConfig) PermitIf(to Status, guard GuardFunc) StatusConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target status: %s", to))
	}
	c.moves[to] = move{to: to, guard: guard}
	return c
}

// IsLegal reports whether moving from current to target is allowed
func (v *validator) IsLegal(current, target Status) bool {
	return v.Check(current, target) == nil
}

// Check returns nil for legal moves. Staying in place is always legal.
func (v *validator) Check(current, target Status) error {
	if !current.IsValid() {
		return fmt.Errorf("%w: current status %q", ErrInvalidState, current)
	}
	if !target.IsValid() {
		return fmt.Errorf("%w: target status %q", ErrInvalidState, target)
	}
	if current == target {
		return nil
	}

	m, ok := v.configurations[current][target]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	if m.guard != nil && !m.guard(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrGuardFailed, current, target)
	}
	return nil
}

// Permitted returns the targets reachable from current, in pipeline order
func (v *validator) Permitted(current Status) []Status {
	moves := v.configurations[current]
	out := make([]Status, 0, len(moves))
	for _, st := range pipeline {
		if m, ok := moves[st]; ok && (m.guard == nil || m.guard(current, st)) {
			out = append(out, st)
		}
	}
	return out
}
