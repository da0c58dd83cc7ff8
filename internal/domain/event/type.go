package event

// Type identifies the type of domain event
type Type string

const (
	// TypeClaimCreated is published after an approved intake is stored
	TypeClaimCreated Type = "claim.created"
	// TypeClaimUpdated carries a claim row received from the live channel
	TypeClaimUpdated Type = "claim.updated"
	// TypeTranscriptCreated carries a transcript row received from the live channel
	TypeTranscriptCreated Type = "transcript.created"
	// TypeTransitionResolved is published when a pending status write settles
	TypeTransitionResolved Type = "transition.resolved"
	// TypeSessionChanged is published when the session provider reports a change
	TypeSessionChanged Type = "session.changed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeClaimCreated,
		TypeClaimUpdated,
		TypeTranscriptCreated,
		TypeTransitionResolved,
		TypeSessionChanged:
		return true
	default:
		return false
	}
}
