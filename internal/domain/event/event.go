package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	ClaimID       string         `json:"claim_id,omitempty"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
}

// NewEvent creates an event with a fresh ID that starts its own correlation chain
func NewEvent(eventType Type, claimID string, payload map[string]any) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		ClaimID:       claimID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// Caused creates an event in the same correlation chain as e
func (e *Event) Caused(eventType Type, payload map[string]any) *Event {
	next := NewEvent(eventType, e.ClaimID, payload)
	next.CorrelationID = e.CorrelationID
	return next
}

// WithPayload returns a copy of the event with key set in the payload
func (e *Event) WithPayload(key string, value any) *Event {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	out := *e
	out.Payload = payload
	return &out
}

// Value returns the payload value under key as T
func Value[T any](e *Event, key string) (T, bool) {
	var zero T
	if e == nil || e.Payload == nil {
		return zero, false
	}
	v, ok := e.Payload[key].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	s, _ := Value[string](e, key)
	return s
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	b, _ := Value[bool](e, key)
	return b
}
