package workflow

import (
	"fmt"
	"strings"
)

// Status is a pipeline stage a claim can occupy
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusCalling   Status = "calling"
	StatusInReview  Status = "in_review"
	StatusResult    Status = "result"
)

// pipeline lists the stages in order; the index is the stage rank
var pipeline = []Status{
	StatusSubmitted,
	StatusCalling,
	StatusInReview,
	StatusResult,
}

// legacyNames maps the status names stored by the first version of the board
var legacyNames = map[string]Status{
	"drafted":       StatusSubmitted,
	"agent_calling": StatusCalling,
	"overturned":    StatusResult,
}

// Statuses returns every stage in pipeline order
func Statuses() []Status {
	out := make([]Status, len(pipeline))
	copy(out, pipeline)
	return out
}

// Initial returns the stage every new claim starts in
func Initial() Status {
	return StatusSubmitted
}

// ParseStatus converts a stored or user-supplied name into a Status
func ParseStatus(s string) (Status, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if st := Status(name); st.IsValid() {
		return st, nil
	}
	if st, ok := legacyNames[name]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// Rank returns the position of the status in the pipeline, or -1 if it is not a stage
func (s Status) Rank() int {
	for i, st := range pipeline {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValid returns true if the status is one of the pipeline stages
func (s Status) IsValid() bool {
	return s.Rank() >= 0
}

// IsTerminal returns true for the last stage of the pipeline
func (s Status) IsTerminal() bool {
	return s == StatusResult
}

// Label returns the board column title for the status
func (s Status) Label() string {
	switch s {
	case StatusSubmitted:
		return "Submitted Claims"
	case StatusCalling:
		return "Voice AI"
	case StatusInReview:
		return "In review"
	case StatusResult:
		return "Result"
	default:
		return string(s)
	}
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}
