package port

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/garyjia/overturn/internal/domain/claim"
)

// ErrNoSession is returned when a request carries no valid session
var ErrNoSession = errors.New("no session")

// Session identifies an authenticated user
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// SessionChange is emitted when a session starts or ends
type SessionChange struct {
	UserID string
	Active bool
}

// SessionProvider resolves sessions. Authentication itself happens elsewhere.
type SessionProvider interface {
	CurrentSession(ctx context.Context, token string) (*Session, error)
	Subscribe() <-chan SessionChange
}

// Live channel operations
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
)

// LiveMessage is one row change delivered by the live channel
type LiveMessage struct {
	Channel string          `json:"channel"`
	Op      string          `json:"op"`
	Row     json.RawMessage `json:"row"`
}

// LiveHandler consumes live messages
type LiveHandler func(ctx context.Context, msg LiveMessage) error

// LiveChannel delivers row changes for the configured channels.
// Subscribe blocks until ctx is done (returning nil) or the subscription breaks.
type LiveChannel interface {
	Subscribe(ctx context.Context, handler LiveHandler) error
}

// LivePublisher sends row changes to live channel subscribers
type LivePublisher interface {
	Publish(ctx context.Context, msg LiveMessage) error
}

// Identifier is a labelled ID found in a denial document
type Identifier struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ParsedFields are the structured fields read from a denial document
type ParsedFields struct {
	ClaimID          string          `json:"claim_id"`
	PatientName      string          `json:"patient_name"`
	PatientAddress   string          `json:"patient_address"`
	Identifiers      []Identifier    `json:"identifiers"`
	DenialCodes      []string        `json:"denial_codes"`
	CPTCodes         []string        `json:"cpt_codes"`
	PolicyReferences []string        `json:"policy_references"`
	DenialReasonText string          `json:"denial_reason_text"`
	ExtractionNotes  map[string]bool `json:"extraction_notes"`
}

// Extraction is the result of parsing a denial document
type Extraction struct {
	ParsedFields    ParsedFields `json:"parsed_fields"`
	ParsingSource   string       `json:"parsing_source,omitempty"`
	ParsingWarnings []string     `json:"parsing_warnings,omitempty"`
}

// TextReader pulls plain text out of an uploaded document
type TextReader interface {
	ReadText(ctx context.Context, data []byte) (string, error)
}

// Extractor parses denial text into structured fields
type Extractor interface {
	Extract(ctx context.Context, text string) (*Extraction, error)
}

// LetterGenerator drafts an appeal letter for an extraction
type LetterGenerator interface {
	Generate(ctx context.Context, ext *Extraction) (string, error)
}

// Notifier announces claims that reached the result stage
type Notifier interface {
	NotifyResult(ctx context.Context, c *claim.Claim) error
}
