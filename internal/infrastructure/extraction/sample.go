package extraction

import (
	"context"

	"github.com/garyjia/overturn/internal/application/port"
)

// SampleExtractor returns a fixed extraction regardless of input. It backs
// demos and front-end work without a model or real documents.
type SampleExtractor struct{}

// Extract returns the sample extraction
func (SampleExtractor) Extract(ctx context.Context, text string) (*port.Extraction, error) {
	return SampleExtraction(), nil
}

// SampleExtraction returns a fresh copy of the sample result
func SampleExtraction() *port.Extraction {
	return &port.Extraction{
		ParsedFields: port.ParsedFields{
			ClaimID:        "987654321",
			PatientName:    "Jane Doe Member Id",
			PatientAddress: "UNKNOWN",
			Identifiers: []port.Identifier{
				{Label: "member_id", Value: "XYZ123456789"},
				{Label: "policy", Value: "Bulletin"},
			},
			DenialCodes:      []string{},
			CPTCodes:         []string{"97110"},
			PolicyReferences: []string{},
			DenialReasonText: NoReasonFound,
			ExtractionNotes: map[string]bool{
				NoteClaimID:        true,
				NotePatientName:    true,
				NotePatientAddress: false,
				NoteIdentifiers:    true,
				NoteDenialCodes:    false,
				NoteCPTCodes:       true,
				NoteDenialReason:   false,
			},
		},
		ParsingSource:   SourceRegex,
		ParsingWarnings: []string{FallbackWarning},
	}
}

var _ port.Extractor = SampleExtractor{}
