package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
)

// DefaultMaxUploadSize bounds uploaded denial documents
const DefaultMaxUploadSize = 20 << 20

var (
	// ErrEmptyDocument is returned for uploads without content
	ErrEmptyDocument = errors.New("document is empty")
	// ErrNotPDF is returned for uploads that are not PDFs
	ErrNotPDF = errors.New("please select a PDF file")
	// ErrTooLarge is returned for uploads over the size limit
	ErrTooLarge = errors.New("document exceeds the upload size limit")
)

// ClaimCreator inserts reviewed claims onto the board
type ClaimCreator interface {
	Create(ctx context.Context, d claim.Draft) (*claim.Claim, error)
}

// Uploaded describes a stored document
type Uploaded struct {
	Name   string `json:"name"`
	Size   int    `json:"size"`
	PDFURL string `json:"pdf_url"`
}

// Review is what the user checks before approving a claim
type Review struct {
	Text         string           `json:"extracted_text"`
	Extraction   *port.Extraction `json:"extraction"`
	AppealLetter string           `json:"appeal_letter"`
	Phrases      []string         `json:"phrases"`
	PatientName  string           `json:"patient_name"`
	Insurer      string           `json:"insurer"`
}

// Approval holds the reviewed values a claim is created from
type Approval struct {
	PatientName  *string          `json:"patient_name"`
	Insurer      *string          `json:"insurer"`
	DenialDate   *string          `json:"denial_date"`
	MemberID     string           `json:"member_id"`
	DenialReason string           `json:"denial_reason"`
	Extraction   *port.Extraction `json:"extraction"`
	AppealLetter string           `json:"appeal_letter"`
	PDFURL       string           `json:"pdf_url"`
}

// Service runs the upload, extract, approve flow
type Service struct {
	uploads   port.UploadService
	reader    port.TextReader
	extractor port.Extractor
	letters   port.LetterGenerator
	phrases   func(*port.Extraction) []string
	claims    ClaimCreator
	maxSize   int
	logger    *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithMaxUploadSize overrides DefaultMaxUploadSize
func WithMaxUploadSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithPhrases sets how toggleable letter phrases are chosen for an extraction
func WithPhrases(fn func(*port.Extraction) []string) Option {
	return func(s *Service) {
		s.phrases = fn
	}
}

// NewService creates an intake service
func NewService(
	uploads port.UploadService,
	reader port.TextReader,
	extractor port.Extractor,
	letters port.LetterGenerator,
	claims ClaimCreator,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		uploads:   uploads,
		reader:    reader,
		extractor: extractor,
		letters:   letters,
		claims:    claims,
		maxSize:   DefaultMaxUploadSize,
		phrases:   func(*port.Extraction) []string { return nil },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload validates and stores a denial document
func (s *Service) Upload(ctx context.Context, name string, data []byte) (*Uploaded, error) {
	if err := s.checkDocument(data); err != nil {
		return nil, err
	}

	url, err := s.uploads.Upload(ctx, name, "application/pdf", data)
	if err != nil {
		s.logger.Error("Failed to store denial document", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	s.logger.Info("Denial document uploaded", zap.String("name", name), zap.String("pdf_url", url))
	return &Uploaded{Name: name, Size: len(data), PDFURL: url}, nil
}

// Extract reads the document text, parses it and drafts the letter
func (s *Service) Extract(ctx context.Context, data []byte) (*Review, error) {
	if err := s.checkDocument(data); err != nil {
		return nil, err
	}
	text, err := s.reader.ReadText(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to read document text: %w", err)
	}
	return s.ExtractText(ctx, text)
}

// ExtractText parses already extracted text and drafts the letter
func (s *Service) ExtractText(ctx context.Context, text string) (*Review, error) {
	ext, err := s.extractor.Extract(ctx, text)
	if err != nil {
		s.logger.Error("Extraction failed", zap.Error(err))
		return nil, fmt.Errorf("failed to extract fields: %w", err)
	}

	letter, err := s.letters.Generate(ctx, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to generate letter: %w", err)
	}

	review := &Review{
		Text:         text,
		Extraction:   ext,
		AppealLetter: letter,
		Phrases:      s.phrases(ext),
		PatientName:  ext.ParsedFields.PatientName,
	}
	for _, id := range ext.ParsedFields.Identifiers {
		if id.Label == "insurer" {
			review.Insurer = id.Value
			break
		}
	}

	s.logger.Info("Denial document extracted",
		zap.String("parsing_source", ext.ParsingSource),
		zap.Int("warnings", len(ext.ParsingWarnings)),
	)
	return review, nil
}

// Approve creates a submitted claim on the board from the reviewed values
func (s *Service) Approve(ctx context.Context, a Approval) (*claim.Claim, error) {
	data, err := extractedData(a)
	if err != nil {
		return nil, err
	}

	c, err := s.claims.Create(ctx, claim.Draft{
		PatientName:   a.PatientName,
		Insurer:       a.Insurer,
		DenialDate:    a.DenialDate,
		ExtractedData: data,
		AppealLetter:  a.AppealLetter,
		PDFURL:        a.PDFURL,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Claim added to board", zap.String("claim_id", c.ID))
	return c, nil
}

func (s *Service) checkDocument(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyDocument
	}
	if len(data) > s.maxSize {
		return ErrTooLarge
	}
	if http.DetectContentType(data) != "application/pdf" {
		return ErrNotPDF
	}
	return nil
}

// extractedData flattens the extraction into the claim's opaque payload,
// alongside the reviewed member ID and denial reason
func extractedData(a Approval) (map[string]any, error) {
	data := map[string]any{}
	if a.Extraction != nil {
		raw, err := json.Marshal(a.Extraction)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extraction: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to encode extraction: %w", err)
		}
	}
	if a.MemberID != "" {
		data["memberId"] = a.MemberID
	}
	if a.DenialReason != "" {
		data["denialReason"] = a.DenialReason
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// IsValidation reports whether err is a rejected document
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyDocument) || errors.Is(err, ErrNotPDF) || errors.Is(err, ErrTooLarge)
}
