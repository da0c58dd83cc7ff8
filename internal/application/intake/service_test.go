package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF")

type mockUploads struct {
	UploadFunc func(ctx context.Context, name, contentType string, data []byte) (string, error)
	calls      int
}

func (m *mockUploads) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	m.calls++
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, name, contentType, data)
	}
	return "https://files.example.com/" + name, nil
}

type mockReader struct {
	text string
	err  error
}

func (m *mockReader) ReadText(ctx context.Context, data []byte) (string, error) {
	return m.text, m.err
}

type mockExtractor struct {
	ext *port.Extraction
	err error
}

func (m *mockExtractor) Extract(ctx context.Context, text string) (*port.Extraction, error) {
	return m.ext, m.err
}

type mockLetters struct{}

func (mockLetters) Generate(ctx context.Context, ext *port.Extraction) (string, error) {
	return "Dear Appeals Department, " + ext.ParsedFields.PatientName, nil
}

type mockCreator struct {
	draft claim.Draft
	err   error
}

func (m *mockCreator) Create(ctx context.Context, d claim.Draft) (*claim.Claim, error) {
	m.draft = d
	if m.err != nil {
		return nil, m.err
	}
	return claim.New(d, time.Now()), nil
}

func newTestService(uploads *mockUploads, reader *mockReader, extractor *mockExtractor, creator *mockCreator, opts ...Option) *Service {
	return NewService(uploads, reader, extractor, mockLetters{}, creator, zap.NewNop(), opts...)
}

func sampleExtraction() *port.Extraction {
	return &port.Extraction{
		ParsedFields: port.ParsedFields{
			ClaimID:     "987654321",
			PatientName: "Jane Doe",
			Identifiers: []port.Identifier{{Label: "insurer", Value: "Acme Health"}},
			CPTCodes:    []string{"97110"},
		},
		ParsingSource: "regex",
	}
}

func TestService_Upload(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"pdf accepted", samplePDF, nil},
		{"empty rejected", nil, ErrEmptyDocument},
		{"png rejected", []byte("\x89PNG\r\n\x1a\n0000"), ErrNotPDF},
		{"too large rejected", append(append([]byte{}, samplePDF...), make([]byte, 64)...), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uploads := &mockUploads{}
			s := newTestService(uploads, &mockReader{}, &mockExtractor{}, &mockCreator{}, WithMaxUploadSize(len(samplePDF)+10))

			up, err := s.Upload(context.Background(), "denial.pdf", tt.data)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsValidation(err))
				assert.Zero(t, uploads.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://files.example.com/denial.pdf", up.PDFURL)
			assert.Equal(t, len(samplePDF), up.Size)
		})
	}
}

func TestService_UploadStorageFailure(t *testing.T) {
	uploads := &mockUploads{UploadFunc: func(context.Context, string, string, []byte) (string, error) {
		return "", errors.New("bucket not found")
	}}
	s := newTestService(uploads, &mockReader{}, &mockExtractor{}, &mockCreator{})

	_, err := s.Upload(context.Background(), "denial.pdf", samplePDF)
	assert.ErrorContains(t, err, "bucket not found")
	assert.False(t, IsValidation(err))
}

func TestService_Extract(t *testing.T) {
	s := newTestService(&mockUploads{}, &mockReader{text: "Patient Name: Jane Doe"}, &mockExtractor{ext: sampleExtraction()}, &mockCreator{},
		WithPhrases(func(ext *port.Extraction) []string { return []string{ext.ParsedFields.PatientName} }))

	review, err := s.Extract(context.Background(), samplePDF)
	require.NoError(t, err)

	assert.Equal(t, "Patient Name: Jane Doe", review.Text)
	assert.Equal(t, "Dear Appeals Department, Jane Doe", review.AppealLetter)
	assert.Equal(t, "Jane Doe", review.PatientName)
	assert.Equal(t, "Acme Health", review.Insurer)
	assert.Equal(t, []string{"Jane Doe"}, review.Phrases)
}

func TestService_ExtractErrors(t *testing.T) {
	t.Run("reader failure", func(t *testing.T) {
		s := newTestService(&mockUploads{}, &mockReader{err: errors.New("corrupt xref")}, &mockExtractor{}, &mockCreator{})
		_, err := s.Extract(context.Background(), samplePDF)
		assert.ErrorContains(t, err, "corrupt xref")
	})

	t.Run("extractor failure", func(t *testing.T) {
		s := newTestService(&mockUploads{}, &mockReader{}, &mockExtractor{err: errors.New("no fields")}, &mockCreator{})
		_, err := s.ExtractText(context.Background(), "text")
		assert.ErrorContains(t, err, "no fields")
	})
}

func TestService_Approve(t *testing.T) {
	creator := &mockCreator{}
	s := newTestService(&mockUploads{}, &mockReader{}, &mockExtractor{}, creator)

	name, insurer := "Jane Doe", "Acme Health"
	c, err := s.Approve(context.Background(), Approval{
		PatientName:  &name,
		Insurer:      &insurer,
		MemberID:     "MEM-8821",
		DenialReason: "Medical necessity",
		Extraction:   sampleExtraction(),
		AppealLetter: "Dear Appeals Department,",
		PDFURL:       "https://files.example.com/denial.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSubmitted, c.Status)
	assert.Equal(t, "Jane Doe", *c.PatientName)
	assert.Nil(t, c.DenialDate)
	assert.Equal(t, "https://files.example.com/denial.pdf", c.PDFURL)

	data := creator.draft.ExtractedData
	assert.Equal(t, "MEM-8821", data["memberId"])
	assert.Equal(t, "Medical necessity", data["denialReason"])
	assert.Equal(t, "regex", data["parsing_source"])
	fields, ok := data["parsed_fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "987654321", fields["claim_id"])
}

func TestService_ApproveWithoutExtraction(t *testing.T) {
	creator := &mockCreator{}
	s := newTestService(&mockUploads{}, &mockReader{}, &mockExtractor{}, creator)

	_, err := s.Approve(context.Background(), Approval{AppealLetter: "Letter"})
	require.NoError(t, err)
	assert.Nil(t, creator.draft.ExtractedData)
}

func TestService_ApproveStoreFailure(t *testing.T) {
	s := newTestService(&mockUploads{}, &mockReader{}, &mockExtractor{}, &mockCreator{err: errors.New("insert failed")})

	_, err := s.Approve(context.Background(), Approval{})
	assert.ErrorContains(t, err, "insert failed")
}
