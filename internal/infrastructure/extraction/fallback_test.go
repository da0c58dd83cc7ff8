package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

type extractorFunc func(ctx context.Context, text string) (*port.Extraction, error)

func (f extractorFunc) Extract(ctx context.Context, text string) (*port.Extraction, error) {
	return f(ctx, text)
}

func TestFallbackExtractor(t *testing.T) {
	failing := extractorFunc(func(context.Context, string) (*port.Extraction, error) {
		return nil, errors.New("model unavailable")
	})
	working := extractorFunc(func(context.Context, string) (*port.Extraction, error) {
		return &port.Extraction{ParsingSource: SourceLLM}, nil
	})

	t.Run("primary succeeds", func(t *testing.T) {
		ext, err := NewFallbackExtractor(working, NewRegexExtractor(), zap.NewNop()).Extract(context.Background(), denialText)
		require.NoError(t, err)
		assert.Equal(t, SourceLLM, ext.ParsingSource)
		assert.Empty(t, ext.ParsingWarnings)
	})

	t.Run("primary fails", func(t *testing.T) {
		ext, err := NewFallbackExtractor(failing, NewRegexExtractor(), zap.NewNop()).Extract(context.Background(), denialText)
		require.NoError(t, err)
		assert.Equal(t, SourceRegex, ext.ParsingSource)
		assert.Equal(t, []string{FallbackWarning}, ext.ParsingWarnings)
		assert.Equal(t, "987654321", ext.ParsedFields.ClaimID)
	})

	t.Run("cancelled context is not masked", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewFallbackExtractor(failing, NewRegexExtractor(), zap.NewNop()).Extract(ctx, denialText)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSampleExtraction(t *testing.T) {
	a := SampleExtraction()
	a.ParsedFields.CPTCodes[0] = "changed"

	b, err := SampleExtractor{}.Extract(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "97110", b.ParsedFields.CPTCodes[0])
	assert.Equal(t, "987654321", b.ParsedFields.ClaimID)
	assert.Equal(t, []string{FallbackWarning}, b.ParsingWarnings)
}
