package extraction

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

// FallbackWarning is attached when the primary extractor failed
const FallbackWarning = "LLM parsing unavailable. Fell back to regex parser."

// FallbackExtractor tries primary and, when it fails, returns the
// fallback's result with a warning
type FallbackExtractor struct {
	primary  port.Extractor
	fallback port.Extractor
	logger   *zap.Logger
}

// NewFallbackExtractor creates a FallbackExtractor
func NewFallbackExtractor(primary, fallback port.Extractor, logger *zap.Logger) *FallbackExtractor {
	return &FallbackExtractor{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Extract runs the primary extractor, falling back on error
func (e *FallbackExtractor) Extract(ctx context.Context, text string) (*port.Extraction, error) {
	ext, err := e.primary.Extract(ctx, text)
	if err == nil {
		return ext, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.logger.Warn("Primary extraction failed, using fallback", zap.Error(err))
	ext, ferr := e.fallback.Extract(ctx, text)
	if ferr != nil {
		return nil, ferr
	}
	ext.ParsingWarnings = append(ext.ParsingWarnings, FallbackWarning)
	return ext, nil
}

var _ port.Extractor = (*FallbackExtractor)(nil)
