package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

// ErrUnsupportedDocument is returned for uploads that are not PDFs
var ErrUnsupportedDocument = errors.New("document is not a PDF")

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether data starts with the PDF header
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// PDFReader extracts the text layer of a PDF with mupdf
type PDFReader struct {
	maxPages int
	logger   *zap.Logger
}

// NewPDFReader creates a reader. maxPages <= 0 reads every page.
func NewPDFReader(maxPages int, logger *zap.Logger) *PDFReader {
	return &PDFReader{
		maxPages: maxPages,
		logger:   logger,
	}
}

// ReadText returns the text of each page separated by blank lines
func (r *PDFReader) ReadText(ctx context.Context, data []byte) (string, error) {
	if !IsPDF(data) {
		return "", ErrUnsupportedDocument
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if r.maxPages > 0 && pages > r.maxPages {
		pages = r.maxPages
	}

	var sb strings.Builder
	for n := 0; n < pages; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(n)
		if err != nil {
			r.logger.Warn("Failed to extract page text", zap.Int("page", n), zap.Error(err))
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(text))
	}

	r.logger.Info("Extracted PDF text",
		zap.Int("total_pages", doc.NumPage()),
		zap.Int("pages_read", pages),
		zap.Int("chars", sb.Len()),
	)
	return sb.String(), nil
}

var _ port.TextReader = (*PDFReader)(nil)
