// Package extract converts raw PDF byte streams into normalized plain text.
//
// Extraction is page-wise and fault tolerant: a page whose content stream
// cannot be decoded is logged and skipped, so a damaged file still yields
// partial text. Extraction only fails when the stream is not a PDF at all
// or when no page produced any text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Common errors.
var (
	// ErrUnreadable indicates the byte stream could not be parsed as a PDF.
	ErrUnreadable = errors.New("unreadable PDF")

	// ErrNoText indicates extraction produced no text after normalization.
	ErrNoText = errors.New("no extractable text")
)

// Extractor extracts normalized text from document byte streams.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates an Extractor. A nil logger is replaced with a no-op.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// PDFText extracts text from every readable page of a PDF and normalizes
// the result. Per-page decode failures are skipped; the whole call fails
// only with ErrUnreadable (not a PDF) or ErrNoText (nothing recovered).
func (e *Extractor) PDFText(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		text, err := e.pageText(reader, pageNum)
		if err != nil {
			e.logger.Warn("skipping unreadable page",
				zap.Int("page", pageNum),
				zap.Error(err))
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	normalized := NormalizeText(sb.String())
	if normalized == "" {
		return "", ErrNoText
	}
	return normalized, nil
}

// pageText extracts the plain text of one page. The underlying parser
// panics on some malformed content streams, so the panic is converted
// into a per-page error here.
func (e *Extractor) pageText(reader *pdf.Reader, pageNum int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page content decode panic: %v", r)
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d is missing", pageNum)
	}
	return page.GetPlainText(nil)
}

var tripleNewline = regexp.MustCompile(`\n{3,}`)

// NormalizeText cleans extracted text: runs of 3+ newlines collapse to
// two, all remaining internal whitespace collapses to single spaces,
// null bytes are stripped and the result is trimmed.
func NormalizeText(text string) string {
	text = tripleNewline.ReplaceAllString(text, "\n\n")
	text = strings.Join(strings.Fields(text), " ")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
