// Package ocr extracts text from PDF documents.
package ocr

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/config"
)

// Extractor extracts text content from PDF bytes.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// NewExtractor creates an Extractor based on config. Provider "chain" runs
// pdftotext first and falls back to Mistral OCR for scanned documents.
func NewExtractor(cfg config.OCRConfig, mistral config.MistralConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if mistral.Key == "" {
			return nil, eris.New("ocr: mistral provider requires mistral.key")
		}
		return NewMistralOCR(mistral.Key, mistral.OCRModel), nil
	case "chain":
		if mistral.Key == "" {
			return NewPdfToText(cfg.PdfToTextPath), nil
		}
		return NewChain(0, NewPdfToText(cfg.PdfToTextPath), NewMistralOCR(mistral.Key, mistral.OCRModel)), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// Chain tries extractors in order until one yields at least minChars of
// text. Errors from earlier extractors are logged and skipped.
type Chain struct {
	extractors []Extractor
	minChars   int
}

// NewChain creates a Chain. A non-positive minChars accepts any non-blank
// text.
func NewChain(minChars int, extractors ...Extractor) *Chain {
	return &Chain{extractors: extractors, minChars: minChars}
}

// ExtractText implements Extractor.
func (c *Chain) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	var (
		best    string
		lastErr error
	)
	for i, ex := range c.extractors {
		text, err := ex.ExtractText(ctx, pdf)
		if err != nil {
			lastErr = err
			zap.L().Debug("ocr: extractor failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		text = strings.TrimSpace(text)
		if Usable(text, c.minChars) {
			return text, nil
		}
		if utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
			best = text
		}
	}
	if best != "" || lastErr == nil {
		return best, nil
	}
	return "", eris.Wrap(lastErr, "ocr: all extractors failed")
}

// Usable reports whether text carries at least minChars non-space runes.
func Usable(text string, minChars int) bool {
	n := 0
	for _, r := range text {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			n++
		}
	}
	if minChars <= 0 {
		return n > 0
	}
	return n >= minChars
}
