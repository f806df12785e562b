package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/doc-analyzer/internal/documents"
	"github.com/cuongbtq/doc-analyzer/internal/domain"
)

// DefaultMaxChars bounds the text handed to the analyzer
const DefaultMaxChars = 8000

// Extractor turns a source reference into plain text.
// Failures are returned as *domain.ExtractionError.
type Extractor interface {
	Extract(ctx context.Context, sourceRef string) (string, error)
}

// ExtractConfig configures TextExtractor
type ExtractConfig struct {
	Pdftotext string
	MaxChars  int
	Timeout   time.Duration
}

// TextExtractor reads text files directly and converts PDFs with pdftotext
type TextExtractor struct {
	docs   documents.Store
	runner Runner
	cfg    ExtractConfig
	logger *slog.Logger
}

// NewTextExtractor creates an extractor resolving references through docs
func NewTextExtractor(docs documents.Store, runner Runner, cfg ExtractConfig, logger *slog.Logger) *TextExtractor {
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	return &TextExtractor{
		docs:   docs,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

func (e *TextExtractor) Extract(ctx context.Context, sourceRef string) (string, error) {
	path, cleanup, err := e.docs.Fetch(ctx, sourceRef)
	defer cleanup()
	if err != nil {
		return "", &domain.ExtractionError{Source: sourceRef, Err: err}
	}

	var raw string
	switch ext := strings.ToLower(filepath.Ext(sourceRef)); ext {
	case ".txt", ".md", ".csv":
		raw, err = readText(path)
	case ".pdf", "":
		raw, err = e.pdfToText(ctx, path)
	default:
		err = fmt.Errorf("unsupported document type %q", ext)
	}
	if err != nil {
		return "", &domain.ExtractionError{Source: sourceRef, Err: err}
	}

	text := Normalize(raw, e.cfg.MaxChars)
	if strings.TrimSpace(text) == "" {
		return "", &domain.ExtractionError{Source: sourceRef, Err: errors.New("document contains no extractable text")}
	}

	e.logger.Debug("Text extracted",
		slog.String("source_reference", sourceRef),
		slog.Int("raw_chars", len(raw)),
		slog.Int("chars", len(text)),
	)

	return text, nil
}

func (e *TextExtractor) pdfToText(ctx context.Context, path string) (string, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		if msg := strings.TrimSpace(string(errb)); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", e.cfg.Pdftotext, err, truncate(msg, 512))
		}
		return "", fmt.Errorf("%s: %w", e.cfg.Pdftotext, err)
	}
	return string(out), nil
}

func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("file is not valid UTF-8 text")
	}
	return string(b), nil
}

// Normalize collapses blank lines, drops page breaks and caps the result at maxChars runes
func Normalize(text string, maxChars int) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")

	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		runes := []rune(text)
		text = string(runes[:maxChars])
	}
	return text
}
