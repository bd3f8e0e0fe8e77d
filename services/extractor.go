package services

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"rag-document-pipeline/models"
)

// ExtractFunc converts raw document bytes into pages. Extractors either emit
// positioned fragments (PDF, images) for layout analysis, or typed blocks
// directly (text-native formats where structure is explicit in the markup).
// Per-page failures are appended to doc.FailedPages and the page skipped.
type ExtractFunc func(doc *models.Document, data []byte) ([]models.Page, error)

// Extractor detects document formats and dispatches to the matching
// per-format extraction function.
type Extractor struct {
	registry map[models.DocumentFormat]ExtractFunc
}

// NewExtractor creates an extractor with all built-in formats registered.
func NewExtractor() *Extractor {
	e := &Extractor{registry: make(map[models.DocumentFormat]ExtractFunc)}
	e.registry[models.FormatPDF] = ExtractPDF
	e.registry[models.FormatDOCX] = ExtractDOCX
	e.registry[models.FormatPPTX] = ExtractPPTX
	e.registry[models.FormatSpreadsheet] = ExtractSpreadsheet
	e.registry[models.FormatHTML] = ExtractHTML
	e.registry[models.FormatMarkdown] = ExtractMarkdown
	e.registry[models.FormatImage] = ExtractImage
	return e
}

// DetectFormat sniffs the document format from content, using the filename
// extension only to disambiguate text content.
func DetectFormat(data []byte, filename string) (models.DocumentFormat, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty input", models.ErrUnsupportedFormat)
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return models.FormatPDF, nil

	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}),
		bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}),
		bytes.HasPrefix(data, []byte("GIF8")),
		isWebP(data):
		return models.FormatImage, nil

	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return detectZipFormat(data)
	}

	head := strings.ToLower(string(data[:minInt(len(data), 1024)]))
	trimmed := strings.TrimSpace(head)
	if strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html") ||
		strings.Contains(head, "<body") {
		return models.FormatHTML, nil
	}

	ext := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(ext, ".md"), strings.HasSuffix(ext, ".markdown"):
		return models.FormatMarkdown, nil
	case strings.HasSuffix(ext, ".html"), strings.HasSuffix(ext, ".htm"):
		return models.FormatHTML, nil
	case strings.HasSuffix(ext, ".csv"):
		return models.FormatSpreadsheet, nil
	}

	if isMostlyText(data) {
		// Plain text flows through the markdown extractor: headings and
		// lists are recognized when present, prose degrades to paragraphs.
		return models.FormatMarkdown, nil
	}

	return "", fmt.Errorf("%w: unrecognized content", models.ErrUnsupportedFormat)
}

// detectZipFormat distinguishes the OOXML container formats by their
// well-known inner paths.
func detectZipFormat(data []byte) (models.DocumentFormat, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: corrupt zip container: %v", models.ErrUnsupportedFormat, err)
	}

	for _, f := range reader.File {
		switch {
		case f.Name == "word/document.xml":
			return models.FormatDOCX, nil
		case f.Name == "ppt/presentation.xml":
			return models.FormatPPTX, nil
		case f.Name == "xl/workbook.xml":
			return models.FormatSpreadsheet, nil
		}
	}
	return "", fmt.Errorf("%w: unrecognized zip container", models.ErrUnsupportedFormat)
}

// Extract runs the format extractor for doc.Format over data. Page-level
// failures are recorded on the document and skipped; extraction fails only
// when no page could be produced at all.
func (e *Extractor) Extract(ctx context.Context, doc *models.Document, data []byte) ([]models.Page, error) {
	tracer := otel.Tracer("extractor")
	_, span := tracer.Start(ctx, "extractor.extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.format", string(doc.Format)),
		attribute.Int("document.bytes", len(data)),
	)

	extract, ok := e.registry[doc.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, doc.Format)
	}

	pages, err := extract(doc, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrExtraction, doc.Format, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages produced", models.ErrExtraction)
	}

	for i := range pages {
		pages[i].DocumentID = doc.ID
	}
	span.SetAttributes(attribute.Int("document.pages", len(pages)))

	if len(doc.FailedPages) > 0 {
		slog.Warn("extraction completed with page failures",
			"document_id", doc.ID,
			"failed_pages", len(doc.FailedPages),
			"total_pages", len(pages))
	}
	return pages, nil
}

// ExtractImage wraps a standalone image as a single page carrying only the
// image payload; layout analysis will route it through OCR.
func ExtractImage(doc *models.Document, data []byte) ([]models.Page, error) {
	mediaType := "image/png"
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		mediaType = "image/jpeg"
	}
	return []models.Page{{
		DocumentID:     doc.ID,
		Index:          0,
		Image:          data,
		ImageMediaType: mediaType,
	}}, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}

// isMostlyText reports whether the sample looks like readable text rather
// than binary data.
func isMostlyText(data []byte) bool {
	sample := data[:minInt(len(data), 4096)]
	printable := 0
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7F) || b >= 0x80 {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) > 0.95
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
