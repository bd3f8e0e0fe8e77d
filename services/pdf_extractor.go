package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"rag-document-pipeline/models"
)

const pdfRenderTimeout = 30 * time.Second

// ExtractPDF reads the native text layer of each PDF page as positioned
// fragments. Pages without a usable text layer (scans, vector-only pages)
// get a rendered page image attached instead so layout analysis can fall
// back to OCR. A page that fails to parse is recorded on the document and
// skipped; the remaining pages still go through.
func ExtractPDF(doc *models.Document, data []byte) ([]models.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]models.Page, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page, err := extractPDFPage(doc.ID, reader, i)
		if err != nil {
			doc.FailedPages = append(doc.FailedPages, models.PageFailure{
				PageIndex: i - 1,
				Stage:     "extract",
				Reason:    err.Error(),
			})
			slog.Warn("skipping unparseable PDF page",
				"document_id", doc.ID, "page_index", i-1, "error", err)
			continue
		}

		if !page.HasNativeText() {
			image, mediaType := renderPDFPage(data, i)
			page.Image = image
			page.ImageMediaType = mediaType
		}

		pages = append(pages, *page)
	}

	return pages, nil
}

// extractPDFPage parses one page into positioned fragments. The pdf library
// panics on some malformed content streams, so the page parse is isolated
// behind a recover.
func extractPDFPage(docID string, reader *pdf.Reader, num int) (page *models.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			page, err = nil, fmt.Errorf("page parser panicked: %v", r)
		}
	}()

	p := reader.Page(num)
	if p.V.IsNull() {
		return nil, fmt.Errorf("missing page object")
	}

	width, height := pdfPageSize(p)
	rotation := int(p.V.Key("Rotate").Int64())

	var fragments []models.Fragment
	for _, t := range p.Content().Text {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		// PDF y grows upward from the bottom edge; flip into the page
		// coordinate convention used everywhere downstream.
		top := height - t.Y - t.FontSize
		fragments = append(fragments, models.Fragment{
			Text:       t.S,
			Box:        models.BoundingBox{X0: t.X, Y0: top, X1: t.X + t.W, Y1: top + t.FontSize},
			FontSize:   t.FontSize,
			Confidence: 1.0,
		})
	}

	fragments = coalesceFragments(fragments)

	if quality := evaluateTextQuality(fragments); quality < 0.5 {
		// A corrupt text layer (bad font encodings) is worse than OCR.
		fragments = nil
	}

	return &models.Page{
		DocumentID: docID,
		Index:      num - 1,
		Width:      width,
		Height:     height,
		Rotation:   rotation,
		Fragments:  fragments,
	}, nil
}

// pdfPageSize reads the MediaBox, defaulting to US Letter when absent.
func pdfPageSize(p pdf.Page) (width, height float64) {
	width, height = 612, 792
	box := p.V.Key("MediaBox")
	if box.Kind() != pdf.Array || box.Len() != 4 {
		return width, height
	}
	x0, y0 := box.Index(0).Float64(), box.Index(1).Float64()
	x1, y1 := box.Index(2).Float64(), box.Index(3).Float64()
	if x1 > x0 && y1 > y0 {
		width, height = x1-x0, y1-y0
	}
	return width, height
}

// coalesceFragments merges per-glyph text runs into word-level fragments:
// consecutive runs on the same baseline separated by less than a third of
// the font size belong to the same word.
func coalesceFragments(fragments []models.Fragment) []models.Fragment {
	if len(fragments) < 2 {
		return fragments
	}

	out := make([]models.Fragment, 0, len(fragments))
	current := fragments[0]

	for _, f := range fragments[1:] {
		sameBaseline := absFloat(f.Box.Y1-current.Box.Y1) < current.Box.Height()/2
		joinGap := current.FontSize * 0.35
		if joinGap <= 0 {
			joinGap = 2
		}
		if sameBaseline && f.Box.X0-current.Box.X1 <= joinGap && f.Box.X0 >= current.Box.X0 {
			current.Text += f.Text
			current.Box = current.Box.Union(f.Box)
			if f.FontSize > current.FontSize {
				current.FontSize = f.FontSize
			}
			continue
		}
		out = append(out, current)
		current = f
	}
	out = append(out, current)
	return out
}

// evaluateTextQuality scores the extracted text layer between 0 and 1.
// Replacement runes and control garbage indicate broken font encodings.
func evaluateTextQuality(fragments []models.Fragment) float64 {
	var total, good, corrupted int
	for _, f := range fragments {
		for _, r := range f.Text {
			total++
			switch {
			case r == '�' || (r < 0x20 && r != '\n' && r != '\t'):
				corrupted++
			case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') || r == ' ' || r >= 0x80:
				good++
			default:
				good++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(good-corrupted*4) / float64(total)
}

// renderPDFPage rasterizes one page via pdftoppm when the binary is on PATH.
// Best effort: a missing binary or render failure just means no OCR input.
func renderPDFPage(data []byte, num int) ([]byte, string) {
	if !hasBinary("pdftoppm") {
		return nil, ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), pdfRenderTimeout)
	defer cancel()

	pageArg := strconv.Itoa(num)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png", "-r", "150", "-f", pageArg, "-l", pageArg, "-singlefile", "-", "-")
	cmd.Stdin = bytes.NewReader(data)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		slog.Debug("pdftoppm render failed", "page", num, "error", err)
		return nil, ""
	}
	if out.Len() == 0 {
		return nil, ""
	}
	return out.Bytes(), "image/png"
}

// hasBinary checks if a binary executable exists in PATH
func hasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
