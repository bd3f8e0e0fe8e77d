package services

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"rag-document-pipeline/models"
)

// LayoutAnalyzer turns positioned text fragments into typed, ordered blocks.
// Fragments come from the PDF text layer or, when a page has no native text,
// from the OCR adapter. All geometric steps are pure functions over fragment
// collections; the analyzer only sequences them and attaches OCR.
type LayoutAnalyzer struct {
	ocr                 *OCRClient
	confidenceThreshold float64
}

// NewLayoutAnalyzer creates a layout analyzer. ocr may be nil; pages without
// a native text layer then produce a single low-confidence figure block.
func NewLayoutAnalyzer(ocr *OCRClient, confidenceThreshold float64) *LayoutAnalyzer {
	return &LayoutAnalyzer{
		ocr:                 ocr,
		confidenceThreshold: confidenceThreshold,
	}
}

var listItemPattern = regexp.MustCompile(`^\s*([-*•‣▪]|\d{1,3}[.)]|[a-z][.)])\s+`)

// AnalyzePage produces the ordered block sequence for one page.
// singleColumn forces raw top-to-bottom ordering (template override).
func (la *LayoutAnalyzer) AnalyzePage(ctx context.Context, page *models.Page, singleColumn bool) ([]models.Block, error) {
	tracer := otel.Tracer("layout-analyzer")
	ctx, span := tracer.Start(ctx, "layout.analyze_page")
	defer span.End()

	span.SetAttributes(
		attribute.Int("page.index", page.Index),
		attribute.Bool("page.native_text", page.HasNativeText()),
	)

	fragments := page.Fragments
	if len(fragments) == 0 && page.Image != nil && la.ocr != nil {
		fragments = la.ocr.RecognizePage(ctx, page)
		span.SetAttributes(attribute.Int("page.ocr_fragments", len(fragments)))
	}

	if len(fragments) == 0 {
		if page.Image != nil {
			// The page is visual content we could not read. Keep it visible
			// as a figure rather than dropping the page silently.
			return []models.Block{{
				ID:            uuid.NewString(),
				DocumentID:    page.DocumentID,
				PageIndex:     page.Index,
				Type:          models.BlockFigure,
				Box:           models.BoundingBox{X0: 0, Y0: 0, X1: page.Width, Y1: page.Height},
				Confidence:    0,
				LowConfidence: true,
			}}, nil
		}
		return nil, nil
	}

	fragments, degraded := NormalizeRotation(fragments, page)
	if degraded {
		span.SetAttributes(attribute.Bool("page.rotation_degraded", true))
	}

	lines := ClusterLines(fragments)

	var bands []ColumnBand
	if singleColumn || degraded {
		bands = []ColumnBand{{X0: 0, X1: pageWidthOf(page, lines)}}
	} else {
		bands = SplitColumnBands(lines, pageWidthOf(page, lines))
	}

	blocks := la.buildBlocks(page, lines, bands)
	blocks = OrderBlocks(blocks, bands)
	return blocks, nil
}

// buildBlocks groups lines into regions per column band, detects tables,
// classifies region types and attaches confidence annotations.
func (la *LayoutAnalyzer) buildBlocks(page *models.Page, lines []TextLine, bands []ColumnBand) []models.Block {
	var blocks []models.Block
	medianFont := medianFontSize(lines)

	for bandIdx, band := range bands {
		bandLines := linesInBand(lines, band, bands)
		sort.SliceStable(bandLines, func(i, j int) bool {
			return bandLines[i].Box.CenterY() < bandLines[j].Box.CenterY()
		})

		regions := la.segmentRegions(bandLines, pageWidthOf(page, lines))
		for _, region := range regions {
			block := la.regionToBlock(page, region, medianFont)
			block.Box = region.box()
			// Stash the band index for ordering; OrderBlocks rewrites Order.
			block.Order = bandIdx
			blocks = append(blocks, block)
		}
	}

	return blocks
}

// region is a run of lines forming one candidate block.
type region struct {
	lines   []TextLine
	isTable bool
}

func (r region) box() models.BoundingBox {
	box := r.lines[0].Box
	for _, line := range r.lines[1:] {
		box = box.Union(line.Box)
	}
	return box
}

// segmentRegions splits a band's line sequence into regions: table runs are
// detected first, then remaining lines are merged when vertically contiguous
// and left-aligned within tolerance.
func (la *LayoutAnalyzer) segmentRegions(lines []TextLine, pageWidth float64) []region {
	if len(lines) == 0 {
		return nil
	}

	gapThreshold := cellGapThreshold(pageWidth)
	lineHeight := medianLineHeight(lines)
	alignTol := lineHeight // left edges within one line height count as aligned

	var regions []region
	var current region

	flush := func() {
		if len(current.lines) > 0 {
			regions = append(regions, current)
			current = region{}
		}
	}

	for _, line := range lines {
		tabular := len(SplitCells(line, gapThreshold)) >= 2

		switch {
		case len(current.lines) == 0:
			current = region{lines: []TextLine{line}, isTable: tabular}

		case tabular != current.isTable:
			flush()
			current = region{lines: []TextLine{line}, isTable: tabular}

		case !verticallyContiguous(current.lines[len(current.lines)-1], line, lineHeight):
			flush()
			current = region{lines: []TextLine{line}, isTable: tabular}

		case !current.isTable && !leftAligned(current.lines[len(current.lines)-1], line, alignTol):
			flush()
			current = region{lines: []TextLine{line}, isTable: tabular}

		default:
			current.lines = append(current.lines, line)
		}
	}
	flush()

	// A lone "tabular" line is more likely a paragraph with wide spacing.
	for i := range regions {
		if regions[i].isTable && len(regions[i].lines) < 2 {
			regions[i].isTable = false
		}
	}

	return regions
}

// regionToBlock classifies a region and materializes the block, invoking
// table parsing for table regions.
func (la *LayoutAnalyzer) regionToBlock(page *models.Page, r region, medianFont float64) models.Block {
	block := models.Block{
		ID:         uuid.NewString(),
		DocumentID: page.DocumentID,
		PageIndex:  page.Index,
	}

	if r.isTable {
		block.Type = models.BlockTable
		block.Table = BuildTable(r.lines, cellGapThreshold(pageWidthOf(page, r.lines)))
	} else {
		block.Type = classifyRegion(r, page, medianFont)
		block.Text = regionText(r)
	}

	block.Confidence = regionConfidence(r)
	if block.Confidence < la.confidenceThreshold {
		block.LowConfidence = true
	}
	return block
}

// classifyRegion assigns a non-table block type from geometry and content.
func classifyRegion(r region, page *models.Page, medianFont float64) models.BlockType {
	text := regionText(r)
	words := len(strings.Fields(text))
	box := r.box()

	// Page furniture: short regions pinned to the extreme top or bottom band.
	if page.Height > 0 && len(r.lines) <= 2 {
		if box.Y1 < page.Height*0.06 {
			return models.BlockHeader
		}
		if box.Y0 > page.Height*0.94 {
			return models.BlockFooter
		}
	}

	if listItemPattern.MatchString(text) {
		return models.BlockListItem
	}

	if medianFont > 0 && regionFontSize(r) >= medianFont*1.15 && words <= 20 {
		return models.BlockTitle
	}

	return models.BlockParagraph
}

func regionText(r region) string {
	parts := make([]string, 0, len(r.lines))
	for _, line := range r.lines {
		parts = append(parts, line.Text())
	}
	return strings.Join(parts, "\n")
}

func regionConfidence(r region) float64 {
	total, n := 0.0, 0
	for _, line := range r.lines {
		for _, f := range line.Frags {
			total += f.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func regionFontSize(r region) float64 {
	best := 0.0
	for _, line := range r.lines {
		if line.FontSize > best {
			best = line.FontSize
		}
	}
	return best
}

// pageWidthOf falls back to the fragment extent when the page carries no
// declared width (OCR-only pages).
func pageWidthOf(page *models.Page, lines []TextLine) float64 {
	if page.Width > 0 {
		return page.Width
	}
	max := 0.0
	for _, line := range lines {
		if line.Box.X1 > max {
			max = line.Box.X1
		}
	}
	return max
}

// cellGapThreshold is the horizontal whitespace that separates table cells.
func cellGapThreshold(pageWidth float64) float64 {
	if pageWidth <= 0 {
		return 12
	}
	return pageWidth * 0.03
}
