package services

import (
	"sort"
	"strings"

	"rag-document-pipeline/models"
)

// TextLine is a horizontal run of fragments sharing a baseline.
type TextLine struct {
	Frags    []models.Fragment
	Box      models.BoundingBox
	FontSize float64
}

// Text joins fragment texts left to right with single spaces.
func (l TextLine) Text() string {
	parts := make([]string, 0, len(l.Frags))
	for _, f := range l.Frags {
		if t := strings.TrimSpace(f.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// ClusterLines groups fragments into lines by vertical center proximity:
// two fragments share a line when their y-centers differ by less than half
// the smaller fragment height. Fragments within a line are sorted by x.
func ClusterLines(fragments []models.Fragment) []TextLine {
	if len(fragments) == 0 {
		return nil
	}

	sorted := make([]models.Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box.CenterY() < sorted[j].Box.CenterY()
	})

	var lines []TextLine
	for _, frag := range sorted {
		placed := false
		if len(lines) > 0 {
			last := &lines[len(lines)-1]
			tol := minFloat(last.Box.Height(), frag.Box.Height()) / 2
			if tol <= 0 {
				tol = 2
			}
			if absFloat(last.Box.CenterY()-frag.Box.CenterY()) < tol {
				last.Frags = append(last.Frags, frag)
				last.Box = last.Box.Union(frag.Box)
				if frag.FontSize > last.FontSize {
					last.FontSize = frag.FontSize
				}
				placed = true
			}
		}
		if !placed {
			lines = append(lines, TextLine{
				Frags:    []models.Fragment{frag},
				Box:      frag.Box,
				FontSize: frag.FontSize,
			})
		}
	}

	for i := range lines {
		sort.SliceStable(lines[i].Frags, func(a, b int) bool {
			return lines[i].Frags[a].Box.X0 < lines[i].Frags[b].Box.X0
		})
	}
	return lines
}

// NormalizeRotation maps fragment boxes into upright page coordinates for
// rotations of 90, 180 and 270 degrees. Other non-zero rotations cannot be
// normalized; the caller then degrades to raw top-to-bottom ordering.
func NormalizeRotation(fragments []models.Fragment, page *models.Page) ([]models.Fragment, bool) {
	rot := ((page.Rotation % 360) + 360) % 360
	if rot == 0 {
		return fragments, false
	}
	if rot != 90 && rot != 180 && rot != 270 {
		return fragments, true
	}

	w, h := page.Width, page.Height
	out := make([]models.Fragment, len(fragments))
	for i, f := range fragments {
		b := f.Box
		switch rot {
		case 90:
			f.Box = models.BoundingBox{X0: b.Y0, Y0: w - b.X1, X1: b.Y1, Y1: w - b.X0}
		case 180:
			f.Box = models.BoundingBox{X0: w - b.X1, Y0: h - b.Y1, X1: w - b.X0, Y1: h - b.Y0}
		case 270:
			f.Box = models.BoundingBox{X0: h - b.Y1, Y0: b.X0, X1: h - b.Y0, Y1: b.X1}
		}
		out[i] = f
	}
	return out, false
}

// ColumnBand is a vertical strip of the page holding one text column.
type ColumnBand struct {
	X0, X1 float64
}

func (b ColumnBand) contains(x float64) bool {
	return x >= b.X0 && x < b.X1
}

// SplitColumnBands detects column layout from the horizontal whitespace
// profile of the page's lines. A gap in x-coverage at least 5% of the page
// wide, located in the middle half of the page, splits the page into bands.
// Returns a single full-width band for linear layouts.
func SplitColumnBands(lines []TextLine, pageWidth float64) []ColumnBand {
	if pageWidth <= 0 || len(lines) == 0 {
		return []ColumnBand{{X0: 0, X1: pageWidth}}
	}

	// Full-width lines (titles, banners) span every column and would mask
	// the gap, so they are excluded from the coverage profile.
	type interval struct{ x0, x1 float64 }
	var covered []interval
	for _, line := range lines {
		if line.Box.Width() > pageWidth*0.7 {
			continue
		}
		covered = append(covered, interval{line.Box.X0, line.Box.X1})
	}
	if len(covered) == 0 {
		return []ColumnBand{{X0: 0, X1: pageWidth}}
	}

	sort.Slice(covered, func(i, j int) bool { return covered[i].x0 < covered[j].x0 })

	// Merge into a coverage union, then look for interior gaps.
	merged := []interval{covered[0]}
	for _, iv := range covered[1:] {
		last := &merged[len(merged)-1]
		if iv.x0 <= last.x1 {
			if iv.x1 > last.x1 {
				last.x1 = iv.x1
			}
		} else {
			merged = append(merged, iv)
		}
	}

	minGap := pageWidth * 0.05
	var splits []float64
	for i := 0; i < len(merged)-1; i++ {
		gapStart, gapEnd := merged[i].x1, merged[i+1].x0
		mid := (gapStart + gapEnd) / 2
		if gapEnd-gapStart >= minGap && mid > pageWidth*0.25 && mid < pageWidth*0.75 {
			splits = append(splits, mid)
		}
	}
	if len(splits) == 0 {
		return []ColumnBand{{X0: 0, X1: pageWidth}}
	}

	bands := make([]ColumnBand, 0, len(splits)+1)
	prev := 0.0
	for _, s := range splits {
		bands = append(bands, ColumnBand{X0: prev, X1: s})
		prev = s
	}
	bands = append(bands, ColumnBand{X0: prev, X1: pageWidth})
	return bands
}

// linesInBand selects the lines belonging to a band by x-center. Lines wider
// than any single band (full-width titles) are attached to the first band so
// they appear exactly once.
func linesInBand(lines []TextLine, band ColumnBand, all []ColumnBand) []TextLine {
	var out []TextLine
	for _, line := range lines {
		if spansAllBands(line, all) {
			if band.X0 == all[0].X0 {
				out = append(out, line)
			}
			continue
		}
		if band.contains(line.Box.CenterX()) {
			out = append(out, line)
		}
	}
	return out
}

func spansAllBands(line TextLine, bands []ColumnBand) bool {
	if len(bands) < 2 {
		return false
	}
	return line.Box.X0 < bands[0].X1 && line.Box.X1 > bands[len(bands)-1].X0
}

// OrderBlocks assigns the page reading order: bands left to right, and
// within each band top to bottom, ties broken left to right. Block.Order
// must hold the band index on entry; it is rewritten to the final position.
func OrderBlocks(blocks []models.Block, bands []ColumnBand) []models.Block {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Order != blocks[j].Order {
			return blocks[i].Order < blocks[j].Order
		}
		if blocks[i].Box.Y0 != blocks[j].Box.Y0 {
			return blocks[i].Box.Y0 < blocks[j].Box.Y0
		}
		return blocks[i].Box.X0 < blocks[j].Box.X0
	})
	for i := range blocks {
		blocks[i].Order = i
	}
	return blocks
}

// tableCell is one horizontally separated run of fragments within a line.
type tableCell struct {
	Text   string
	X0, X1 float64
}

// SplitCells breaks a line into cells at horizontal gaps wider than
// gapThreshold.
func SplitCells(line TextLine, gapThreshold float64) []tableCell {
	if len(line.Frags) == 0 {
		return nil
	}

	var cells []tableCell
	current := tableCell{
		Text: strings.TrimSpace(line.Frags[0].Text),
		X0:   line.Frags[0].Box.X0,
		X1:   line.Frags[0].Box.X1,
	}

	for _, f := range line.Frags[1:] {
		if f.Box.X0-current.X1 > gapThreshold {
			cells = append(cells, current)
			current = tableCell{Text: strings.TrimSpace(f.Text), X0: f.Box.X0, X1: f.Box.X1}
			continue
		}
		if t := strings.TrimSpace(f.Text); t != "" {
			if current.Text == "" {
				current.Text = t
			} else {
				current.Text += " " + t
			}
		}
		if f.Box.X1 > current.X1 {
			current.X1 = f.Box.X1
		}
	}
	cells = append(cells, current)
	return cells
}

// BuildTable converts a run of tabular lines into a dense cell grid. Column
// boundaries are clustered from cell start positions across all rows; a cell
// covering several columns has its text repeated into each covered position,
// so every row has the same width.
func BuildTable(lines []TextLine, gapThreshold float64) *models.TableData {
	rowCells := make([][]tableCell, 0, len(lines))
	for _, line := range lines {
		rowCells = append(rowCells, SplitCells(line, gapThreshold))
	}

	columns := clusterColumnStarts(rowCells, gapThreshold)
	if len(columns) == 0 {
		return &models.TableData{}
	}

	cells := make([][]string, len(rowCells))
	for r, row := range rowCells {
		grid := make([]string, len(columns))
		for i, cell := range row {
			start := columnIndex(columns, cell.X0)
			end := len(columns)
			if i+1 < len(row) {
				end = columnIndex(columns, row[i+1].X0)
			}
			if end <= start {
				end = start + 1
			}
			for c := start; c < end && c < len(grid); c++ {
				grid[c] = cell.Text
			}
		}
		cells[r] = grid
	}

	return &models.TableData{
		Rows:  len(cells),
		Cols:  len(columns),
		Cells: cells,
	}
}

// clusterColumnStarts merges cell start x-positions within tolerance into
// sorted column boundaries.
func clusterColumnStarts(rows [][]tableCell, tol float64) []float64 {
	var starts []float64
	for _, row := range rows {
		for _, cell := range row {
			starts = append(starts, cell.X0)
		}
	}
	if len(starts) == 0 {
		return nil
	}
	sort.Float64s(starts)

	columns := []float64{starts[0]}
	for _, x := range starts[1:] {
		if x-columns[len(columns)-1] > tol {
			columns = append(columns, x)
		}
	}
	return columns
}

// columnIndex returns the rightmost column whose boundary is at or left of x.
func columnIndex(columns []float64, x float64) int {
	idx := 0
	for i, c := range columns {
		if c <= x+1e-6 {
			idx = i
		}
	}
	return idx
}

func verticallyContiguous(prev, next TextLine, lineHeight float64) bool {
	gap := next.Box.Y0 - prev.Box.Y1
	return gap <= lineHeight*1.5
}

func leftAligned(prev, next TextLine, tol float64) bool {
	// Indented continuations (list item bodies) still belong to the region.
	return absFloat(prev.Box.X0-next.Box.X0) <= tol*2
}

func medianFontSize(lines []TextLine) float64 {
	sizes := make([]float64, 0, len(lines))
	for _, line := range lines {
		if line.FontSize > 0 {
			sizes = append(sizes, line.FontSize)
		}
	}
	return medianFloat(sizes)
}

func medianLineHeight(lines []TextLine) float64 {
	heights := make([]float64, 0, len(lines))
	for _, line := range lines {
		if h := line.Box.Height(); h > 0 {
			heights = append(heights, h)
		}
	}
	m := medianFloat(heights)
	if m <= 0 {
		m = 10
	}
	return m
}

func medianFloat(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
