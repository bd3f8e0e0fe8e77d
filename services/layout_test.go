package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-document-pipeline/models"
)

func frag(text string, x0, y0, x1, y1, fontSize float64) models.Fragment {
	return models.Fragment{
		Text:       text,
		Box:        models.BoundingBox{X0: x0, Y0: y0, X1: x1, Y1: y1},
		FontSize:   fontSize,
		Confidence: 1.0,
	}
}

func TestClusterLines(t *testing.T) {
	fragments := []models.Fragment{
		frag("world", 60, 100, 100, 110, 10),
		frag("hello", 10, 101, 50, 111, 10),
		frag("below", 10, 130, 50, 140, 10),
	}

	lines := ClusterLines(fragments)
	require.Len(t, lines, 2)
	assert.Equal(t, "hello world", lines[0].Text())
	assert.Equal(t, "below", lines[1].Text())
}

func TestSplitColumnBandsTwoColumns(t *testing.T) {
	// Left column covers x 50..250, right column x 350..550 on a 600-wide
	// page: the gap at 250..350 splits the page.
	var lines []TextLine
	for y := 100.0; y < 400; y += 20 {
		lines = append(lines, TextLine{Box: models.BoundingBox{X0: 50, Y0: y, X1: 250, Y1: y + 10}})
		lines = append(lines, TextLine{Box: models.BoundingBox{X0: 350, Y0: y, X1: 550, Y1: y + 10}})
	}

	bands := SplitColumnBands(lines, 600)
	require.Len(t, bands, 2)
	assert.Less(t, bands[0].X1, 350.0)
	assert.Greater(t, bands[1].X0, 250.0)
}

func TestSplitColumnBandsSingleColumn(t *testing.T) {
	lines := []TextLine{
		{Box: models.BoundingBox{X0: 50, Y0: 100, X1: 550, Y1: 110}},
		{Box: models.BoundingBox{X0: 50, Y0: 120, X1: 540, Y1: 130}},
	}

	bands := SplitColumnBands(lines, 600)
	require.Len(t, bands, 1)
}

func TestOrderBlocksColumnsNeverInterleave(t *testing.T) {
	bands := []ColumnBand{{X0: 0, X1: 300}, {X0: 300, X1: 600}}

	// Block.Order carries the band index on input.
	blocks := []models.Block{
		{ID: "right-top", Order: 1, Box: models.BoundingBox{X0: 350, Y0: 100, X1: 550, Y1: 120}},
		{ID: "left-bottom", Order: 0, Box: models.BoundingBox{X0: 50, Y0: 300, X1: 250, Y1: 320}},
		{ID: "left-top", Order: 0, Box: models.BoundingBox{X0: 50, Y0: 100, X1: 250, Y1: 120}},
		{ID: "right-bottom", Order: 1, Box: models.BoundingBox{X0: 350, Y0: 300, X1: 550, Y1: 320}},
	}

	ordered := OrderBlocks(blocks, bands)
	ids := make([]string, len(ordered))
	for i, b := range ordered {
		assert.Equal(t, i, b.Order)
		ids[i] = b.ID
	}
	assert.Equal(t, []string{"left-top", "left-bottom", "right-top", "right-bottom"}, ids)
}

func TestNormalizeRotation(t *testing.T) {
	page := &models.Page{Width: 600, Height: 800, Rotation: 180}
	fragments := []models.Fragment{frag("x", 10, 20, 30, 40, 10)}

	rotated, degraded := NormalizeRotation(fragments, page)
	require.False(t, degraded)
	assert.InDelta(t, 570, rotated[0].Box.X0, 0.001)
	assert.InDelta(t, 760, rotated[0].Box.Y0, 0.001)

	page.Rotation = 45
	_, degraded = NormalizeRotation(fragments, page)
	assert.True(t, degraded)

	page.Rotation = 0
	same, degraded := NormalizeRotation(fragments, page)
	assert.False(t, degraded)
	assert.Equal(t, fragments, same)
}

func TestSplitCells(t *testing.T) {
	line := TextLine{Frags: []models.Fragment{
		frag("Name", 10, 100, 50, 110, 10),
		frag("Age", 200, 100, 230, 110, 10),
		frag("City", 400, 100, 440, 110, 10),
	}}
	line.Box = models.BoundingBox{X0: 10, Y0: 100, X1: 440, Y1: 110}

	cells := SplitCells(line, 50)
	require.Len(t, cells, 3)
	assert.Equal(t, "Name", cells[0].Text)
	assert.Equal(t, "Age", cells[1].Text)
	assert.Equal(t, "City", cells[2].Text)
}

func TestBuildTableDenseGrid(t *testing.T) {
	row := func(y float64, texts ...string) TextLine {
		var frags []models.Fragment
		x := 10.0
		for _, text := range texts {
			frags = append(frags, frag(text, x, y, x+40, y+10, 10))
			x += 200
		}
		return TextLine{
			Frags: frags,
			Box:   models.BoundingBox{X0: 10, Y0: y, X1: x, Y1: y + 10},
		}
	}

	lines := []TextLine{
		row(100, "Name", "Age", "City"),
		row(120, "Ada", "36", "London"),
	}

	table := BuildTable(lines, 50)
	require.NotNil(t, table)
	assert.Equal(t, 2, table.Rows)
	assert.Equal(t, 3, table.Cols)
	assert.Equal(t, [][]string{
		{"Name", "Age", "City"},
		{"Ada", "36", "London"},
	}, table.Cells)
}

func TestAnalyzePageClassifiesTitle(t *testing.T) {
	page := &models.Page{
		DocumentID: "doc1",
		Index:      0,
		Width:      600,
		Height:     800,
		Fragments: []models.Fragment{
			frag("Quarterly Report", 50, 100, 300, 120, 20),
			frag("The quarter closed with revenue ahead of plan", 50, 200, 500, 210, 10),
			frag("and operating costs within the approved envelope.", 50, 215, 500, 225, 10),
		},
	}

	la := NewLayoutAnalyzer(nil, 0.7)
	blocks, err := la.AnalyzePage(context.Background(), page, false)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, models.BlockTitle, blocks[0].Type)
	assert.Equal(t, "Quarterly Report", blocks[0].Text)
	assert.Equal(t, models.BlockParagraph, blocks[1].Type)

	// Strict total order within the page.
	for i, b := range blocks {
		assert.Equal(t, i, b.Order)
		assert.Equal(t, "doc1", b.DocumentID)
	}
}

func TestAnalyzePageEmptyWithoutImage(t *testing.T) {
	page := &models.Page{DocumentID: "doc1", Index: 0, Width: 600, Height: 800}

	la := NewLayoutAnalyzer(nil, 0.7)
	blocks, err := la.AnalyzePage(context.Background(), page, false)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestAnalyzePageImageOnlyBecomesFigure(t *testing.T) {
	page := &models.Page{
		DocumentID: "doc1",
		Index:      0,
		Width:      600,
		Height:     800,
		Image:      []byte{0x89, 'P', 'N', 'G'},
	}

	la := NewLayoutAnalyzer(nil, 0.7)
	blocks, err := la.AnalyzePage(context.Background(), page, false)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, models.BlockFigure, blocks[0].Type)
	assert.True(t, blocks[0].LowConfidence)
}

func TestAnalyzePageMarksLowConfidence(t *testing.T) {
	noisy := frag("smudged text", 50, 200, 200, 210, 10)
	noisy.Confidence = 0.3

	page := &models.Page{
		DocumentID: "doc1",
		Index:      0,
		Width:      600,
		Height:     800,
		Fragments:  []models.Fragment{noisy},
	}

	la := NewLayoutAnalyzer(nil, 0.7)
	blocks, err := la.AnalyzePage(context.Background(), page, false)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].LowConfidence)
	assert.InDelta(t, 0.3, blocks[0].Confidence, 0.001)
}
