package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-document-pipeline/models"
)

func testTemplate() ChunkTemplate {
	return ChunkTemplate{
		Name:                "report",
		AnchorTypes:         map[models.BlockType]bool{models.BlockTitle: true},
		MinChunkTokens:      10,
		MaxChunkTokens:      40,
		AtomicTables:        true,
		DiscardHeaderFooter: true,
	}
}

func makeBlock(id string, blockType models.BlockType, page int, words int) models.Block {
	return models.Block{
		ID:        id,
		PageIndex: page,
		Type:      blockType,
		Text:      strings.TrimSpace(strings.Repeat("word ", words)),
	}
}

func TestChunkBlocksPartition(t *testing.T) {
	blocks := []models.Block{
		makeBlock("b0", models.BlockTitle, 0, 3),
		makeBlock("b1", models.BlockParagraph, 0, 20),
		makeBlock("b2", models.BlockParagraph, 0, 20),
		makeBlock("b3", models.BlockTitle, 1, 3),
		makeBlock("b4", models.BlockParagraph, 1, 15),
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.NotEmpty(t, chunks)

	// Every block lands in exactly one chunk, in order.
	var seen []string
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Order)
		assert.Equal(t, fmt.Sprintf("doc1_%d", i), chunk.ID)
		assert.Equal(t, "doc1", chunk.DocumentID)
		seen = append(seen, chunk.BlockIDs...)
	}
	assert.Equal(t, []string{"b0", "b1", "b2", "b3", "b4"}, seen)
}

func TestChunkBlocksTitleAnchor(t *testing.T) {
	blocks := []models.Block{
		makeBlock("b0", models.BlockParagraph, 0, 12),
		makeBlock("b1", models.BlockTitle, 0, 3),
		makeBlock("b2", models.BlockParagraph, 0, 12),
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"b0"}, chunks[0].BlockIDs)
	assert.Equal(t, []string{"b1", "b2"}, chunks[1].BlockIDs)
}

func TestChunkBlocksAtomicTable(t *testing.T) {
	table := models.Block{
		ID:        "tbl",
		PageIndex: 0,
		Type:      models.BlockTable,
		Table: &models.TableData{
			Rows:  2,
			Cols:  2,
			Cells: [][]string{{"a", "b"}, {"c", "d"}},
		},
	}
	blocks := []models.Block{
		makeBlock("b0", models.BlockParagraph, 0, 12),
		table,
		makeBlock("b1", models.BlockParagraph, 0, 12),
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"tbl"}, chunks[1].BlockIDs)
	assert.Equal(t, models.BlockTable, chunks[1].Type)
	assert.Contains(t, chunks[1].Text, "a\tb")
}

func TestChunkBlocksNonAtomicTableInline(t *testing.T) {
	tpl := testTemplate()
	tpl.AtomicTables = false

	table := models.Block{
		ID:        "tbl",
		PageIndex: 0,
		Type:      models.BlockTable,
		Table: &models.TableData{
			Rows:  1,
			Cols:  2,
			Cells: [][]string{{"x", "y"}},
		},
	}
	blocks := []models.Block{
		makeBlock("b0", models.BlockParagraph, 0, 5),
		table,
	}

	chunks := NewChunker(tpl).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"b0", "tbl"}, chunks[0].BlockIDs)
}

func TestChunkBlocksOversized(t *testing.T) {
	blocks := []models.Block{
		makeBlock("big", models.BlockParagraph, 0, 200),
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Oversized)
	assert.Equal(t, []string{"big"}, chunks[0].BlockIDs)
}

func TestChunkBlocksUndersizedTerminal(t *testing.T) {
	blocks := []models.Block{
		makeBlock("b0", models.BlockParagraph, 0, 25),
		makeBlock("b1", models.BlockParagraph, 0, 25),
		makeBlock("b2", models.BlockParagraph, 0, 2),
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Contains(t, last.BlockIDs, "b2")
}

func TestChunkBlocksDiscardsHeaderFooter(t *testing.T) {
	blocks := []models.Block{
		makeBlock("hdr", models.BlockHeader, 0, 4),
		makeBlock("b0", models.BlockParagraph, 0, 12),
		makeBlock("ftr", models.BlockFooter, 0, 4),
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"b0"}, chunks[0].BlockIDs)

	tpl := testTemplate()
	tpl.DiscardHeaderFooter = false
	chunks = NewChunker(tpl).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"hdr", "b0", "ftr"}, chunks[0].BlockIDs)
}

func TestChunkBlocksPageRangeAndLowConfidence(t *testing.T) {
	b0 := makeBlock("b0", models.BlockParagraph, 2, 5)
	b1 := makeBlock("b1", models.BlockParagraph, 3, 5)
	b1.LowConfidence = true

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", []models.Block{b0, b1})
	require.Len(t, chunks, 1)
	assert.Equal(t, 2, chunks[0].PageStart)
	assert.Equal(t, 3, chunks[0].PageEnd)
	assert.True(t, chunks[0].LowConfidence)
}

func TestDominantTypeTieBreaksByFirstOccurrence(t *testing.T) {
	blocks := []models.Block{
		makeBlock("b0", models.BlockListItem, 0, 5),
		makeBlock("b1", models.BlockParagraph, 0, 5),
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 1)
	assert.Equal(t, models.BlockListItem, chunks[0].Type)
}

func TestChunkBlocksSkipsEmptyBlocks(t *testing.T) {
	blocks := []models.Block{
		makeBlock("b0", models.BlockParagraph, 0, 5),
		{ID: "empty", PageIndex: 0, Type: models.BlockFigure},
	}

	chunks := NewChunker(testTemplate()).ChunkBlocks("doc1", blocks)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"b0"}, chunks[0].BlockIDs)
}
