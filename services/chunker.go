package services

import (
	"fmt"
	"strings"

	"rag-document-pipeline/models"
)

// Chunker assembles retrieval chunks from an ordered block stream according
// to a template. It is sequential by design: blocks must arrive merged in
// page-index order before chunking begins.
type Chunker struct {
	template ChunkTemplate
}

// NewChunker creates a chunker for the given template.
func NewChunker(template ChunkTemplate) *Chunker {
	return &Chunker{template: template}
}

// chunkBuilder accumulates blocks for one running chunk.
type chunkBuilder struct {
	blocks []models.Block
	tokens int
}

func (b *chunkBuilder) add(block models.Block, tokens int) {
	b.blocks = append(b.blocks, block)
	b.tokens += tokens
}

func (b *chunkBuilder) empty() bool { return len(b.blocks) == 0 }

func (b *chunkBuilder) reset() {
	b.blocks = nil
	b.tokens = 0
}

// ChunkBlocks walks blocks in reading order and produces ordered chunks.
//
// Boundary rules: an anchor block type starts a new chunk; a block that would
// push the running chunk past MaxChunkTokens flushes first when the running
// chunk already meets MinChunkTokens; an atomic table always becomes its own
// chunk, splitting the running chunk around it. Trailing content below the
// minimum is kept as a final undersized chunk. A single block exceeding the
// maximum is kept whole and flagged oversized.
func (c *Chunker) ChunkBlocks(docID string, blocks []models.Block) []models.Chunk {
	var chunks []models.Chunk
	running := &chunkBuilder{}

	flush := func() {
		if running.empty() {
			return
		}
		chunks = append(chunks, c.buildChunk(docID, len(chunks), running.blocks, running.tokens))
		running.reset()
	}

	for _, block := range blocks {
		if c.template.DiscardHeaderFooter &&
			(block.Type == models.BlockHeader || block.Type == models.BlockFooter) {
			continue
		}

		text := BlockText(block)
		if strings.TrimSpace(text) == "" && block.Table == nil {
			continue
		}
		tokens := EstimateTokens(text)

		if block.Type == models.BlockTable && c.template.AtomicTables {
			flush()
			chunks = append(chunks, c.buildChunk(docID, len(chunks), []models.Block{block}, tokens))
			continue
		}

		if c.template.AnchorTypes[block.Type] && !running.empty() {
			flush()
		}

		if running.tokens+tokens > c.template.MaxChunkTokens && running.tokens >= c.template.MinChunkTokens {
			flush()
		}

		running.add(block, tokens)
	}

	flush()
	return chunks
}

// buildChunk materializes one chunk from its source blocks, recording
// provenance block ids, the page range and the dominant block type.
func (c *Chunker) buildChunk(docID string, order int, blocks []models.Block, tokens int) models.Chunk {
	parts := make([]string, 0, len(blocks))
	blockIDs := make([]string, 0, len(blocks))
	pageStart, pageEnd := blocks[0].PageIndex, blocks[0].PageIndex
	lowConfidence := false
	typeCounts := make(map[models.BlockType]int)

	for _, block := range blocks {
		parts = append(parts, BlockText(block))
		blockIDs = append(blockIDs, block.ID)
		if block.PageIndex < pageStart {
			pageStart = block.PageIndex
		}
		if block.PageIndex > pageEnd {
			pageEnd = block.PageIndex
		}
		if block.LowConfidence {
			lowConfidence = true
		}
		typeCounts[block.Type]++
	}

	return models.Chunk{
		ID:            fmt.Sprintf("%s_%d", docID, order),
		DocumentID:    docID,
		Order:         order,
		Text:          strings.Join(parts, "\n\n"),
		TokenEstimate: tokens,
		PageStart:     pageStart,
		PageEnd:       pageEnd,
		BlockIDs:      blockIDs,
		Type:          dominantType(blocks, typeCounts),
		Template:      c.template.Name,
		Oversized:     tokens > c.template.MaxChunkTokens,
		LowConfidence: lowConfidence,
	}
}

// dominantType picks the most frequent block type, resolving ties by first
// occurrence in reading order.
func dominantType(blocks []models.Block, counts map[models.BlockType]int) models.BlockType {
	best := blocks[0].Type
	for _, block := range blocks {
		if counts[block.Type] > counts[best] {
			best = block.Type
		}
	}
	return best
}

// BlockText returns the retrievable text of a block. Table blocks render
// their cell grid as tab-separated rows so lexical search sees cell content.
func BlockText(block models.Block) string {
	if block.Table == nil || len(block.Table.Cells) == 0 {
		return block.Text
	}

	rows := make([]string, 0, len(block.Table.Cells))
	for _, row := range block.Table.Cells {
		rows = append(rows, strings.Join(row, "\t"))
	}
	return strings.Join(rows, "\n")
}
