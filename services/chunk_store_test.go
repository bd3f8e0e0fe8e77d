package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/models"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 0.001)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 0.001)
	assert.InDelta(t, 0.5, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 0.001)

	// Dimension mismatch and zero vectors score zero.
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestTokenize(t *testing.T) {
	terms := Tokenize("The quick brown fox, and the lazy dog!")
	assert.Equal(t, []string{"quick", "brown", "fox", "lazy", "dog"}, terms)
	assert.Empty(t, Tokenize("the and of"))
	assert.Empty(t, Tokenize(""))
}

func TestLexicalOverlapScore(t *testing.T) {
	query := Tokenize("revenue growth")

	matching := LexicalOverlapScore(query, "Revenue grew strongly; revenue growth exceeded plan.")
	unrelated := LexicalOverlapScore(query, "The weather was pleasant all week.")
	assert.Greater(t, matching, 0.0)
	assert.Equal(t, 0.0, unrelated)

	// Repeated terms help, but length dampening keeps long chunks in check.
	short := LexicalOverlapScore(query, "revenue growth")
	padded := LexicalOverlapScore(query, "revenue growth "+longFiller(200))
	assert.Greater(t, short, padded)
}

func longFiller(words int) string {
	out := ""
	for i := 0; i < words; i++ {
		out += "filler "
	}
	return out
}

func TestStagedWriteModelsIdempotentUpsert(t *testing.T) {
	chunk := models.Chunk{ID: "doc1_0", DocumentID: "doc1", Text: "short text"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := stagedWriteModels(&config.Config{}, "gen1",
		[]models.Chunk{chunk}, [][]float32{{0.1, 0.2}}, "text-embedding-004", now)
	require.Len(t, first, 1)

	model, ok := first[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.M{"chunk_id": "doc1_0", "generation": "gen1"}, model.Filter)
	require.NotNil(t, model.Upsert)
	assert.True(t, *model.Upsert)

	update, ok := model.Update.(bson.M)
	require.True(t, ok)
	require.Contains(t, update, "$set")

	// A retried run builds the identical write, so replaying the batch
	// converges on the same record instead of duplicating it.
	second := stagedWriteModels(&config.Config{}, "gen1",
		[]models.Chunk{chunk}, [][]float32{{0.1, 0.2}}, "text-embedding-004", now)
	retried := second[0].(*mongo.UpdateOneModel)
	assert.Equal(t, model.Filter, retried.Filter)
	assert.Equal(t, model.Update, retried.Update)
}

func TestStagedWriteModelsKeepTextForAtlasSearch(t *testing.T) {
	long := strings.Repeat("chunk text for the search index ", 40)
	chunk := models.Chunk{ID: "doc1_0", DocumentID: "doc1", Text: long}
	now := time.Now()

	record := func(cfg *config.Config) models.ChunkIndex {
		batch := stagedWriteModels(cfg, "gen1",
			[]models.Chunk{chunk}, [][]float32{{0.1}}, "text-embedding-004", now)
		require.Len(t, batch, 1)
		update := batch[0].(*mongo.UpdateOneModel).Update.(bson.M)
		return update["$set"].(models.ChunkIndex)
	}

	// Atlas $search reads the text field, so it must survive staging.
	indexed := record(&config.Config{AtlasTextSearchEnabled: true})
	assert.Equal(t, long, indexed.Text)
	assert.Empty(t, indexed.Compressed)

	// Without Atlas text search, large text is compressed at rest.
	local := record(&config.Config{})
	assert.Empty(t, local.Text)
	assert.NotEmpty(t, local.Compressed)
}

func TestSearchFilterActiveFilter(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := SearchFilter{
		DocumentIDs:    []string{"d1"},
		After:          &after,
		EmbeddingModel: "text-embedding-004",
	}

	filter := f.activeFilter()
	assert.Equal(t, models.ChunkActive, filter["status"])
	assert.Equal(t, "text-embedding-004", filter["embedding_model"])
	require.Contains(t, filter, "document_id")
	require.Contains(t, filter, "created_at")

	// Minimal filter still pins status.
	minimal := SearchFilter{}.activeFilter()
	assert.Equal(t, models.ChunkActive, minimal["status"])
	assert.NotContains(t, minimal, "document_id")
}
