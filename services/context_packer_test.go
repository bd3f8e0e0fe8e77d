package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-document-pipeline/models"
)

func candidate(id string, fused float64, tokens int) models.RetrievalCandidate {
	return models.RetrievalCandidate{
		ChunkID:       id,
		Text:          "text of " + id,
		TokenEstimate: tokens,
		FusedScore:    fused,
	}
}

func TestPackOrdersByScoreAndFillsBudget(t *testing.T) {
	candidates := []models.RetrievalCandidate{
		candidate("c", 0.5, 100),
		candidate("a", 0.9, 100),
		candidate("b", 0.7, 100),
	}

	bundle := Pack(candidates, 250)
	require.Len(t, bundle.Candidates, 2)
	assert.Equal(t, "a", bundle.Candidates[0].ChunkID)
	assert.Equal(t, "b", bundle.Candidates[1].ChunkID)
	assert.Equal(t, 200, bundle.TokenCount)
	assert.False(t, bundle.TruncatedSingle)
}

func TestPackDeterministicTieBreak(t *testing.T) {
	candidates := []models.RetrievalCandidate{
		candidate("zeta", 0.5, 10),
		candidate("alpha", 0.5, 10),
	}

	bundle := Pack(candidates, 100)
	require.Len(t, bundle.Candidates, 2)
	assert.Equal(t, "alpha", bundle.Candidates[0].ChunkID)
	assert.Equal(t, "zeta", bundle.Candidates[1].ChunkID)

	// Same input in another order yields the same output.
	again := Pack([]models.RetrievalCandidate{candidates[1], candidates[0]}, 100)
	assert.Equal(t, bundle.Candidates, again.Candidates)
}

func TestPackDedupesKeepingBestScore(t *testing.T) {
	low := candidate("dup", 0.3, 10)
	high := candidate("dup", 0.8, 10)

	bundle := Pack([]models.RetrievalCandidate{low, high, candidate("other", 0.5, 10)}, 100)
	require.Len(t, bundle.Candidates, 2)
	assert.Equal(t, "dup", bundle.Candidates[0].ChunkID)
	assert.Equal(t, 0.8, bundle.Candidates[0].FusedScore)
}

func TestPackTruncatedSingle(t *testing.T) {
	big := candidate("big", 0.9, 5000)
	big.Text = "word " + big.Text

	bundle := Pack([]models.RetrievalCandidate{big}, 50)
	require.Len(t, bundle.Candidates, 1)
	assert.True(t, bundle.TruncatedSingle)
	assert.LessOrEqual(t, bundle.TokenCount, 50)
}

func TestPackPrefersRerankScore(t *testing.T) {
	rerank := 0.95
	a := candidate("a", 0.2, 10)
	a.RerankScore = &rerank
	b := candidate("b", 0.8, 10)

	bundle := Pack([]models.RetrievalCandidate{a, b}, 100)
	require.Len(t, bundle.Candidates, 2)
	assert.Equal(t, "a", bundle.Candidates[0].ChunkID)
}

func TestPackKeepsRerankedAheadOfFusedTail(t *testing.T) {
	// A reranked candidate keeps its head position even when its rerank
	// score is numerically below an unreranked candidate's fused score.
	low := 0.2
	head := candidate("a", 0.9, 10)
	head.RerankScore = &low
	tail := candidate("b", 0.8, 10)

	bundle := Pack([]models.RetrievalCandidate{head, tail}, 100)
	require.Len(t, bundle.Candidates, 2)
	assert.Equal(t, "a", bundle.Candidates[0].ChunkID)
	assert.Equal(t, "b", bundle.Candidates[1].ChunkID)
}

func TestPackDedupePrefersRerankedInstance(t *testing.T) {
	reranked := 0.1
	a := candidate("dup", 0.9, 10)
	scored := candidate("dup", 0.9, 10)
	scored.RerankScore = &reranked

	bundle := Pack([]models.RetrievalCandidate{a, scored}, 100)
	require.Len(t, bundle.Candidates, 1)
	require.NotNil(t, bundle.Candidates[0].RerankScore)
	assert.Equal(t, 0.1, *bundle.Candidates[0].RerankScore)
}

func TestPackEmptyInput(t *testing.T) {
	bundle := Pack(nil, 100)
	assert.Empty(t, bundle.Candidates)
	assert.Equal(t, 0, bundle.TokenCount)
}
