package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Greater(t, EstimateTokens("hello world"), 0)

	// Long text scales with length.
	short := EstimateTokens("one two three")
	long := EstimateTokens(strings.Repeat("one two three ", 50))
	assert.Greater(t, long, short*10)
}

func TestTruncateToTokens(t *testing.T) {
	text := strings.Repeat("word ", 400)

	truncated := TruncateToTokens(text, 50)
	assert.LessOrEqual(t, EstimateTokens(truncated), 50)
	assert.NotEmpty(t, truncated)

	// Cuts at word boundaries only.
	for _, w := range strings.Fields(truncated) {
		assert.Equal(t, "word", w)
	}
}

func TestTruncateToTokensNoopWhenFits(t *testing.T) {
	text := "short text"
	assert.Equal(t, text, TruncateToTokens(text, 100))
	assert.Equal(t, text, TruncateToTokens(text, 0))
}
