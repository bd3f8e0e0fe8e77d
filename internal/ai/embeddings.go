package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"rag-document-pipeline/models"
)

// Gateway is the embedding capability consumed by the pipeline:
// text in, fixed-dimension vector out, tagged with a model identifier.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Dimensions() int
}

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// EmbedWithRetry calls gw.Embed with bounded exponential backoff on transient
// failures. ErrInputTooLong is never retried: the caller must pre-truncate.
func EmbedWithRetry(ctx context.Context, gw Gateway, text string) ([]float32, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		vec, err := gw.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if errors.Is(err, models.ErrInputTooLong) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, lastErr
}

// EmbedBatchWithRetry is the batch variant of EmbedWithRetry.
func EmbedBatchWithRetry(ctx context.Context, gw Gateway, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt < maxRetries; attempt++ {
		vecs, err := gw.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if errors.Is(err, models.ErrInputTooLong) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, lastErr
}

// estimateTokens mirrors the ~4 chars/token heuristic used across the
// pipeline; kept local so the gateway has no dependency on the services
// package.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	byChars := len(text) / 4
	byWords := words * 4 / 3
	if byChars > byWords {
		return byChars
	}
	return byWords
}
