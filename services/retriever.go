package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/models"
)

// Embedder is the embedding surface the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// SearchBackend is the chunk search surface the retriever needs.
type SearchBackend interface {
	VectorSearch(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error)
	LexicalSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error)
}

// Retriever runs the candidate-gathering half of the query path: embed the
// query, search the vector and lexical channels concurrently, and fuse the
// results into one ranked candidate list.
type Retriever struct {
	config  *config.Config
	backend SearchBackend
	embed   Embedder
	cache   *EmbeddingCache
}

// NewRetriever creates a retriever. cache may be nil.
func NewRetriever(cfg *config.Config, backend SearchBackend, embed Embedder, cache *EmbeddingCache) *Retriever {
	return &Retriever{config: cfg, backend: backend, embed: embed, cache: cache}
}

// Retrieve gathers up to topK*oversample fused candidates for the query.
// In hybrid mode the two channels run concurrently; if exactly one channel
// fails, retrieval degrades to the surviving channel instead of failing.
// Both channels failing (or vector failing in vector-only mode) is an error.
func (r *Retriever) Retrieve(ctx context.Context, query models.Query, topK int) ([]models.RetrievalCandidate, bool, error) {
	tracer := otel.Tracer("retriever")
	ctx, span := tracer.Start(ctx, "retriever.retrieve")
	defer span.End()

	limit := topK * r.config.OversampleFactor
	if limit < topK {
		limit = topK
	}
	filter := SearchFilter{
		DocumentIDs:    query.DocumentIDs,
		After:          query.After,
		Before:         query.Before,
		EmbeddingModel: r.embed.ModelID(),
	}
	hybrid := r.config.RetrievalMode == string(models.RetrievalHybrid)

	span.SetAttributes(
		attribute.Bool("retrieval.hybrid", hybrid),
		attribute.Int("retrieval.limit", limit),
	)

	embeddingInput := r.embeddingInput(query)

	var vectorHits, lexicalHits []models.RetrievalCandidate
	var vectorErr, lexicalErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := r.embedQuery(gctx, embeddingInput)
		if err != nil {
			vectorErr = err
			return nil
		}
		vectorHits, vectorErr = r.backend.VectorSearch(gctx, vector, filter, limit)
		return nil
	})
	if hybrid {
		g.Go(func() error {
			lexicalHits, lexicalErr = r.backend.LexicalSearch(gctx, query.Text, filter, limit)
			return nil
		})
	}
	_ = g.Wait() // channel errors are collected, not propagated

	degraded := false
	switch {
	case vectorErr != nil && (!hybrid || lexicalErr != nil):
		if lexicalErr != nil {
			return nil, false, fmt.Errorf("both retrieval channels failed: vector: %v; lexical: %w", vectorErr, lexicalErr)
		}
		return nil, false, fmt.Errorf("vector retrieval failed: %w", vectorErr)
	case vectorErr != nil:
		slog.Warn("vector channel failed, serving lexical-only results", "error", vectorErr)
		degraded = true
	case hybrid && lexicalErr != nil:
		slog.Warn("lexical channel failed, serving vector-only results", "error", lexicalErr)
		degraded = true
	}

	fused := FuseCandidates(vectorHits, lexicalHits, r.config.VectorWeight, r.config.LexicalWeight)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	span.SetAttributes(attribute.Int("retrieval.candidates", len(fused)))
	return fused, degraded, nil
}

// embeddingInput builds the text embedded for the query: the query itself
// plus the most recent conversation turns, newest first, capped by the
// configured history window.
func (r *Retriever) embeddingInput(query models.Query) string {
	parts := []string{query.Text}

	turns := query.History
	maxTurns := r.config.HistoryMaxTurns
	for i := len(turns) - 1; i >= 0 && len(turns)-1-i < maxTurns; i-- {
		parts = append(parts, turns[i].Query)
		if turns[i].Answer != "" {
			parts = append(parts, turns[i].Answer)
		}
	}
	return strings.Join(parts, "\n")
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := r.cache.Get(ctx, r.embed.ModelID(), text); ok {
		return vector, nil
	}

	vector, err := r.embed.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	r.cache.Put(ctx, r.embed.ModelID(), text, vector)
	return vector, nil
}

// FuseCandidates merges the two channel result lists into one ranking by
// weighted sum of min-max normalized channel scores. A candidate absent from
// a channel contributes zero for that channel. Ordering is fused score
// descending, chunk id ascending on ties.
func FuseCandidates(vectorHits, lexicalHits []models.RetrievalCandidate, vectorWeight, lexicalWeight float64) []models.RetrievalCandidate {
	merged := make(map[string]*models.RetrievalCandidate, len(vectorHits)+len(lexicalHits))
	order := make([]string, 0, len(vectorHits)+len(lexicalHits))

	for i := range vectorHits {
		c := vectorHits[i]
		merged[c.ChunkID] = &c
		order = append(order, c.ChunkID)
	}
	for i := range lexicalHits {
		c := lexicalHits[i]
		if existing, ok := merged[c.ChunkID]; ok {
			existing.LexicalScore = c.LexicalScore
			existing.HasLexical = c.HasLexical
			continue
		}
		merged[c.ChunkID] = &c
		order = append(order, c.ChunkID)
	}

	normVector := minMaxNormalizer(merged, func(c *models.RetrievalCandidate) (float64, bool) {
		return c.VectorScore, c.HasVector
	})
	normLexical := minMaxNormalizer(merged, func(c *models.RetrievalCandidate) (float64, bool) {
		return c.LexicalScore, c.HasLexical
	})

	out := make([]models.RetrievalCandidate, 0, len(order))
	for _, id := range order {
		c := merged[id]
		fused := 0.0
		if c.HasVector {
			fused += vectorWeight * normVector(c.VectorScore)
		}
		if c.HasLexical {
			fused += lexicalWeight * normLexical(c.LexicalScore)
		}
		c.FusedScore = fused
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// minMaxNormalizer returns a scaling function mapping the channel's observed
// score range onto [0,1]. A channel whose scores are all equal (including a
// single hit) normalizes to 1 so the hit still counts at full weight.
func minMaxNormalizer(candidates map[string]*models.RetrievalCandidate, score func(*models.RetrievalCandidate) (float64, bool)) func(float64) float64 {
	first := true
	var min, max float64
	for _, c := range candidates {
		v, ok := score(c)
		if !ok {
			continue
		}
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	if first || max == min {
		return func(float64) float64 { return 1 }
	}
	span := max - min
	return func(v float64) float64 { return (v - min) / span }
}
