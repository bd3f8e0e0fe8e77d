package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/internal/telemetry"
	"rag-document-pipeline/models"
)

// RetrievalPipeline composes the full query path: retrieve, rerank, pack.
type RetrievalPipeline struct {
	config    *config.Config
	retriever *Retriever
	reranker  *Reranker
	metrics   *telemetry.Metrics
}

// NewRetrievalPipeline wires the query path. reranker and metrics may be nil.
func NewRetrievalPipeline(cfg *config.Config, retriever *Retriever, reranker *Reranker, metrics *telemetry.Metrics) *RetrievalPipeline {
	return &RetrievalPipeline{
		config:    cfg,
		retriever: retriever,
		reranker:  reranker,
		metrics:   metrics,
	}
}

// Query answers one retrieval request with a packed context bundle of at
// most topK chunks within the configured token budget. The bundle's Degraded
// flag reports any fallback taken along the way (a lost retrieval channel or
// an unavailable reranker); results are still served.
func (p *RetrievalPipeline) Query(ctx context.Context, query models.Query, topK int) (models.ContextBundle, error) {
	tracer := otel.Tracer("retrieval-pipeline")
	ctx, span := tracer.Start(ctx, "retrieval.query")
	defer span.End()
	start := time.Now()

	candidates, channelDegraded, err := p.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return models.ContextBundle{}, err
	}

	reranked, rerankDegraded := p.reranker.Rerank(ctx, query.Text, candidates)

	if len(reranked) > topK {
		reranked = reranked[:topK]
	}

	bundle := Pack(reranked, p.config.TokenBudget)
	bundle.Degraded = channelDegraded || rerankDegraded

	span.SetAttributes(
		attribute.Int("bundle.chunks", len(bundle.Candidates)),
		attribute.Int("bundle.tokens", bundle.TokenCount),
		attribute.Bool("bundle.degraded", bundle.Degraded),
	)
	if p.metrics != nil {
		p.metrics.RecordRetrieval(p.config.RetrievalMode, time.Since(start).Seconds(), bundle.Degraded)
	}
	return bundle, nil
}
