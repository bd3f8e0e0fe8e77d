package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	DocumentsProcessed metric.Int64Counter
	PagesFailed        metric.Int64Counter
	ChunksIndexed      metric.Int64Counter
	IngestDuration     metric.Float64Histogram
	RetrievalDuration  metric.Float64Histogram
	RerankDegraded     metric.Int64Counter
	EmbeddingCalls     metric.Int64Counter
}

// InitMetrics initializes all pipeline metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("rag-document-pipeline")

	documentsProcessed, err := meter.Int64Counter(
		"ingest.documents.total",
		metric.WithDescription("Documents processed by the ingestion pipeline"),
	)
	if err != nil {
		return nil, err
	}

	pagesFailed, err := meter.Int64Counter(
		"ingest.pages.failed",
		metric.WithDescription("Pages skipped due to extraction or layout failure"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"ingest.chunks.indexed",
		metric.WithDescription("Chunks embedded and stored"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"ingest.duration",
		metric.WithDescription("Per-document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"retrieval.duration",
		metric.WithDescription("Query retrieval duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	rerankDegraded, err := meter.Int64Counter(
		"retrieval.rerank.degraded",
		metric.WithDescription("Queries that fell back to fused-score ordering"),
	)
	if err != nil {
		return nil, err
	}

	embeddingCalls, err := meter.Int64Counter(
		"embedding.calls.total",
		metric.WithDescription("Embedding gateway calls"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		DocumentsProcessed: documentsProcessed,
		PagesFailed:        pagesFailed,
		ChunksIndexed:      chunksIndexed,
		IngestDuration:     ingestDuration,
		RetrievalDuration:  retrievalDuration,
		RerankDegraded:     rerankDegraded,
		EmbeddingCalls:     embeddingCalls,
	}, nil
}

// RecordDocument records the outcome of one document pipeline run
func (m *Metrics) RecordDocument(format, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("document.format", format),
		attribute.String("document.status", status),
	}

	m.DocumentsProcessed.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordPageFailure records a skipped page
func (m *Metrics) RecordPageFailure(stage string) {
	m.PagesFailed.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("page.stage", stage),
	))
}

// RecordChunks records chunks stored for a document
func (m *Metrics) RecordChunks(count int, template string) {
	m.ChunksIndexed.Add(context.Background(), int64(count), metric.WithAttributes(
		attribute.String("chunk.template", template),
	))
}

// RecordRetrieval records query-path metrics
func (m *Metrics) RecordRetrieval(mode string, duration float64, degraded bool) {
	attrs := []attribute.KeyValue{
		attribute.String("retrieval.mode", mode),
	}

	m.RetrievalDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if degraded {
		m.RerankDegraded.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

// RecordEmbeddingCall records one embedding gateway call
func (m *Metrics) RecordEmbeddingCall(model string, success bool) {
	m.EmbeddingCalls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("embedding.model", model),
		attribute.Bool("embedding.success", success),
	))
}
