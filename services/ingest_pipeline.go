package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"rag-document-pipeline/internal/ai"
	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/internal/telemetry"
	"rag-document-pipeline/models"
	"rag-document-pipeline/utils"
)

// IngestPipeline drives a document from raw bytes to an active chunk set:
// extract, layout, chunk, embed, stage, swap. Failures roll the staged
// generation back and mark the document failed; the previously active chunk
// set keeps serving retrieval throughout.
type IngestPipeline struct {
	config    *config.Config
	extractor *Extractor
	layout    *LayoutAnalyzer
	store     *ChunkStore
	docs      *mongo.Collection
	embed     ai.Gateway
	metrics   *telemetry.Metrics

	mu       sync.Mutex
	inflight map[string]*inflightRun
}

// inflightRun identifies one live ingestion run so a superseded run's
// cleanup cannot cancel its successor.
type inflightRun struct {
	cancel context.CancelFunc
}

// NewIngestPipeline wires the ingestion path. metrics may be nil.
func NewIngestPipeline(cfg *config.Config, db *mongo.Database, extractor *Extractor, layout *LayoutAnalyzer, store *ChunkStore, embed ai.Gateway, metrics *telemetry.Metrics) *IngestPipeline {
	return &IngestPipeline{
		config:    cfg,
		extractor: extractor,
		layout:    layout,
		store:     store,
		docs:      db.Collection(config.DocumentsCollection),
		embed:     embed,
		metrics:   metrics,
		inflight:  make(map[string]*inflightRun),
	}
}

// IngestDocument processes one document end to end. A re-ingest of a
// document whose run is still in flight cancels and supersedes that run.
func (p *IngestPipeline) IngestDocument(ctx context.Context, docID, filename string, data []byte) error {
	ctx, run := p.register(ctx, docID)
	defer p.unregister(docID, run)

	tracer := otel.Tracer("ingest-pipeline")
	ctx, span := tracer.Start(ctx, "ingest.document")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", docID))
	start := time.Now()

	doc, skip, err := p.prepareDocument(ctx, docID, filename, data)
	if err != nil {
		p.recordOutcome(doc, models.StatusFailed, start)
		return err
	}
	if skip {
		slog.Info("document content unchanged, skipping re-ingest",
			"document_id", docID, "content_hash", doc.ContentHash)
		return nil
	}

	if err := p.run(ctx, doc, data); err != nil {
		status := models.StatusFailed
		if errors.Is(err, context.Canceled) {
			// Superseded by a newer run; leave the failure marker off.
			status = models.StatusPending
		}
		p.failDocument(doc, status, err)
		p.recordOutcome(doc, status, start)
		return err
	}

	p.recordOutcome(doc, models.StatusChunked, start)
	return nil
}

// prepareDocument upserts the document record and decides whether the
// content hash allows skipping the run entirely.
func (p *IngestPipeline) prepareDocument(ctx context.Context, docID, filename string, data []byte) (*models.Document, bool, error) {
	hash := utils.ContentHash(data)

	var existing models.Document
	err := p.docs.FindOne(ctx, bson.M{"_id": docID}).Decode(&existing)
	if err == nil && existing.ContentHash == hash && existing.Status == models.StatusChunked {
		return &existing, true, nil
	}
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return &models.Document{ID: docID}, false, fmt.Errorf("failed to load document record: %w", err)
	}

	format, err := DetectFormat(data, filename)
	if err != nil {
		return &models.Document{ID: docID}, false, err
	}

	doc := &models.Document{
		ID:          docID,
		Format:      format,
		ByteLength:  int64(len(data)),
		Status:      models.StatusParsing,
		ContentHash: hash,
		UploadedAt:  time.Now(),
	}
	if !existing.UploadedAt.IsZero() {
		doc.UploadedAt = existing.UploadedAt
	}

	_, err = p.docs.UpdateOne(ctx,
		bson.M{"_id": docID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		return doc, false, fmt.Errorf("failed to persist document record: %w", err)
	}
	return doc, false, nil
}

// run executes extract through swap for a prepared document.
func (p *IngestPipeline) run(ctx context.Context, doc *models.Document, data []byte) error {
	pages, err := p.extractor.Extract(ctx, doc, data)
	if err != nil {
		return err
	}
	doc.PageCount = len(pages)

	template := TemplateForFormat(doc.Format, p.config)
	doc.Template = template.Name

	blocks, err := p.analyzePages(ctx, doc, pages, template)
	if err != nil {
		return err
	}

	chunks := NewChunker(template).ChunkBlocks(doc.ID, blocks)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no retrievable content", models.ErrExtraction)
	}

	generation := uuid.NewString()
	doc.Generation = generation

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	if err := p.store.UpsertStaged(ctx, generation, chunks, vectors, p.embed.ModelID()); err != nil {
		p.rollback(doc.ID, generation)
		return err
	}

	if err := p.store.PromoteGeneration(ctx, doc.ID, generation); err != nil {
		p.rollback(doc.ID, generation)
		return err
	}

	now := time.Now()
	doc.Status = models.StatusChunked
	doc.ProcessedAt = &now
	doc.ErrorMessage = ""
	_, err = p.docs.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": doc})
	if err != nil {
		return fmt.Errorf("failed to finalize document record: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordChunks(len(chunks), template.Name)
	}
	slog.Info("document ingested",
		"document_id", doc.ID,
		"format", doc.Format,
		"pages", doc.PageCount,
		"failed_pages", len(doc.FailedPages),
		"chunks", len(chunks),
		"generation", generation)
	return nil
}

// analyzePages runs layout analysis over pages concurrently and merges the
// per-page block sequences back in page order. A page whose analysis fails
// is recorded and skipped.
func (p *IngestPipeline) analyzePages(ctx context.Context, doc *models.Document, pages []models.Page, template ChunkTemplate) ([]models.Block, error) {
	perPage := make([][]models.Block, len(pages))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.PageConcurrency)

	for i := range pages {
		i := i
		g.Go(func() error {
			page := &pages[i]
			if len(page.Blocks) > 0 {
				perPage[i] = page.Blocks
				return nil
			}

			blocks, err := p.layout.AnalyzePage(gctx, page, template.SingleColumn)
			if err != nil {
				mu.Lock()
				doc.FailedPages = append(doc.FailedPages, models.PageFailure{
					PageIndex: page.Index,
					Stage:     "layout",
					Reason:    err.Error(),
				})
				mu.Unlock()
				if p.metrics != nil {
					p.metrics.RecordPageFailure("layout")
				}
				slog.Warn("skipping page after layout failure",
					"document_id", doc.ID, "page_index", page.Index, "error", err)
				return nil
			}
			perPage[i] = blocks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// perPage is indexed by slice position, which extractors emit in page
	// order, so concatenation preserves document reading order.
	var blocks []models.Block
	for i := range perPage {
		blocks = append(blocks, perPage[i]...)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: every page failed layout analysis", models.ErrExtraction)
	}
	return blocks, nil
}

// embedChunks embeds chunk texts in configured batches, pre-truncating any
// chunk above the embedding input limit.
func (p *IngestPipeline) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	batchSize := p.config.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, TruncateToTokens(chunk.Text, p.config.EmbedMaxTokens))
		}

		batch, err := ai.EmbedBatchWithRetry(ctx, p.embed, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk batch %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// DeleteDocument removes a document and all of its chunks. An in-flight
// ingestion run for the document is cancelled first.
func (p *IngestPipeline) DeleteDocument(ctx context.Context, docID string) error {
	p.cancelInflight(docID)

	if err := p.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	res, err := p.docs.DeleteOne(ctx, bson.M{"_id": docID})
	if err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrDocumentNotFound
	}

	slog.Info("document deleted", "document_id", docID)
	return nil
}

// rollback removes a staged generation after a mid-run failure. Uses a fresh
// context: the run context may already be cancelled.
func (p *IngestPipeline) rollback(docID, generation string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.store.DeleteGeneration(ctx, docID, generation); err != nil {
		slog.Error("failed to roll back staged generation; maintenance will purge it",
			"document_id", docID, "generation", generation, "error", err)
	}
}

// failDocument persists the failure outcome, rolling back any staged chunks.
func (p *IngestPipeline) failDocument(doc *models.Document, status string, cause error) {
	if doc.Generation != "" {
		p.rollback(doc.ID, doc.Generation)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	update := bson.M{
		"status":       status,
		"failed_pages": doc.FailedPages,
	}
	if status == models.StatusFailed {
		update["error_message"] = cause.Error()
	}
	if _, err := p.docs.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": update}); err != nil {
		slog.Error("failed to persist document failure",
			"document_id", doc.ID, "error", err)
	}
}

func (p *IngestPipeline) recordOutcome(doc *models.Document, status string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordDocument(string(doc.Format), status, time.Since(start).Seconds())
}

// register installs this run as the document's in-flight run, cancelling and
// replacing any previous one.
func (p *IngestPipeline) register(ctx context.Context, docID string) (context.Context, *inflightRun) {
	ctx, cancel := context.WithCancel(ctx)
	run := &inflightRun{cancel: cancel}

	p.mu.Lock()
	if prev, ok := p.inflight[docID]; ok {
		prev.cancel()
	}
	p.inflight[docID] = run
	p.mu.Unlock()
	return ctx, run
}

// unregister releases a run's slot unless a newer run has already taken it.
func (p *IngestPipeline) unregister(docID string, run *inflightRun) {
	p.mu.Lock()
	if current, ok := p.inflight[docID]; ok && current == run {
		delete(p.inflight, docID)
	}
	p.mu.Unlock()
	run.cancel()
}

func (p *IngestPipeline) cancelInflight(docID string) {
	p.mu.Lock()
	if run, ok := p.inflight[docID]; ok {
		run.cancel()
		delete(p.inflight, docID)
	}
	p.mu.Unlock()
}
