package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"rag-document-pipeline/models"
	"rag-document-pipeline/services"
)

const (
	TaskDocumentIngest = "document:ingest"
	TaskDocumentDelete = "document:delete"

	// QueueIngest carries document processing; deletes ride the default
	// queue so a backlog of ingests cannot starve them.
	QueueIngest = "ingest"
)

type DocumentIngestPayload struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
	Filename   string `json:"filename"`
}

type DocumentDeletePayload struct {
	DocumentID string `json:"document_id"`
}

// NewDocumentIngestTask creates the ingestion task for an uploaded document.
func NewDocumentIngestTask(documentID, filePath, filename string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentIngestPayload{
		DocumentID: documentID,
		FilePath:   filePath,
		Filename:   filename,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskDocumentIngest,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueIngest),
	), nil
}

// NewDocumentDeleteTask creates the deletion task for a document.
func NewDocumentDeleteTask(documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentDeletePayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskDocumentDelete,
		payload,
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("default"),
	), nil
}

// TaskProcessor handles queued pipeline work.
type TaskProcessor struct {
	pipeline *services.IngestPipeline
}

func NewTaskProcessor(pipeline *services.IngestPipeline) *TaskProcessor {
	return &TaskProcessor{pipeline: pipeline}
}

// ProcessDocumentIngest runs the ingestion pipeline for one uploaded file.
// Unsupported formats and malformed payloads are not retried; transient
// failures (embedding outages, storage errors) are.
func (p *TaskProcessor) ProcessDocumentIngest(ctx context.Context, t *asynq.Task) error {
	var payload DocumentIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	slog.Info("processing document ingest task",
		"document_id", payload.DocumentID, "file", payload.Filename)

	data, err := os.ReadFile(payload.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read uploaded file: %w", err)
	}

	err = p.pipeline.IngestDocument(ctx, payload.DocumentID, payload.Filename, data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrUnsupportedFormat):
		slog.Warn("unsupported document format, not retrying",
			"document_id", payload.DocumentID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case errors.Is(err, context.Canceled):
		// Superseded by a newer ingest of the same document.
		slog.Info("ingest run superseded", "document_id", payload.DocumentID)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

// ProcessDocumentDelete removes a document and its chunks.
func (p *TaskProcessor) ProcessDocumentDelete(ctx context.Context, t *asynq.Task) error {
	var payload DocumentDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	err := p.pipeline.DeleteDocument(ctx, payload.DocumentID)
	if errors.Is(err, models.ErrDocumentNotFound) {
		// Already gone; deletion is idempotent.
		return nil
	}
	return err
}
