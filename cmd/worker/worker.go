package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"

	"rag-document-pipeline/internal/ai"
	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/internal/logger"
	"rag-document-pipeline/internal/queue"
	"rag-document-pipeline/internal/telemetry"
	"rag-document-pipeline/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("rag-document-pipeline-worker")
	if err != nil {
		slog.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database(cfg.DBName)

	redisClient, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	embedClient, err := ai.NewEmbeddingClient(
		cfg.GeminiAPIKey, cfg.EmbeddingsModel, cfg.GeminiTier, cfg.VectorDim, cfg.EmbedMaxTokens)
	if err != nil {
		log.Fatal("Failed to init embedding client:", err)
	}
	defer embedClient.Close()

	store := services.NewChunkStore(db, cfg)
	ocrClient := services.NewOCRClient(cfg)
	layout := services.NewLayoutAnalyzer(ocrClient, cfg.OCRConfidenceThreshold)
	extractor := services.NewExtractor()
	pipeline := services.NewIngestPipeline(cfg, db, extractor, layout, store, embedClient, metrics)

	maintenance := services.NewMaintenanceService(store)
	if err := maintenance.Start(); err != nil {
		log.Fatal("Failed to start maintenance scheduler:", err)
	}
	defer maintenance.Stop()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueIngest: 6,
				"default":         3,
				"low":             1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				slog.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(pipeline)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskDocumentIngest, processor.ProcessDocumentIngest)
	mux.HandleFunc(queue.TaskDocumentDelete, processor.ProcessDocumentDelete)

	slog.Info("Starting pipeline worker",
		"concurrency", cfg.WorkerConcurrency,
		"redis", cfg.RedisURL,
		"retrieval_mode", cfg.RetrievalMode)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
