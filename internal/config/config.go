package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string

	// Redis (asynq broker + query-embedding cache)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Embeddings
	GeminiAPIKey    string
	GeminiTier      string
	EmbeddingsModel string
	VectorDim       int
	EmbedBatchSize  int
	EmbedMaxTokens  int

	// MongoDB Search / Vector Search
	AtlasTextSearchEnabled bool
	VectorSearchEnabled    bool
	SearchIndexName        string
	VectorIndexName        string

	// OCR sidecar
	OCRServiceURL          string
	OCRServiceEnabled      bool
	OCRTimeout             int // seconds
	OCRConfidenceThreshold float64

	// Reranker sidecar
	RerankServiceURL string
	RerankEnabled    bool
	RerankTimeout    int // seconds
	RerankCandidates int // N: fused candidates handed to the rerank model

	// Chunking
	MinChunkTokens    int
	MaxChunkTokens    int
	TemplateOverrides map[string]string // format -> template name

	// Retrieval
	RetrievalMode    string // "vector_only" or "hybrid"
	VectorWeight     float64
	LexicalWeight    float64
	OversampleFactor int
	HistoryMaxTurns  int
	TokenBudget      int

	// Workers
	WorkerConcurrency int
	PageConcurrency   int

	LogLevel string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/rag_pipeline"),
		DBName:   getEnv("DB_NAME", "rag_pipeline"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiTier:      getEnv("GEMINI_TIER", "free"),
		EmbeddingsModel: getEnv("EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDim:       getEnvInt("VECTOR_DIM", 768),
		EmbedBatchSize:  getEnvInt("EMBED_BATCH_SIZE", 16),
		EmbedMaxTokens:  getEnvInt("EMBED_MAX_TOKENS", 2048),

		AtlasTextSearchEnabled: getEnvBool("MONGODB_SEARCH_ENABLED", false),
		VectorSearchEnabled:    getEnvBool("MONGODB_VECTOR_ENABLED", false),
		SearchIndexName:        getEnv("MONGODB_SEARCH_INDEX", "chunks_text"),
		VectorIndexName:        getEnv("MONGODB_VECTOR_INDEX", "chunks_vector"),

		OCRServiceURL:          getEnv("OCR_SERVICE_URL", "http://localhost:8001"),
		OCRServiceEnabled:      getEnvBool("OCR_SERVICE_ENABLED", true),
		OCRTimeout:             getEnvInt("OCR_TIMEOUT", 300),
		OCRConfidenceThreshold: getEnvFloat64("OCR_CONFIDENCE_THRESHOLD", 0.7),

		RerankServiceURL: getEnv("RERANK_SERVICE_URL", "http://localhost:8002"),
		RerankEnabled:    getEnvBool("RERANK_ENABLED", true),
		RerankTimeout:    getEnvInt("RERANK_TIMEOUT", 10),
		RerankCandidates: getEnvInt("RERANK_CANDIDATES", 20),

		MinChunkTokens: getEnvInt("MIN_CHUNK_TOKENS", 120),
		MaxChunkTokens: getEnvInt("MAX_CHUNK_TOKENS", 512),

		RetrievalMode:    getEnv("RETRIEVAL_MODE", "hybrid"),
		VectorWeight:     getEnvFloat64("FUSION_VECTOR_WEIGHT", 0.7),
		LexicalWeight:    getEnvFloat64("FUSION_LEXICAL_WEIGHT", 0.3),
		OversampleFactor: getEnvInt("OVERSAMPLE_FACTOR", 4),
		HistoryMaxTurns:  getEnvInt("HISTORY_MAX_TURNS", 3),
		TokenBudget:      getEnvInt("TOKEN_BUDGET", 3000),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		PageConcurrency:   getEnvInt("PAGE_CONCURRENCY", 4),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// Per-format chunk template overrides, e.g. CHUNK_TEMPLATE_PDF=report
	cfg.TemplateOverrides = map[string]string{}
	for _, format := range []string{"pdf", "docx", "pptx", "spreadsheet", "html", "markdown", "image"} {
		if v := os.Getenv("CHUNK_TEMPLATE_" + strings.ToUpper(format)); v != "" {
			cfg.TemplateOverrides[format] = v
		}
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.MinChunkTokens <= 0 || cfg.MaxChunkTokens <= cfg.MinChunkTokens {
		return nil, fmt.Errorf("invalid chunk token bounds: min=%d max=%d", cfg.MinChunkTokens, cfg.MaxChunkTokens)
	}

	if cfg.RetrievalMode != "vector_only" && cfg.RetrievalMode != "hybrid" {
		return nil, fmt.Errorf("unknown retrieval mode: %s", cfg.RetrievalMode)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
