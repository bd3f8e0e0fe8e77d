package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"rag-document-pipeline/models"
)

// EmbeddingClient wraps the Gemini embedding model with a circuit breaker and
// a rate limiter. It is the concrete Gateway implementation; components
// receive it as an explicitly constructed handle, never as ambient state.
type EmbeddingClient struct {
	client      *genai.Client
	model       string
	dimensions  int
	maxTokens   int
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func NewEmbeddingClient(apiKey, model, tier string, dimensions, maxTokens int) (*EmbeddingClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(tier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiEmbeddings",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), maxBurst(limits.RPM))

	return &EmbeddingClient{
		client:      client,
		model:       model,
		dimensions:  dimensions,
		maxTokens:   maxTokens,
		breaker:     breaker,
		rateLimiter: rateLimiter,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

func maxBurst(rpm int) int {
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return burst
}

// ModelID returns the embedding model identifier stored with every vector.
func (ec *EmbeddingClient) ModelID() string { return ec.model }

// Dimensions returns the fixed vector dimension of the model.
func (ec *EmbeddingClient) Dimensions() int { return ec.dimensions }

// Embed returns an embedding vector for the given text.
// Returns ErrInputTooLong without calling the provider when the input exceeds
// the model limit; the caller must pre-truncate.
func (ec *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	tracer := otel.Tracer("embedding-gateway")
	ctx, span := tracer.Start(ctx, "embeddings.embed")
	defer span.End()

	if estimateTokens(text) > ec.maxTokens {
		span.SetAttributes(attribute.Bool("embedding.input_too_long", true))
		return nil, models.ErrInputTooLong
	}

	span.SetAttributes(
		attribute.String("embedding.model", ec.model),
		attribute.Int("embedding.input_chars", len(text)),
	)

	if err := ec.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := ec.breaker.Execute(func() (interface{}, error) {
		model := ec.client.EmbeddingModel(ec.model)
		resp, err := model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return resp.Embedding.Values, nil
	})
	if err != nil {
		span.RecordError(err)
		// Breaker rejections and provider errors are both transient here;
		// permanent input errors were filtered above.
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}

	return result.([]float32), nil
}

// EmbedBatch embeds a batch of texts in one provider round trip.
func (ec *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("embedding-gateway")
	ctx, span := tracer.Start(ctx, "embeddings.embed_batch")
	defer span.End()

	span.SetAttributes(
		attribute.String("embedding.model", ec.model),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	for _, text := range texts {
		if estimateTokens(text) > ec.maxTokens {
			return nil, models.ErrInputTooLong
		}
	}

	if err := ec.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := ec.breaker.Execute(func() (interface{}, error) {
		model := ec.client.EmbeddingModel(ec.model)
		batch := model.NewBatch()
		for _, text := range texts {
			batch.AddContent(genai.Text(text))
		}
		resp, err := model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
		}
		vectors := make([][]float32, len(resp.Embeddings))
		for i, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding at index %d", i)
			}
			vectors[i] = emb.Values
		}
		return vectors, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}

	return result.([][]float32), nil
}

// Close releases the underlying client connection.
func (ec *EmbeddingClient) Close() error {
	return ec.client.Close()
}
