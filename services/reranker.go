package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/models"
)

// Reranker rescoring is strictly additive quality: the reranked head of the
// candidate list reorders by model relevance, and any failure or timeout
// falls back to the fused ordering with the degraded flag set. The query
// path never fails because the reranker did.
type Reranker struct {
	config     *config.Config
	httpClient *http.Client
	baseURL    string
}

// NewReranker creates a reranker client. Returns nil when reranking is
// disabled; a nil reranker passes candidates through unchanged.
func NewReranker(cfg *config.Config) *Reranker {
	if !cfg.RerankEnabled {
		return nil
	}

	baseURL := cfg.RerankServiceURL
	if baseURL == "" {
		baseURL = "http://localhost:8002"
	}

	return &Reranker{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RerankTimeout) * time.Second,
		},
		baseURL: baseURL,
	}
}

type rerankRequest struct {
	Query      string            `json:"query"`
	Candidates []rerankCandidate `json:"candidates"`
}

type rerankCandidate struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank rescores the top RerankCandidates entries of the fused list and
// reorders them by model score; the tail keeps its fused order. The second
// return reports degraded mode: the reranker was configured but could not
// serve, so ordering fell back to fused scores.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.RetrievalCandidate) ([]models.RetrievalCandidate, bool) {
	if r == nil || len(candidates) == 0 {
		return candidates, false
	}

	n := r.config.RerankCandidates
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	head := candidates[:n]

	scores, err := r.score(ctx, query, head)
	if err != nil {
		slog.Warn("rerank failed, falling back to fused ordering", "error", err)
		return candidates, true
	}
	if len(scores) != len(head) {
		slog.Warn("rerank returned wrong score count, falling back to fused ordering",
			"want", len(head), "got", len(scores))
		return candidates, true
	}

	reranked := make([]models.RetrievalCandidate, len(candidates))
	copy(reranked, candidates)
	for i := range head {
		score := scores[i]
		reranked[i].RerankScore = &score
	}

	sort.SliceStable(reranked[:n], func(i, j int) bool {
		if *reranked[i].RerankScore != *reranked[j].RerankScore {
			return *reranked[i].RerankScore > *reranked[j].RerankScore
		}
		return reranked[i].ChunkID < reranked[j].ChunkID
	})
	return reranked, false
}

func (r *Reranker) score(ctx context.Context, query string, candidates []models.RetrievalCandidate) ([]float64, error) {
	payload := rerankRequest{
		Query:      query,
		Candidates: make([]rerankCandidate, 0, len(candidates)),
	}
	for _, c := range candidates {
		payload.Candidates = append(payload.Candidates, rerankCandidate{
			ChunkID: c.ChunkID,
			Text:    c.Text,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRerankUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", models.ErrRerankUnavailable, resp.StatusCode)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return result.Scores, nil
}
