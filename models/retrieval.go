package models

import "time"

// RetrievalMode selects how candidates are gathered for a query.
type RetrievalMode string

const (
	RetrievalVectorOnly RetrievalMode = "vector_only"
	RetrievalHybrid     RetrievalMode = "hybrid"
)

// ConversationTurn is one prior (query, answer) pair of a conversation.
type ConversationTurn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// Query is a retrieval request with optional metadata filters and
// conversation history (oldest first; the retriever applies its own window).
type Query struct {
	Text        string             `json:"text"`
	DocumentIDs []string           `json:"document_ids,omitempty"`
	After       *time.Time         `json:"after,omitempty"`
	Before      *time.Time         `json:"before,omitempty"`
	History     []ConversationTurn `json:"history,omitempty"`
}

// RetrievalCandidate is a chunk reference flowing through the query path.
// Channel scores are raw store scores; FusedScore is the weighted sum of the
// normalized channel scores. RerankScore stays nil until the reranker ran.
type RetrievalCandidate struct {
	ChunkID       string    `json:"chunk_id"`
	DocumentID    string    `json:"document_id"`
	Text          string    `json:"text"`
	TokenEstimate int       `json:"token_estimate"`
	PageStart     int       `json:"page_start"`
	PageEnd       int       `json:"page_end"`
	BlockIDs      []string  `json:"block_ids,omitempty"`
	ChunkType     BlockType `json:"chunk_type,omitempty"`

	VectorScore  float64  `json:"vector_score"`
	HasVector    bool     `json:"has_vector"`
	LexicalScore float64  `json:"lexical_score"`
	HasLexical   bool     `json:"has_lexical"`
	FusedScore   float64  `json:"fused_score"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`
}

// FinalScore returns the score that decides final ordering: the rerank score
// when present, the fused score otherwise.
func (c RetrievalCandidate) FinalScore() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.FusedScore
}

// ContextBundle is the packed, deduplicated, budgeted candidate sequence
// handed to the generator. Ordering keeps reranked candidates ahead of
// unreranked ones, then score descending with chunk id as the stability
// tie-break.
type ContextBundle struct {
	Candidates      []RetrievalCandidate `json:"candidates"`
	TokenCount      int                  `json:"token_count"`
	TokenBudget     int                  `json:"token_budget"`
	TruncatedSingle bool                 `json:"truncated_single,omitempty"`
	Degraded        bool                 `json:"degraded,omitempty"`
}
