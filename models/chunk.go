package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Chunk lifecycle status. Staged chunks belong to an in-flight ingestion run
// and are invisible to retrieval; the atomic swap promotes them to active
// after the previous active set has been removed.
const (
	ChunkStaged = "staged"
	ChunkActive = "active"
)

// Chunk is a retrieval unit assembled from one or more contiguous blocks.
// Chunks are immutable once created; re-chunking replaces the full set for a
// document.
type Chunk struct {
	ID            string    `bson:"chunk_id" json:"chunk_id"`
	DocumentID    string    `bson:"document_id" json:"document_id"`
	Order         int       `bson:"order" json:"order"`
	Text          string    `bson:"text" json:"text"`
	TokenEstimate int       `bson:"token_estimate" json:"token_estimate"`
	PageStart     int       `bson:"page_start" json:"page_start"`
	PageEnd       int       `bson:"page_end" json:"page_end"`
	BlockIDs      []string  `bson:"block_ids" json:"block_ids"`
	Type          BlockType `bson:"chunk_type" json:"chunk_type"`
	Template      string    `bson:"template" json:"template"`
	Oversized     bool      `bson:"oversized,omitempty" json:"oversized,omitempty"`
	LowConfidence bool      `bson:"low_confidence,omitempty" json:"low_confidence,omitempty"`
}

// ChunkIndex is the denormalized chunk record persisted for search. Keeping a
// separate collection enables efficient $search/$vectorSearch with metadata
// filters pushed down to the index.
type ChunkIndex struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ChunkID        string             `bson:"chunk_id" json:"chunk_id"`
	DocumentID     string             `bson:"document_id" json:"document_id"`
	Generation     string             `bson:"generation" json:"generation"`
	Status         string             `bson:"status" json:"status"`
	Order          int                `bson:"order" json:"order"`
	Text           string             `bson:"text" json:"text"`
	Compressed     []byte             `bson:"compressed,omitempty" json:"-"`
	Compression    string             `bson:"compression,omitempty" json:"-"`
	TokenEstimate  int                `bson:"token_estimate" json:"token_estimate"`
	PageStart      int                `bson:"page_start" json:"page_start"`
	PageEnd        int                `bson:"page_end" json:"page_end"`
	BlockIDs       []string           `bson:"block_ids" json:"block_ids"`
	ChunkType      BlockType          `bson:"chunk_type" json:"chunk_type"`
	Template       string             `bson:"template" json:"template"`
	Oversized      bool               `bson:"oversized,omitempty" json:"oversized,omitempty"`
	LowConfidence  bool               `bson:"low_confidence,omitempty" json:"low_confidence,omitempty"`
	Vector         []float32          `bson:"vector,omitempty" json:"-"`
	EmbeddingModel string             `bson:"embedding_model" json:"embedding_model"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
