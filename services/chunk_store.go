package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rag-document-pipeline/internal/config"
	"rag-document-pipeline/models"
	"rag-document-pipeline/utils"
)

// ChunkStore persists and searches the denormalized chunk index. Writes use
// the staged/active generation protocol: a new ingestion run upserts its
// chunks as staged under a fresh generation id, then either promotes them
// (swap) or deletes them (rollback). Retrieval only ever sees active chunks.
type ChunkStore struct {
	config *config.Config
	chunks *mongo.Collection
	docs   *mongo.Collection
}

// NewChunkStore creates a chunk store over the given database.
func NewChunkStore(db *mongo.Database, cfg *config.Config) *ChunkStore {
	return &ChunkStore{
		config: cfg,
		chunks: db.Collection(config.ChunksCollection),
		docs:   db.Collection(config.DocumentsCollection),
	}
}

// SearchFilter narrows retrieval to a document subset and upload time range.
// EmbeddingModel pins results to vectors produced by the retriever's model so
// scores from different embedding spaces never mix.
type SearchFilter struct {
	DocumentIDs    []string
	After          *time.Time
	Before         *time.Time
	EmbeddingModel string
}

func (f SearchFilter) activeFilter() bson.M {
	filter := bson.M{"status": models.ChunkActive}
	if f.EmbeddingModel != "" {
		filter["embedding_model"] = f.EmbeddingModel
	}
	if len(f.DocumentIDs) > 0 {
		filter["document_id"] = bson.M{"$in": f.DocumentIDs}
	}
	if f.After != nil || f.Before != nil {
		created := bson.M{}
		if f.After != nil {
			created["$gte"] = *f.After
		}
		if f.Before != nil {
			created["$lte"] = *f.Before
		}
		filter["created_at"] = created
	}
	return filter
}

// UpsertStaged writes one ingestion run's chunks as staged records under the
// given generation. Upserts are keyed by chunk_id so a retried run converges
// on the same record set instead of duplicating it.
func (s *ChunkStore) UpsertStaged(ctx context.Context, generation string, chunks []models.Chunk, vectors [][]float32, modelID string) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := stagedWriteModels(s.config, generation, chunks, vectors, modelID, time.Now())
	_, err := s.chunks.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to stage chunks: %w", err)
	}
	return nil
}

// stagedWriteModels builds the upsert batch for one staged generation. Each
// model filters on {chunk_id, generation} and $sets the full record, so
// replaying the batch converges on the same record set instead of
// duplicating it. Chunk text is compressed at rest only when Atlas text
// search is off: the $search index reads the text field directly and needs
// it populated.
func stagedWriteModels(cfg *config.Config, generation string, chunks []models.Chunk, vectors [][]float32, modelID string, now time.Time) []mongo.WriteModel {
	batch := make([]mongo.WriteModel, 0, len(chunks))
	for i, chunk := range chunks {
		record := models.ChunkIndex{
			ChunkID:        chunk.ID,
			DocumentID:     chunk.DocumentID,
			Generation:     generation,
			Status:         models.ChunkStaged,
			Order:          chunk.Order,
			Text:           chunk.Text,
			TokenEstimate:  chunk.TokenEstimate,
			PageStart:      chunk.PageStart,
			PageEnd:        chunk.PageEnd,
			BlockIDs:       chunk.BlockIDs,
			ChunkType:      chunk.Type,
			Template:       chunk.Template,
			Oversized:      chunk.Oversized,
			LowConfidence:  chunk.LowConfidence,
			Vector:         vectors[i],
			EmbeddingModel: modelID,
			CreatedAt:      now,
		}

		if !cfg.AtlasTextSearchEnabled {
			if compressed, algorithm, err := utils.CompressText(chunk.Text); err == nil &&
				algorithm != utils.CompressionNone {
				record.Text = ""
				record.Compressed = compressed
				record.Compression = string(algorithm)
			}
		}

		batch = append(batch, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"chunk_id": chunk.ID, "generation": generation}).
			SetUpdate(bson.M{"$set": record}).
			SetUpsert(true))
	}
	return batch
}

// PromoteGeneration swaps the staged generation in as the document's active
// chunk set: the previous active set is removed first, then the staged
// records flip to active. Retrieval sees either the old set or the new one.
func (s *ChunkStore) PromoteGeneration(ctx context.Context, documentID, generation string) error {
	_, err := s.chunks.DeleteMany(ctx, bson.M{
		"document_id": documentID,
		"status":      models.ChunkActive,
		"generation":  bson.M{"$ne": generation},
	})
	if err != nil {
		return fmt.Errorf("failed to remove previous active chunks: %w", err)
	}

	_, err = s.chunks.UpdateMany(ctx,
		bson.M{"document_id": documentID, "generation": generation},
		bson.M{"$set": bson.M{"status": models.ChunkActive}})
	if err != nil {
		return fmt.Errorf("failed to promote staged chunks: %w", err)
	}
	return nil
}

// DeleteGeneration rolls back one staged ingestion run.
func (s *ChunkStore) DeleteGeneration(ctx context.Context, documentID, generation string) error {
	_, err := s.chunks.DeleteMany(ctx, bson.M{
		"document_id": documentID,
		"generation":  generation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	return nil
}

// DeleteDocument removes every chunk of a document, active and staged.
func (s *ChunkStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return nil
}

// PurgeStaleStaged removes staged chunks older than maxAge. These are
// leftovers from ingestion runs that crashed between staging and swap.
func (s *ChunkStore) PurgeStaleStaged(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.chunks.DeleteMany(ctx, bson.M{
		"status":     models.ChunkStaged,
		"created_at": bson.M{"$lt": time.Now().Add(-maxAge)},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale staged chunks: %w", err)
	}
	return res.DeletedCount, nil
}

// VectorSearch returns the chunks nearest to the query vector, scored in
// [0,1]. Uses Atlas $vectorSearch when enabled, otherwise an in-process
// cosine scan over the filtered active set.
func (s *ChunkStore) VectorSearch(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error) {
	if s.config.VectorSearchEnabled {
		return s.vectorSearchAtlas(ctx, vector, filter, limit)
	}
	return s.vectorSearchLocal(ctx, vector, filter, limit)
}

func (s *ChunkStore) vectorSearchAtlas(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$vectorSearch", Value: bson.M{
			"index":         s.config.VectorIndexName,
			"path":          "vector",
			"queryVector":   vector,
			"numCandidates": limit * 10,
			"limit":         limit,
			"filter":        filter.activeFilter(),
		}}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"search_score": bson.M{"$meta": "vectorSearchScore"},
		}}},
	}

	return s.runSearchPipeline(ctx, pipeline, func(c *models.RetrievalCandidate, score float64) {
		c.VectorScore = score
		c.HasVector = true
	})
}

func (s *ChunkStore) vectorSearchLocal(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error) {
	cursor, err := s.chunks.Find(ctx, filter.activeFilter())
	if err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}
	defer cursor.Close(ctx)

	var candidates []models.RetrievalCandidate
	for cursor.Next(ctx) {
		var record models.ChunkIndex
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode chunk: %w", err)
		}
		if len(record.Vector) == 0 {
			continue
		}

		candidate := s.toCandidate(&record)
		candidate.VectorScore = CosineSimilarity(vector, record.Vector)
		candidate.HasVector = true
		candidates = append(candidates, candidate)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].VectorScore != candidates[j].VectorScore {
			return candidates[i].VectorScore > candidates[j].VectorScore
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// LexicalSearch returns chunks matching the query terms. Uses Atlas $search
// when enabled, otherwise an in-process term-overlap scan.
func (s *ChunkStore) LexicalSearch(ctx context.Context, query string, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error) {
	if s.config.AtlasTextSearchEnabled {
		return s.lexicalSearchAtlas(ctx, query, filter, limit)
	}
	return s.lexicalSearchLocal(ctx, query, filter, limit)
}

func (s *ChunkStore) lexicalSearchAtlas(ctx context.Context, query string, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$search", Value: bson.M{
			"index": s.config.SearchIndexName,
			"text": bson.M{
				"query": query,
				"path":  "text",
			},
		}}},
		bson.D{{Key: "$match", Value: filter.activeFilter()}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"search_score": bson.M{"$meta": "searchScore"},
		}}},
		bson.D{{Key: "$limit", Value: limit}},
	}

	return s.runSearchPipeline(ctx, pipeline, func(c *models.RetrievalCandidate, score float64) {
		c.LexicalScore = score
		c.HasLexical = true
	})
}

func (s *ChunkStore) lexicalSearchLocal(ctx context.Context, query string, filter SearchFilter, limit int) ([]models.RetrievalCandidate, error) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	cursor, err := s.chunks.Find(ctx, filter.activeFilter())
	if err != nil {
		return nil, fmt.Errorf("lexical scan failed: %w", err)
	}
	defer cursor.Close(ctx)

	var candidates []models.RetrievalCandidate
	for cursor.Next(ctx) {
		var record models.ChunkIndex
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode chunk: %w", err)
		}

		candidate := s.toCandidate(&record)
		score := LexicalOverlapScore(terms, candidate.Text)
		if score <= 0 {
			continue
		}
		candidate.LexicalScore = score
		candidate.HasLexical = true
		candidates = append(candidates, candidate)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("lexical scan failed: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LexicalScore != candidates[j].LexicalScore {
			return candidates[i].LexicalScore > candidates[j].LexicalScore
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// scoredRecord pairs a chunk record with the score projected by an Atlas
// search stage.
type scoredRecord struct {
	models.ChunkIndex `bson:",inline"`
	SearchScore       float64 `bson:"search_score"`
}

func (s *ChunkStore) runSearchPipeline(ctx context.Context, pipeline mongo.Pipeline, assign func(*models.RetrievalCandidate, float64)) ([]models.RetrievalCandidate, error) {
	cursor, err := s.chunks.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("search aggregation failed: %w", err)
	}
	defer cursor.Close(ctx)

	var candidates []models.RetrievalCandidate
	for cursor.Next(ctx) {
		var record scoredRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode search result: %w", err)
		}
		candidate := s.toCandidate(&record.ChunkIndex)
		assign(&candidate, record.SearchScore)
		candidates = append(candidates, candidate)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("search aggregation failed: %w", err)
	}
	return candidates, nil
}

// toCandidate converts a stored record into a retrieval candidate,
// decompressing chunk text when needed.
func (s *ChunkStore) toCandidate(record *models.ChunkIndex) models.RetrievalCandidate {
	text := record.Text
	if len(record.Compressed) > 0 {
		decompressed, err := utils.DecompressText(record.Compressed, utils.CompressionAlgorithm(record.Compression))
		if err != nil {
			slog.Warn("failed to decompress chunk text",
				"chunk_id", record.ChunkID, "error", err)
		} else {
			text = decompressed
		}
	}

	return models.RetrievalCandidate{
		ChunkID:       record.ChunkID,
		DocumentID:    record.DocumentID,
		Text:          text,
		TokenEstimate: record.TokenEstimate,
		PageStart:     record.PageStart,
		PageEnd:       record.PageEnd,
		BlockIDs:      record.BlockIDs,
		ChunkType:     record.ChunkType,
	}
}

// CosineSimilarity maps vector similarity into [0,1], matching the score
// range Atlas $vectorSearch reports for cosine indexes.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopwords excluded from lexical scoring.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {},
	"were": {}, "will": {}, "with": {},
}

// Tokenize lowercases and splits text into scoring terms, dropping stopwords.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	terms := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, skip := stopwords[m]; skip {
			continue
		}
		terms = append(terms, m)
	}
	return terms
}

// LexicalOverlapScore scores a chunk by query term frequency, dampened by
// chunk length so long chunks do not dominate on raw term count.
func LexicalOverlapScore(queryTerms []string, text string) float64 {
	chunkTerms := Tokenize(text)
	if len(chunkTerms) == 0 {
		return 0
	}

	freq := make(map[string]int, len(chunkTerms))
	for _, t := range chunkTerms {
		freq[t]++
	}

	matched := 0.0
	for _, q := range queryTerms {
		if n := freq[q]; n > 0 {
			matched += 1 + math.Log(float64(n))
		}
	}
	if matched == 0 {
		return 0
	}
	return matched / math.Sqrt(float64(len(chunkTerms)))
}
