package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, q querier, userID int64, queryVector []float32, limit int) ([]VectorResult, error) {
	if len(queryVector) == 0 || limit <= 0 {
		return []VectorResult{}, nil
	}
	// Use SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, userID, queryVector, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, userID, queryVector, limit)
}

// searchVectorOptimized uses the sqlite-vec extension to rank in SQL
func searchVectorOptimized(ctx context.Context, q querier, userID int64, queryVector []float32, limit int) ([]VectorResult, error) {
	// vec_distance_cosine returns a distance (lower is better)
	query := `
		SELECT
			b.id,
			b.created_at,
			1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM embeddings e
		INNER JOIN bookmarks b ON b.id = e.bookmark_id
		WHERE b.user_id = ? AND e.dimension = ?
		ORDER BY similarity DESC, b.created_at DESC, b.id ASC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, serializeVector(queryVector), userID, len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var (
			result    VectorResult
			createdAt int64
		)
		if err := rows.Scan(&result.BookmarkID, &createdAt, &result.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		result.CreatedAt = fromUnixNano(createdAt)
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchVectorFallback loads the user's vectors and ranks them in Go
func searchVectorFallback(ctx context.Context, q querier, userID int64, queryVector []float32, limit int) ([]VectorResult, error) {
	query := `
		SELECT b.id, b.created_at, e.vector
		FROM embeddings e
		INNER JOIN bookmarks b ON b.id = e.bookmark_id
		WHERE b.user_id = ? AND e.dimension = ?
	`
	rows, err := q.QueryContext(ctx, query, userID, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]VectorResult, 0, 256)
	for rows.Next() {
		var (
			id         int64
			createdAt  int64
			vectorBlob []byte
		)
		if err := rows.Scan(&id, &createdAt, &vectorBlob); err != nil {
			return nil, err
		}
		candidates = append(candidates, VectorResult{
			BookmarkID: id,
			Similarity: cosineSimilarity(queryVector, deserializeVector(vectorBlob)),
			CreatedAt:  fromUnixNano(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topVectorResults(candidates, limit), nil
}

// topVectorResults sorts by similarity, then recency, then id, and keeps limit
func topVectorResults(candidates []VectorResult, limit int) []VectorResult {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.BookmarkID < b.BookmarkID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
