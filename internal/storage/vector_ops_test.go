package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSerializeVector(t *testing.T) {
	vector := []float32{0.5, -1.25, 3, float32(math.Pi)}

	blob := SerializeVector(vector)
	assert.Len(t, blob, len(vector)*4)
	assert.Equal(t, vector, DeserializeVector(blob))

	assert.Empty(t, DeserializeVector(nil))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "scaled", a: []float32{1, 0}, b: []float32{5, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
		{name: "dimension mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestTopVectorResults(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	results := topVectorResults([]VectorResult{
		{BookmarkID: 4, Similarity: 0.2, CreatedAt: newer},
		{BookmarkID: 3, Similarity: 0.9, CreatedAt: older},
		{BookmarkID: 2, Similarity: 0.9, CreatedAt: older},
		{BookmarkID: 1, Similarity: 0.9, CreatedAt: newer},
	}, 3)

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.BookmarkID
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestUnixNanoRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("x", 3600))
	back := fromUnixNano(toUnixNano(ts))
	assert.True(t, ts.Equal(back))
	assert.Equal(t, time.UTC, back.Location())
}
