package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreQueryOrdersBySimilarityDescending(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "perceptual", "a", []float32{1, 0, 0}, nil))
	require.NoError(t, s.Upsert(ctx, "perceptual", "b", []float32{0.9, 0.1, 0}, nil))
	require.NoError(t, s.Upsert(ctx, "perceptual", "c", []float32{0, 1, 0}, nil))

	matches, err := s.Query(ctx, "perceptual", []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)
	assert.Equal(t, "c", matches[2].ID)
}

func TestInMemoryStoreQueryRespectsThreshold(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "perceptual", "orthogonal", []float32{0, 1, 0}, nil))

	matches, err := s.Query(ctx, "perceptual", []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestInMemoryStoreQueryIsolatesCollections(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "perceptual", "x", []float32{1, 0}, nil))
	require.NoError(t, s.Upsert(ctx, "short_term", "y", []float32{1, 0}, nil))

	matches, err := s.Query(ctx, "perceptual", []float32{1, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "x", matches[0].ID)
}

func TestCosineSimilarityBoundary(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)

	zero := []float32{0, 0}
	assert.Equal(t, 0.0, CosineSimilarity(a, zero))
}
