package embed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedEach_SizesZeroVectorsAfterAllItems(t *testing.T) {
	// Given: an embedder whose size is only known once an item succeeds
	var detected atomic.Int64
	one := func(_ context.Context, text string) ([]float32, error) {
		if text == "bad" {
			return nil, errors.New("rejected")
		}
		detected.Store(3)
		return []float32{1, 0, 0}, nil
	}
	pool, err := newFallbackPool(2)
	require.NoError(t, err)
	defer pool.Release()

	// When: embedding a mix of good, failing and blank texts
	vecs, err := embedEach(context.Background(), pool, []string{"bad", "good", "  "},
		func() int { return int(detected.Load()) }, one, slog.Default())

	// Then: every entry has the detected size
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0, 0, 0}, vecs[0])
	assert.Equal(t, []float32{1, 0, 0}, vecs[1])
	assert.Equal(t, []float32{0, 0, 0}, vecs[2])
}

func TestEmbedEach_WrongLengthBecomesZeroVector(t *testing.T) {
	one := func(_ context.Context, text string) ([]float32, error) {
		if text == "short" {
			return []float32{1}, nil
		}
		return []float32{0, 1}, nil
	}

	vecs, err := embedEach(context.Background(), nil, []string{"short", "ok"},
		func() int { return 2 }, one, slog.Default())

	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestEmbedEach_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	one := func(ctx context.Context, _ string) ([]float32, error) { return nil, ctx.Err() }

	_, err := embedEach(ctx, nil, []string{"a"}, func() int { return 2 }, one, slog.Default())

	assert.ErrorIs(t, err, context.Canceled)
}
