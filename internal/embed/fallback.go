package embed

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// embedOneFunc embeds a single, already prefixed text.
type embedOneFunc func(ctx context.Context, text string) ([]float32, error)

// newFallbackPool creates the worker pool used when a batch request fails
// and items are retried one by one.
func newFallbackPool(size int) (*ants.Pool, error) {
	if size < 1 {
		size = DefaultPoolSize
	}
	return ants.NewPool(size)
}

// embedEach embeds texts individually on pool. An item that fails, or
// returns a vector of the wrong length, is replaced by a zero vector. The
// expected length is read from dims once every item has finished, so a
// size detected from the first successful response applies to the batch.
// Only cancellation of ctx is reported as an error.
func embedEach(ctx context.Context, pool *ants.Pool, texts []string, dims func() int, one embedOneFunc, logger *slog.Logger) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var wg sync.WaitGroup

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}

		i, text := i, text
		task := func() {
			defer wg.Done()
			vec, err := one(ctx, text)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("embedding_item_failed",
						slog.Int("index", i),
						slog.String("error", err.Error()))
				}
				return
			}
			results[i] = vec
		}

		wg.Add(1)
		if pool == nil || pool.Submit(task) != nil {
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := dims()
	for i, vec := range results {
		if vec != nil && n > 0 && len(vec) != n {
			logger.Warn("embedding_item_dimension_mismatch",
				slog.Int("index", i),
				slog.Int("expected", n),
				slog.Int("actual", len(vec)))
			vec = nil
		}
		if vec == nil {
			vec = make([]float32, n)
		}
		results[i] = vec
	}
	return results, nil
}
