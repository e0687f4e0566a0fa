package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/cache"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/mock"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  hello \n\t world "))
	assert.Equal(t, "", Normalize(" \n "))
	assert.Equal(t, CacheKey("m", Normalize("a  b")), CacheKey("m", Normalize(" a b ")))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, 8)
	assert.ErrorIs(t, err, ErrBackendRequired)

	_, err = NewClient(mock.NewEmbeddingBackend(8), 0)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestClient_Embed(t *testing.T) {
	ctx := context.Background()

	t.Run("returns configured dimension", func(t *testing.T) {
		c, err := NewClient(mock.NewEmbeddingBackend(8), 8)
		require.NoError(t, err)
		v, err := c.Embed(ctx, "refund policy")
		require.NoError(t, err)
		assert.Len(t, v, 8)
		assert.Equal(t, 8, c.Dimension())
		assert.Equal(t, "mock-embedding", c.ModelName())
	})

	t.Run("dimension mismatch is a configuration error and not retried", func(t *testing.T) {
		backend := mock.NewEmbeddingBackend(4)
		c, err := NewClient(backend, 8, WithRetryPolicy(fastRetry()))
		require.NoError(t, err)

		_, err = c.Embed(ctx, "refund policy")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrConfiguration))
		assert.Equal(t, 1, backend.CallCount())
	})

	t.Run("retries transient failures", func(t *testing.T) {
		backend := mock.NewEmbeddingBackend(4)
		calls := 0
		backend.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			calls++
			if calls < 3 {
				return nil, domain.NewStatusError("embedding", "embed", 503, "busy")
			}
			return [][]float32{mock.DeterministicVector(texts[0], 4)}, nil
		}
		c, err := NewClient(backend, 4, WithRetryPolicy(fastRetry()))
		require.NoError(t, err)

		_, err = c.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, 3, backend.CallCount())
	})

	t.Run("permanent failures fail immediately", func(t *testing.T) {
		backend := mock.NewEmbeddingBackend(4)
		backend.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, domain.NewStatusError("embedding", "embed", 401, "bad key")
		}
		c, err := NewClient(backend, 4, WithRetryPolicy(fastRetry()))
		require.NoError(t, err)

		_, err = c.Embed(ctx, "hello")
		assert.True(t, errors.Is(err, domain.ErrPermanentBackend))
		assert.Equal(t, 1, backend.CallCount())
	})

	t.Run("serves repeats from cache", func(t *testing.T) {
		backend := mock.NewEmbeddingBackend(4)
		c, err := NewClient(backend, 4, WithCache(cache.NewEmbeddingCache(10, time.Minute)))
		require.NoError(t, err)

		first, err := c.Embed(ctx, "hello  world")
		require.NoError(t, err)
		second, err := c.Embed(ctx, " hello world\n")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, backend.CallCount())
	})

	t.Run("returned vectors do not alias the cache", func(t *testing.T) {
		backend := mock.NewEmbeddingBackend(4)
		c, err := NewClient(backend, 4, WithCache(cache.NewEmbeddingCache(10, time.Minute)))
		require.NoError(t, err)

		want := mock.DeterministicVector("refund window", 4)
		first, err := c.Embed(ctx, "refund window")
		require.NoError(t, err)
		first[0] = 99

		second, err := c.Embed(ctx, "refund window")
		require.NoError(t, err)
		assert.Equal(t, want, second)
		second[1] = 99

		batch, err := c.EmbedBatch(ctx, []string{"refund window", "refund window"})
		require.NoError(t, err)
		assert.Equal(t, want, batch[0])
		batch[0][2] = 99
		assert.Equal(t, want, batch[1])
		assert.Equal(t, 1, backend.CallCount())
	})

	t.Run("empty text", func(t *testing.T) {
		c, err := NewClient(mock.NewEmbeddingBackend(4), 4)
		require.NoError(t, err)
		_, err = c.Embed(ctx, "   ")
		assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	})
}

func TestClient_DeduplicatesInFlight(t *testing.T) {
	backend := mock.NewEmbeddingBackend(4)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	backend.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		started <- struct{}{}
		<-release
		return [][]float32{mock.DeterministicVector(texts[0], 4)}, nil
	}
	c, err := NewClient(backend, 4)
	require.NoError(t, err)

	const waiters = 8
	var wg sync.WaitGroup
	results := make([][]float32, waiters)
	errs := make([]error, waiters)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.Embed(context.Background(), "same text")
	}()
	<-started

	for i := 1; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Embed(context.Background(), "same   text")
		}(i)
	}

	// let the other waiters join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, backend.CallCount())
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestClient_CancelledWaiterDoesNotCancelSharedCall(t *testing.T) {
	backend := mock.NewEmbeddingBackend(4)
	release := make(chan struct{})
	var backendCtxErr error
	var mu sync.Mutex
	backend.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-release
		mu.Lock()
		backendCtxErr = ctx.Err()
		mu.Unlock()
		return [][]float32{mock.DeterministicVector(texts[0], 4)}, nil
	}
	c, err := NewClient(backend, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Embed(ctx, "shared")
		done <- err
	}()

	second := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := c.Embed(context.Background(), "shared")
		second <- err
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.NoError(t, <-second)

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, backendCtxErr)
	assert.Equal(t, 1, backend.CallCount())
}

func TestClient_EmbedBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves order and deduplicates", func(t *testing.T) {
		backend := mock.NewEmbeddingBackend(8)
		c, err := NewClient(backend, 8, WithBatchSize(2))
		require.NoError(t, err)

		texts := []string{"alpha", "beta", "alpha", "gamma", " beta "}
		vecs, err := c.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		require.Len(t, vecs, len(texts))

		for i, text := range texts {
			assert.Equal(t, mock.DeterministicVector(Normalize(text), 8), vecs[i], "position %d", i)
		}
		// three distinct texts in batches of two
		assert.Equal(t, 2, backend.CallCount())
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, backend.Texts())
	})

	t.Run("only misses reach the backend", func(t *testing.T) {
		backend := mock.NewEmbeddingBackend(8)
		c, err := NewClient(backend, 8, WithCache(cache.NewEmbeddingCache(10, time.Minute)))
		require.NoError(t, err)

		_, err = c.Embed(ctx, "alpha")
		require.NoError(t, err)
		backend.Reset()

		vecs, err := c.EmbedBatch(ctx, []string{"alpha", "delta"})
		require.NoError(t, err)
		assert.Len(t, vecs, 2)
		assert.Equal(t, []string{"delta"}, backend.Texts())
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		c, err := NewClient(mock.NewEmbeddingBackend(3), 8)
		require.NoError(t, err)
		_, err = c.EmbedBatch(ctx, []string{"a", "b"})
		assert.True(t, errors.Is(err, domain.ErrConfiguration))
	})
}
