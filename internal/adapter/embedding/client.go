package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/port"
	"github.com/mazi76erX2/vault-sub000/internal/retry"
)

// ErrBackendRequired is returned when no embedding backend is supplied.
var ErrBackendRequired = errors.New("embedding backend is required")

// Client turns text into vectors of a fixed dimension.
//
// Identical concurrent requests share one backend call. The shared call runs
// on a context detached from any single caller, so a caller giving up does
// not fail the others.
type Client struct {
	backend     port.EmbeddingBackend
	dimension   int
	cache       port.VectorCache
	policy      retry.Policy
	callTimeout time.Duration
	batchSize   int
	group       singleflight.Group
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache serves and stores vectors through cache.
func WithCache(cache port.VectorCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithRetryPolicy sets the retry policy for backend calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithCallTimeout bounds each individual backend attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithBatchSize caps the number of texts sent per backend call.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger sets the logger for backend call diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "embedding_client") }
}

// NewClient creates a Client that checks every vector against dimension.
func NewClient(backend port.EmbeddingBackend, dimension int, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if dimension <= 0 {
		return nil, domain.ConfigError("embedding dimension must be positive, got %d", dimension)
	}

	c := &Client{
		backend:     backend,
		dimension:   dimension,
		policy:      retry.DefaultPolicy(),
		callTimeout: 30 * time.Second,
		batchSize:   64,
		logger:      slog.Default().With("component", "embedding_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Normalize trims text and collapses internal whitespace runs.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// CacheKey derives the cache key of a normalized text for a model.
func CacheKey(model, normalized string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + normalized))
	return hex.EncodeToString(hash[:])
}

// Embed returns the vector of a single text. The caller owns the returned
// slice.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	norm := Normalize(text)
	if norm == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidQuery)
	}

	key := CacheKey(c.backend.ModelName(), norm)
	if v, ok := c.cacheGet(ctx, key); ok {
		return v, nil
	}

	vecs, err := c.shared(ctx, key, []string{norm}, []string{key})
	if err != nil {
		return nil, err
	}
	return slices.Clone(vecs[0]), nil
}

// EmbedBatch returns one vector per text, in input order. Every returned
// slice is a separate copy.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var missTexts, missKeys []string

	model := c.backend.ModelName()
	for i, text := range texts {
		norm := Normalize(text)
		if norm == "" {
			return nil, fmt.Errorf("%w: empty text at position %d", domain.ErrInvalidQuery, i)
		}
		key := CacheKey(model, norm)
		if idx, seen := pending[key]; seen {
			pending[key] = append(idx, i)
			continue
		}
		if v, ok := c.cacheGet(ctx, key); ok {
			results[i] = v
			continue
		}
		pending[key] = []int{i}
		missTexts = append(missTexts, norm)
		missKeys = append(missKeys, key)
	}

	for start := 0; start < len(missTexts); start += c.batchSize {
		end := min(start+c.batchSize, len(missTexts))
		batchKeys := missKeys[start:end]

		flightKey := missKeys[start]
		if len(batchKeys) > 1 {
			hash := sha256.Sum256([]byte(strings.Join(batchKeys, ",")))
			flightKey = "batch:" + hex.EncodeToString(hash[:])
		}

		vecs, err := c.shared(ctx, flightKey, missTexts[start:end], batchKeys)
		if err != nil {
			return nil, err
		}
		for j, key := range batchKeys {
			for _, i := range pending[key] {
				results[i] = slices.Clone(vecs[j])
			}
		}
	}

	return results, nil
}

func (c *Client) Dimension() int { return c.dimension }

func (c *Client) ModelName() string { return c.backend.ModelName() }

// shared runs one deduplicated backend call and waits for it, or for ctx.
func (c *Client) shared(ctx context.Context, flightKey string, texts, keys []string) ([][]float32, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		vecs, err := c.call(detached, texts)
		if err != nil {
			return nil, err
		}
		for i, key := range keys {
			c.cachePut(detached, key, vecs[i])
		}
		return vecs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("shared in-flight embedding call", "texts", len(texts))
		}
		return res.Val.([][]float32), nil
	}
}

// call sends texts to the backend with retries and validates the response.
func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	attempt := 0
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		start := time.Now()
		out, err := c.backend.EmbedTexts(callCtx, texts)
		if err != nil {
			c.logger.Debug("embedding call failed", "attempt", attempt, "err", err,
				"duration_ms", time.Since(start).Milliseconds())
			return err
		}
		vecs = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}

	if len(vecs) != len(texts) {
		return nil, countMismatch(len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != c.dimension {
			return nil, domain.ConfigError("embedding %d has dimension %d, collection expects %d", i, len(v), c.dimension)
		}
	}
	return vecs, nil
}

// cacheGet returns a copy of the cached vector; cached slices are shared.
func (c *Client) cacheGet(ctx context.Context, key string) ([]float32, bool) {
	if c.cache == nil {
		return nil, false
	}
	v, ok := c.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

func (c *Client) cachePut(ctx context.Context, key string, v []float32) {
	if c.cache != nil {
		c.cache.Put(ctx, key, v)
	}
}
