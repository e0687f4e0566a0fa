package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/port"
	"github.com/mazi76erX2/vault-sub000/internal/retry"
)

var (
	// ErrVectorIndexRequired is returned when no dense index is supplied.
	ErrVectorIndexRequired = errors.New("vector index is required")
	// ErrLexicalIndexRequired is returned when no sparse index is supplied.
	ErrLexicalIndexRequired = errors.New("lexical index is required")

	errNoQueryVector = errors.New("no query vector and no embedder configured")
)

// Options tunes the hybrid engine.
type Options struct {
	TopK          int
	Oversample    int
	RRFK          int
	DenseTimeout  time.Duration
	SparseTimeout time.Duration
	Retry         retry.Policy
}

// DefaultOptions returns top 5, oversample 4, k=60 and 5s leg timeouts.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		Oversample:    4,
		RRFK:          DefaultRRFK,
		DenseTimeout:  5 * time.Second,
		SparseTimeout: 5 * time.Second,
		Retry:         retry.DefaultPolicy(),
	}
}

// Query is one hybrid retrieval request. When Vector is nil the dense leg
// embeds Text itself, unless VectorErr reports an earlier embedding failure.
type Query struct {
	Text      string
	Vector    []float32
	VectorErr error
	Filter    domain.AccessFilter
	TopK      int
}

// HybridEngine runs a dense and a sparse leg concurrently and fuses them.
type HybridEngine struct {
	dense    port.VectorIndex
	sparse   port.LexicalIndex
	embedder port.Embedder
	opts     Options
	logger   *slog.Logger
}

// EngineOption configures a HybridEngine.
type EngineOption func(*HybridEngine)

// WithLogger sets the logger for leg failures and retrieval summaries.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *HybridEngine) { e.logger = logger.With("component", "hybrid_engine") }
}

// WithEmbedder sets the embedder the dense leg uses for queries without a vector.
func WithEmbedder(embedder port.Embedder) EngineOption {
	return func(e *HybridEngine) { e.embedder = embedder }
}

// NewHybridEngine validates opts and builds an engine over the two indexes.
func NewHybridEngine(dense port.VectorIndex, sparse port.LexicalIndex, opts Options, options ...EngineOption) (*HybridEngine, error) {
	if dense == nil {
		return nil, ErrVectorIndexRequired
	}
	if sparse == nil {
		return nil, ErrLexicalIndexRequired
	}
	if opts.RRFK <= 0 {
		return nil, domain.ConfigError("rrf constant must be positive, got %d", opts.RRFK)
	}
	if opts.Oversample < 1 {
		return nil, domain.ConfigError("oversample must be >= 1, got %d", opts.Oversample)
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.DenseTimeout <= 0 {
		opts.DenseTimeout = 5 * time.Second
	}
	if opts.SparseTimeout <= 0 {
		opts.SparseTimeout = 5 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}

	e := &HybridEngine{
		dense:  dense,
		sparse: sparse,
		opts:   opts,
		logger: slog.Default().With("component", "hybrid_engine"),
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

// TopK is the default number of results.
func (e *HybridEngine) TopK() int { return e.opts.TopK }

// Search retrieves for text, embedding it inside the dense leg.
func (e *HybridEngine) Search(ctx context.Context, text string, filter domain.AccessFilter, topK int) (*domain.Retrieval, error) {
	return e.Retrieve(ctx, Query{Text: text, Filter: filter, TopK: topK})
}

type legOutcome struct {
	hits     []domain.ScoredChunk
	err      error
	duration time.Duration
}

// Retrieve runs both legs, each asking for TopK*Oversample hits with the
// access filter pushed into the index query, and fuses what comes back.
//
// Each leg has its own timeout derived from ctx; one leg timing out never
// cancels the other. The dense leg's timeout covers embedding the query, so
// a slow embedding backend degrades to the sparse leg. If one leg fails the
// result is a single-leg fusion flagged Degraded. If both fail the error
// wraps ErrRetrievalUnavailable.
func (e *HybridEngine) Retrieve(ctx context.Context, q Query) (*domain.Retrieval, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = e.opts.TopK
	}
	limit := topK * e.opts.Oversample
	start := time.Now()

	var (
		dense, sparse legOutcome
		embedding     time.Duration
		g             errgroup.Group
	)

	g.Go(func() error {
		legCtx, cancel := context.WithTimeout(ctx, e.opts.DenseTimeout)
		defer cancel()

		legStart := time.Now()
		vector, err := e.queryVector(legCtx, q)
		embedding = time.Since(legStart)
		if err != nil {
			dense = legOutcome{err: fmt.Errorf("%s leg: embed query: %w", domain.LegDense, err), duration: embedding}
			return nil
		}

		dense = e.runLeg(legCtx, domain.LegDense, func(ctx context.Context) ([]domain.ScoredChunk, error) {
			return e.dense.SearchVector(ctx, vector, q.Filter, limit)
		})
		dense.duration = time.Since(legStart)
		return nil
	})

	g.Go(func() error {
		legCtx, cancel := context.WithTimeout(ctx, e.opts.SparseTimeout)
		defer cancel()

		legStart := time.Now()
		sparse = e.runLeg(legCtx, domain.LegSparse, func(ctx context.Context) ([]domain.ScoredChunk, error) {
			return e.sparse.SearchLexical(ctx, q.Text, q.Filter, limit)
		})
		sparse.duration = time.Since(legStart)
		return nil
	})

	_ = g.Wait() // legs never fail the group

	res := &domain.Retrieval{
		Legs: []domain.LegReport{
			{Leg: domain.LegDense, Hits: len(dense.hits), Duration: dense.duration, Err: dense.err},
			{Leg: domain.LegSparse, Hits: len(sparse.hits), Duration: sparse.duration, Err: sparse.err},
		},
		EmbeddingMS: domain.DurationMS(embedding),
	}

	for _, err := range []error{dense.err, sparse.err} {
		if errors.Is(err, domain.ErrConfiguration) {
			res.SearchMS = domain.DurationMS(time.Since(start))
			return res, err
		}
	}

	if dense.err != nil && sparse.err != nil {
		res.SearchMS = domain.DurationMS(time.Since(start))
		e.logger.Error("both retrieval legs failed", "dense_err", dense.err, "sparse_err", sparse.err)
		return res, fmt.Errorf("%w: %w", domain.ErrRetrievalUnavailable, errors.Join(dense.err, sparse.err))
	}

	var legs []domain.LegResult
	if dense.err == nil {
		legs = append(legs, domain.NewLegResult(domain.LegDense, dense.hits))
	} else {
		res.Degraded = true
		e.logger.Warn("dense leg failed, continuing with sparse leg", "leg", domain.LegDense, "err", dense.err)
	}
	if sparse.err == nil {
		legs = append(legs, domain.NewLegResult(domain.LegSparse, sparse.hits))
	} else {
		res.Degraded = true
		e.logger.Warn("sparse leg failed, continuing with dense leg", "leg", domain.LegSparse, "err", sparse.err)
	}

	fused, err := FuseRRF(e.opts.RRFK, legs...)
	if err != nil {
		return res, err
	}
	if len(fused) > topK {
		fused = fused[:topK]
	}

	res.Candidates = fused
	res.SearchMS = domain.DurationMS(time.Since(start))
	e.logger.Debug("hybrid retrieval done",
		"query_len", len(q.Text),
		"dense_hits", len(dense.hits),
		"sparse_hits", len(sparse.hits),
		"fused", len(fused),
		"duration_ms", res.SearchMS,
	)
	return res, nil
}

// queryVector returns the supplied query vector or embeds the query text.
// It returns as soon as ctx is done even if the embedder does not.
func (e *HybridEngine) queryVector(ctx context.Context, q Query) ([]float32, error) {
	switch {
	case q.Vector != nil:
		return q.Vector, nil
	case q.VectorErr != nil:
		return nil, q.VectorErr
	case e.embedder == nil:
		return nil, errNoQueryVector
	}

	type result struct {
		vector []float32
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := e.embedder.Embed(ctx, q.Text)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.vector, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runLeg runs one leg on legCtx, retrying transient failures.
func (e *HybridEngine) runLeg(legCtx context.Context, leg domain.Leg, search func(context.Context) ([]domain.ScoredChunk, error)) legOutcome {
	var out legOutcome
	out.err = retry.Do(legCtx, e.opts.Retry, func(ctx context.Context) error {
		hits, err := search(ctx)
		if err != nil {
			return err
		}
		out.hits = hits
		return nil
	})
	if out.err == nil {
		// a leg whose index ignored the deadline still counts as timed out
		out.err = legCtx.Err()
	}
	if out.err != nil {
		out.hits = nil
		out.err = fmt.Errorf("%s leg: %w", leg, out.err)
	}
	return out
}
