// Package reranker reorders fused candidates before generation.
//
// The variant set is closed: Null truncates, Heuristic scores token overlap
// and Model asks an external scorer. None of them ever fail a request.
package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/port"
)

// Variant names accepted by New.
const (
	KindNone      = "none"
	KindHeuristic = "heuristic"
	KindModel     = "model"
)

// DefaultTimeout bounds one scorer call.
const DefaultTimeout = 3 * time.Second

// Option configures a reranker built by New.
type Option func(*settings)

type settings struct {
	timeout time.Duration
	logger  *slog.Logger
}

// WithTimeout sets the scorer timeout of the model variant.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used when the model variant fails open.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// New returns the variant named by kind. The model variant requires scorer.
func New(kind string, scorer port.Scorer, opts ...Option) (port.Reranker, error) {
	s := settings{timeout: DefaultTimeout, logger: slog.Default()}
	for _, o := range opts {
		o(&s)
	}

	switch kind {
	case KindNone, "":
		return Null{}, nil
	case KindHeuristic:
		return NewHeuristic(), nil
	case KindModel:
		if scorer == nil {
			return nil, domain.ConfigError("model reranker requires a scorer")
		}
		return &Model{scorer: scorer, timeout: s.timeout, logger: s.logger.With("component", "reranker")}, nil
	default:
		return nil, domain.ConfigError("unknown reranker kind %q", kind)
	}
}

// Null keeps the fused order.
type Null struct{}

func (Null) Name() string { return KindNone }

func (Null) Rerank(_ context.Context, _ string, candidates []domain.FusedCandidate, limit int) domain.Reranked {
	return domain.Reranked{Results: passthrough(candidates, limit)}
}

// Heuristic scores each candidate by the share of query terms it contains.
type Heuristic struct {
	tokenizer *analyzer.Tokenizer
}

func NewHeuristic() *Heuristic {
	return &Heuristic{tokenizer: analyzer.NewTokenizer()}
}

func (h *Heuristic) Name() string { return KindHeuristic }

func (h *Heuristic) Rerank(_ context.Context, query string, candidates []domain.FusedCandidate, limit int) domain.Reranked {
	terms := h.tokenizer.TermSet(query)
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = h.overlap(terms, c.Chunk.Content)
	}
	return domain.Reranked{Results: ordered(candidates, scores, limit), Applied: true}
}

func (h *Heuristic) overlap(queryTerms map[string]struct{}, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	contentTerms := h.tokenizer.TermSet(content)
	matched := 0
	for t := range queryTerms {
		if _, ok := contentTerms[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// Model delegates scoring to an external relevance model.
type Model struct {
	scorer  port.Scorer
	timeout time.Duration
	logger  *slog.Logger
}

func (m *Model) Name() string { return KindModel + ":" + m.scorer.ModelName() }

// Rerank scores candidates under the model timeout. If the scorer errors, times
// out or returns the wrong number of scores, the fused order is returned
// truncated and flagged Degraded.
func (m *Model) Rerank(ctx context.Context, query string, candidates []domain.FusedCandidate, limit int) domain.Reranked {
	if len(candidates) == 0 {
		return domain.Reranked{Results: []domain.RankedResult{}, Applied: true}
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Content
	}

	scores, err := m.score(ctx, query, texts)
	if err == nil && len(scores) != len(candidates) {
		err = fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
	}
	if err != nil {
		m.logger.Warn("rerank failed, keeping fused order", "model", m.scorer.ModelName(), "candidates", len(candidates), "err", err)
		return domain.Reranked{Results: passthrough(candidates, limit), Degraded: true}
	}

	return domain.Reranked{Results: ordered(candidates, scores, limit), Applied: true}
}

// score runs the scorer but stops waiting at the timeout even if the scorer
// ignores its context.
func (m *Model) score(ctx context.Context, query string, texts []string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		scores []float64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := m.scorer.Score(ctx, query, texts)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		return r.scores, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("rerank: %w", ctx.Err())
	}
}

func passthrough(candidates []domain.FusedCandidate, limit int) []domain.RankedResult {
	n := clamp(len(candidates), limit)
	out := make([]domain.RankedResult, n)
	for i := 0; i < n; i++ {
		out[i] = domain.RankedResult{FusedCandidate: candidates[i]}
	}
	return out
}

// ordered sorts by score descending; equal scores keep fused order.
func ordered(candidates []domain.FusedCandidate, scores []float64, limit int) []domain.RankedResult {
	out := make([]domain.RankedResult, len(candidates))
	for i := range candidates {
		score := scores[i]
		out[i] = domain.RankedResult{FusedCandidate: candidates[i], RerankScore: &score}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	return out[:clamp(len(out), limit)]
}

func clamp(n, limit int) int {
	if limit > 0 && limit < n {
		return limit
	}
	return n
}
