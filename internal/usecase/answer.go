package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/reranker"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/retriever"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/port"
)

// Retriever runs hybrid retrieval. It embeds the query text inside its dense
// leg when the query carries no vector.
type Retriever interface {
	Retrieve(ctx context.Context, q retriever.Query) (*domain.Retrieval, error)
}

// AnswerOptions is the orchestrator policy.
type AnswerOptions struct {
	TopK               int
	RerankLimit        int
	Deadline           time.Duration
	PreviewChars       int
	ContextTokenBudget int
	NoResultsMessage   string
}

// DefaultAnswerOptions mirrors the configuration defaults.
func DefaultAnswerOptions() AnswerOptions {
	return AnswerOptions{
		TopK:               5,
		Deadline:           45 * time.Second,
		PreviewChars:       200,
		ContextTokenBudget: 3000,
		NoResultsMessage:   "I could not find any information about that in the knowledge base.",
	}
}

// AnswerUseCase runs retrieval, reranking and generation for a query.
type AnswerUseCase struct {
	retriever Retriever
	reranker  port.Reranker
	generator port.Generator
	prompt    promptBuilder
	opts      AnswerOptions
	logger    *slog.Logger
}

// AnswerOption configures an AnswerUseCase.
type AnswerOption func(*AnswerUseCase)

// WithReranker sets the reranker. The default keeps the fused order.
func WithReranker(r port.Reranker) AnswerOption {
	return func(u *AnswerUseCase) {
		if r != nil {
			u.reranker = r
		}
	}
}

// WithAnswerLogger sets the logger for request lifecycle events.
func WithAnswerLogger(logger *slog.Logger) AnswerOption {
	return func(u *AnswerUseCase) { u.logger = logger.With("component", "answer") }
}

// NewAnswerUseCase creates the orchestrator.
func NewAnswerUseCase(r Retriever, generator port.Generator, opts AnswerOptions, options ...AnswerOption) (*AnswerUseCase, error) {
	if r == nil {
		return nil, ErrRetrieverRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	defaults := DefaultAnswerOptions()
	if opts.TopK <= 0 {
		opts.TopK = defaults.TopK
	}
	if opts.Deadline <= 0 {
		opts.Deadline = defaults.Deadline
	}
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = defaults.PreviewChars
	}
	if opts.NoResultsMessage == "" {
		opts.NoResultsMessage = defaults.NoResultsMessage
	}

	u := &AnswerUseCase{
		retriever: r,
		reranker:  reranker.Null{},
		generator: generator,
		prompt:    promptBuilder{tokenizer: analyzer.NewTokenizer(), budget: opts.ContextTokenBudget},
		opts:      opts,
		logger:    slog.Default().With("component", "answer"),
	}
	for _, o := range options {
		o(u)
	}
	return u, nil
}

// AnswerRequest is one question against the knowledge base.
type AnswerRequest struct {
	RequestID string
	Query     string
	Filter    domain.AccessFilter
	TopK      int
}

// Answer returns a grounded answer with its sources.
//
// The returned error is nil whenever an Answer with a usable status exists:
// no results, a failed generation and a deadline hit after sources were
// found all come back as an Answer with the matching Status. A deadline hit
// before anything was retrieved returns ErrDeadlineExceeded; both retrieval
// legs failing returns ErrRetrievalUnavailable.
func (u *AnswerUseCase) Answer(ctx context.Context, req AnswerRequest) (*domain.Answer, error) {
	start := time.Now()
	ans := &domain.Answer{
		RequestID: req.RequestID,
		Query:     req.Query,
		Sources:   []domain.Citation{},
	}
	if ans.RequestID == "" {
		ans.RequestID = uuid.NewString()
	}
	logger := u.logger.With("request_id", ans.RequestID)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidQuery)
	}

	ctx, cancel := context.WithTimeout(ctx, u.opts.Deadline)
	defer cancel()

	topK := req.TopK
	if topK <= 0 {
		topK = u.opts.TopK
	}

	results, degraded, err := u.retrieve(ctx, logger, ans, query, req.Filter, topK)
	if err != nil || ans.Status != "" {
		return u.finish(ans, start), err
	}
	ans.Degraded = degraded

	ans.Sources = u.citations(results)
	ans.DocumentsUsed = len(ans.Sources)

	ans.Stage = domain.StageGenerating
	messages, packed, err := u.prompt.build(query, results)
	if err != nil {
		return u.finish(ans, start), err
	}

	genStart := time.Now()
	text, err := await(ctx, func(ctx context.Context) (string, error) {
		return u.generator.Generate(ctx, messages)
	})
	genMS := domain.DurationMS(time.Since(genStart))
	ans.Performance.GenerationMS = &genMS

	switch {
	case ctx.Err() != nil:
		logger.Warn("deadline reached during generation", "sources", len(ans.Sources))
		u.abort(ans)
		return u.finish(ans, start), nil
	case err != nil:
		logger.Error("generation failed", "model", u.generator.ModelName(), "err", err)
		ans.Status = domain.StatusGenerationFailed
		ans.Error = fmt.Errorf("%w: %w", domain.ErrGeneration, err).Error()
		ans.Stage = domain.StageDone
		return u.finish(ans, start), nil
	}

	model := u.generator.ModelName()
	ans.Model = &model
	ans.Text = text
	ans.Status = domain.StatusOK
	ans.Stage = domain.StageDone

	u.finish(ans, start)
	logger.Info("answer generated",
		"sources", len(ans.Sources),
		"context_blocks", packed,
		"degraded", ans.Degraded,
		"total_ms", ans.Performance.TotalMS,
	)
	return ans, nil
}

// SearchResult is retrieval without generation.
type SearchResult struct {
	RequestID   string
	Results     []domain.RankedResult
	Degraded    bool
	Performance domain.PerformanceMetrics
}

// Search embeds, retrieves and reranks under the request deadline.
func (u *AnswerUseCase) Search(ctx context.Context, req AnswerRequest) (*SearchResult, error) {
	start := time.Now()
	ans := &domain.Answer{RequestID: req.RequestID, Query: req.Query}
	if ans.RequestID == "" {
		ans.RequestID = uuid.NewString()
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidQuery)
	}

	ctx, cancel := context.WithTimeout(ctx, u.opts.Deadline)
	defer cancel()

	topK := req.TopK
	if topK <= 0 {
		topK = u.opts.TopK
	}

	results, degraded, err := u.retrieve(ctx, u.logger.With("request_id", ans.RequestID), ans, query, req.Filter, topK)
	u.finish(ans, start)
	out := &SearchResult{RequestID: ans.RequestID, Results: results, Degraded: degraded || ans.Degraded, Performance: ans.Performance}
	if out.Results == nil {
		out.Results = []domain.RankedResult{}
	}
	return out, err
}

// retrieve runs the retrieval and reranking stages. When it sets
// ans.Status the answer is complete and must be returned as is.
func (u *AnswerUseCase) retrieve(ctx context.Context, logger *slog.Logger, ans *domain.Answer, query string, filter domain.AccessFilter, topK int) ([]domain.RankedResult, bool, error) {
	// the dense leg embeds the query while the sparse leg runs
	ans.Stage = domain.StageEmbedding
	searchStart := time.Now()
	res, err := await(ctx, func(ctx context.Context) (*domain.Retrieval, error) {
		return u.retriever.Retrieve(ctx, retriever.Query{
			Text:   query,
			Filter: filter,
			TopK:   topK,
		})
	})
	elapsed := domain.DurationMS(time.Since(searchStart))
	if res != nil {
		ans.Performance.EmbeddingMS = res.EmbeddingMS
		ans.Performance.SearchMS = res.SearchMS
	} else {
		ans.Performance.EmbeddingMS = elapsed
		ans.Performance.SearchMS = elapsed
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, false, u.abortEmpty(logger, ans, ctx.Err())
		}
		if errors.Is(err, domain.ErrRetrievalUnavailable) {
			logger.Error("retrieval unavailable", "err", err)
			ans.Status = domain.StatusRetrievalUnavailable
		}
		ans.Stage = domain.StageDone
		ans.Error = err.Error()
		return nil, false, err
	}

	degraded := res.Degraded
	if len(res.Candidates) == 0 {
		ans.Text = u.opts.NoResultsMessage
		ans.Status = domain.StatusNoResults
		ans.Stage = domain.StageDone
		ans.Degraded = degraded
		return nil, degraded, nil
	}

	limit := topK
	if u.opts.RerankLimit > 0 && u.opts.RerankLimit < limit {
		limit = u.opts.RerankLimit
	}

	ans.Stage = domain.StageReranking
	rerankStart := time.Now()
	reranked, err := await(ctx, func(ctx context.Context) (domain.Reranked, error) {
		return u.reranker.Rerank(ctx, query, res.Candidates, limit), nil
	})
	if err != nil {
		// deadline: the fused order is what we have
		logger.Warn("deadline reached during reranking", "candidates", len(res.Candidates))
		reranked = reranker.Null{}.Rerank(ctx, query, res.Candidates, limit)
		ans.Sources = u.citations(reranked.Results)
		ans.DocumentsUsed = len(ans.Sources)
		ans.Degraded = degraded
		u.abort(ans)
		return reranked.Results, degraded, nil
	}
	if reranked.Applied || reranked.Degraded {
		ms := domain.DurationMS(time.Since(rerankStart))
		ans.Performance.RerankMS = &ms
	}

	return reranked.Results, degraded || reranked.Degraded, nil
}

func (u *AnswerUseCase) abort(ans *domain.Answer) {
	ans.Status = domain.StatusAborted
	ans.Stage = domain.StageAborted
	ans.Text = ""
}

// abortEmpty marks an answer aborted before any source was found.
func (u *AnswerUseCase) abortEmpty(logger *slog.Logger, ans *domain.Answer, cause error) error {
	logger.Warn("request aborted before retrieval completed", "stage", ans.Stage, "err", cause)
	u.abort(ans)
	ans.Error = cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrDeadlineExceeded, cause)
	}
	return cause
}

func (u *AnswerUseCase) finish(ans *domain.Answer, start time.Time) *domain.Answer {
	ans.Performance.TotalMS = domain.DurationMS(time.Since(start))
	return ans
}

func (u *AnswerUseCase) citations(results []domain.RankedResult) []domain.Citation {
	out := make([]domain.Citation, len(results))
	for i, r := range results {
		meta := make(map[string]string, len(r.Chunk.Metadata)+3)
		for k, v := range r.Chunk.Metadata {
			meta[k] = v
		}
		meta["doc_id"] = r.Chunk.DocID
		meta["chunk_index"] = fmt.Sprint(r.Chunk.Index)
		legs := make([]string, len(r.Legs))
		for j, l := range r.Legs {
			legs[j] = string(l)
		}
		meta["legs"] = strings.Join(legs, ",")

		out[i] = domain.Citation{
			Index:          i + 1,
			Title:          r.Chunk.Title(),
			Source:         r.Chunk.Source(),
			ContentPreview: preview(r.Chunk.Content, u.opts.PreviewChars),
			Score:          r.FinalScore(),
			Metadata:       meta,
		}
	}
	return out
}

func preview(content string, n int) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}

// await runs fn and returns its result, or ctx.Err() as soon as ctx is done
// even if fn ignores its context.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
