package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/embedding"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/reranker"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/retriever"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/retry"
)

func TestAnswer_Grounded(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	u := f.answerer(t, DefaultAnswerOptions())

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "refunds purchase unused packaging"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOK, ans.Status)
	assert.Equal(t, domain.StageDone, ans.Stage)
	assert.NotEmpty(t, ans.RequestID)
	assert.False(t, ans.Degraded)
	assert.Contains(t, ans.Text, "Refunds are issued within 30 days")
	require.NotNil(t, ans.Model)
	assert.Equal(t, "mock-generator", *ans.Model)

	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, len(ans.Sources), ans.DocumentsUsed)
	top := ans.Sources[0]
	assert.Equal(t, 1, top.Index)
	assert.Equal(t, "Refund Policy", top.Title)
	assert.Equal(t, "refund-policy.md", top.Source)
	assert.Equal(t, "dense,sparse", top.Metadata["legs"])
	assert.Equal(t, "0", top.Metadata["chunk_index"])
	assert.Greater(t, top.Score, 0.0)

	assert.NotNil(t, ans.Performance.GenerationMS)
	assert.Nil(t, ans.Performance.RerankMS)
	assert.GreaterOrEqual(t, ans.Performance.TotalMS, ans.Performance.SearchMS)

	msgs := f.gen.LastMessages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, RefusalText)
	assert.Contains(t, msgs[1].Content, "Question: refunds purchase unused packaging")
}

func TestAnswer_AccessFilterHidesRestricted(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	u := f.answerer(t, DefaultAnswerOptions())

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "executive salaries board", Filter: domain.AccessFilter{MaxAccessLevel: 0}})
	require.NoError(t, err)
	for _, s := range ans.Sources {
		assert.NotEqual(t, "salaries.md", s.Source)
	}
	for _, m := range f.gen.LastMessages() {
		assert.NotContains(t, m.Content, "compensation board")
	}

	ans, err = u.Answer(context.Background(), AnswerRequest{Query: "executive salaries board", Filter: domain.AccessFilter{MaxAccessLevel: 5}})
	require.NoError(t, err)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "salaries.md", ans.Sources[0].Source)
}

func TestAnswer_NoResults(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	u := f.answerer(t, DefaultAnswerOptions())

	ans, err := u.Answer(context.Background(), AnswerRequest{
		Query:  "refund window",
		Filter: domain.AccessFilter{MaxAccessLevel: 9, DocIDs: []string{"no-such-doc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNoResults, ans.Status)
	assert.Equal(t, DefaultAnswerOptions().NoResultsMessage, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.NotNil(t, ans.Sources)
	assert.Equal(t, 0, ans.DocumentsUsed)
	assert.Nil(t, ans.Model)
	assert.Nil(t, ans.Performance.GenerationMS)
	assert.Equal(t, 0, f.gen.CallCount())
}

func TestAnswer_EmbeddingFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.backend.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, domain.NewStatusError("embedding", "embed", 400, "bad input")
	}
	u := f.answerer(t, DefaultAnswerOptions())

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "shipping business days"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, ans.Status)
	assert.True(t, ans.Degraded)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "shipping.md", ans.Sources[0].Source)
	assert.Equal(t, "sparse", ans.Sources[0].Metadata["legs"])
}

func TestAnswer_GenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gen.GenerateFunc = func(context.Context, []domain.Message) (string, error) {
		return "", errors.New("rate limited")
	}
	u := f.answerer(t, DefaultAnswerOptions())

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "refunds purchase"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGenerationFailed, ans.Status)
	assert.Empty(t, ans.Text)
	assert.NotEmpty(t, ans.Sources)
	assert.Nil(t, ans.Model)
	assert.NotNil(t, ans.Performance.GenerationMS)
	assert.Contains(t, ans.Error, "rate limited")
}

type retrieverFunc func(ctx context.Context, q retriever.Query) (*domain.Retrieval, error)

func (f retrieverFunc) Retrieve(ctx context.Context, q retriever.Query) (*domain.Retrieval, error) {
	return f(ctx, q)
}

func TestAnswer_RetrievalUnavailable(t *testing.T) {
	f := newFixture(t)
	down := retrieverFunc(func(context.Context, retriever.Query) (*domain.Retrieval, error) {
		return &domain.Retrieval{}, errors.Join(domain.ErrRetrievalUnavailable, errors.New("both legs down"))
	})
	u, err := NewAnswerUseCase(down, f.gen, DefaultAnswerOptions())
	require.NoError(t, err)

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "anything"})
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
	require.NotNil(t, ans)
	assert.Equal(t, domain.StatusRetrievalUnavailable, ans.Status)
	assert.Equal(t, 0, f.gen.CallCount())
}

func TestAnswer_SlowEmbeddingDegradesToSparse(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.backend.EmbedTextsFunc = func(ctx context.Context, _ []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	client, err := embedding.NewClient(f.backend, testDim,
		embedding.WithCallTimeout(400*time.Millisecond),
		embedding.WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond}),
	)
	require.NoError(t, err)
	engineOpts := retriever.DefaultOptions()
	engineOpts.DenseTimeout = 200 * time.Millisecond
	f.engine, err = retriever.NewHybridEngine(f.store, f.store, engineOpts, retriever.WithEmbedder(client))
	require.NoError(t, err)

	opts := DefaultAnswerOptions()
	opts.Deadline = time.Second
	u := f.answerer(t, opts)

	start := time.Now()
	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "shipping business days"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	assert.Equal(t, domain.StatusOK, ans.Status)
	assert.True(t, ans.Degraded)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "shipping.md", ans.Sources[0].Source)
	for _, src := range ans.Sources {
		assert.Equal(t, "sparse", src.Metadata["legs"])
	}
	assert.GreaterOrEqual(t, ans.Performance.EmbeddingMS, 150.0)
	assert.Less(t, ans.Performance.EmbeddingMS, 1000.0)
	assert.Equal(t, 1, f.gen.CallCount())
}

func TestAnswer_DeadlineBeforeRetrieval(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	stuck := retrieverFunc(func(context.Context, retriever.Query) (*domain.Retrieval, error) {
		time.Sleep(300 * time.Millisecond) // ignores its context
		return nil, errors.New("too late")
	})
	opts := DefaultAnswerOptions()
	opts.Deadline = 30 * time.Millisecond
	u, err := NewAnswerUseCase(stuck, f.gen, opts)
	require.NoError(t, err)

	start := time.Now()
	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "refunds"})
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	require.NotNil(t, ans)
	assert.Equal(t, domain.StatusAborted, ans.Status)
	assert.Equal(t, domain.StageAborted, ans.Stage)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, 0, f.gen.CallCount())
}

func TestAnswer_DeadlineDuringGeneration(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.gen.GenerateFunc = func(context.Context, []domain.Message) (string, error) {
		time.Sleep(400 * time.Millisecond)
		return "late answer", nil
	}
	opts := DefaultAnswerOptions()
	opts.Deadline = 150 * time.Millisecond
	u := f.answerer(t, opts)

	start := time.Now()
	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "refunds purchase"})
	assert.Less(t, time.Since(start), 350*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAborted, ans.Status)
	assert.Empty(t, ans.Text)
	assert.NotEmpty(t, ans.Sources)
}

func TestAnswer_InvalidQuery(t *testing.T) {
	f := newFixture(t)
	u := f.answerer(t, DefaultAnswerOptions())

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "  \n "})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	assert.Nil(t, ans)
}

func TestAnswer_WithReranker(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	u := f.answerer(t, DefaultAnswerOptions(), WithReranker(reranker.NewHeuristic()))

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "express shipping days", TopK: 2})
	require.NoError(t, err)
	require.NotNil(t, ans.Performance.RerankMS)
	assert.LessOrEqual(t, len(ans.Sources), 2)
	assert.Equal(t, "shipping.md", ans.Sources[0].Source)
	// heuristic score: all three query terms present
	assert.InDelta(t, 1.0, ans.Sources[0].Score, 1e-9)
}

func TestAnswer_PreviewTruncated(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	opts := DefaultAnswerOptions()
	opts.PreviewChars = 10
	u := f.answerer(t, opts)

	ans, err := u.Answer(context.Background(), AnswerRequest{Query: "refunds purchase"})
	require.NoError(t, err)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "Refunds ar…", ans.Sources[0].ContentPreview)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	u := f.answerer(t, DefaultAnswerOptions())

	res, err := u.Search(context.Background(), AnswerRequest{Query: "shipping business days", TopK: 1})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "shipping.md", res.Results[0].Chunk.Source())
	assert.Equal(t, 0, f.gen.CallCount())

	_, err = u.Search(context.Background(), AnswerRequest{Query: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestPromptBuilder_Budget(t *testing.T) {
	results := []domain.RankedResult{
		{FusedCandidate: domain.FusedCandidate{Chunk: domain.Chunk{Content: strings.Repeat("alpha ", 50), Metadata: map[string]string{"title": "A"}}}},
		{FusedCandidate: domain.FusedCandidate{Chunk: domain.Chunk{Content: strings.Repeat("beta ", 50), Metadata: map[string]string{"title": "B"}}}},
	}

	p := promptBuilder{tokenizer: analyzer.NewTokenizer(), budget: 10}
	msgs, packed, err := p.build("q", results)
	require.NoError(t, err)
	assert.Equal(t, 1, packed)
	assert.Contains(t, msgs[1].Content, "[1] alpha")
	assert.NotContains(t, msgs[1].Content, "beta")

	p.budget = 1000
	msgs, packed, err = p.build("q", results)
	require.NoError(t, err)
	assert.Equal(t, 2, packed)
	assert.Contains(t, msgs[1].Content, "[2] beta")
	assert.Contains(t, msgs[1].Content, "(source: B)")
}

func TestAwait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := await(ctx, func(context.Context) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	v, err := await(context.Background(), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
