package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/chunker"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/embedding"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/memstore"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/mock"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/retriever"
	"github.com/mazi76erX2/vault-sub000/internal/retry"
)

const testDim = 64

type fixture struct {
	store    *memstore.MemoryStore
	backend  *mock.EmbeddingBackend
	embedder *embedding.Client
	engine   *retriever.HybridEngine
	gen      *mock.Generator
	ingest   *IngestUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:   memstore.NewMemoryStore(testDim),
		backend: mock.NewEmbeddingBackend(testDim),
		gen:     mock.NewGenerator(),
	}

	var err error
	f.embedder, err = embedding.NewClient(f.backend, testDim, embedding.WithRetryPolicy(retry.Policy{MaxAttempts: 1}))
	require.NoError(t, err)

	ch, err := chunker.NewRecursiveChunker(chunker.Options{Size: 200, Overlap: 30, MinSize: 50, MaxSize: 300})
	require.NoError(t, err)

	f.ingest, err = NewIngestUseCase(f.store, ch, f.embedder, WithPoolSize(2), WithBatchSize(2))
	require.NoError(t, err)
	t.Cleanup(f.ingest.Release)

	f.engine, err = retriever.NewHybridEngine(f.store, f.store, retriever.DefaultOptions(), retriever.WithEmbedder(f.embedder))
	require.NoError(t, err)
	return f
}

// seed ingests a small knowledge base with one restricted document.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	docs := []IngestRequest{
		{
			Source:  "refund-policy.md",
			Title:   "Refund Policy",
			RawText: "Refunds are issued within 30 days of purchase. Items must be unused and in their original packaging.",
		},
		{
			Source:  "shipping.md",
			Title:   "Shipping",
			RawText: "Standard shipping takes five business days. Express shipping takes two business days.",
		},
		{
			Source:      "salaries.md",
			Title:       "Executive Pay",
			RawText:     "Executive salaries are reviewed every March by the compensation board.",
			AccessLevel: 5,
		},
	}
	for _, d := range docs {
		_, err := f.ingest.Ingest(context.Background(), d)
		require.NoError(t, err)
	}
}

func (f *fixture) answerer(t *testing.T, opts AnswerOptions, options ...AnswerOption) *AnswerUseCase {
	t.Helper()
	u, err := NewAnswerUseCase(f.engine, f.gen, opts, options...)
	require.NoError(t, err)
	return u
}
