package port

import (
	"context"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// Scorer is an external pairwise relevance backend. It returns one score per
// candidate text, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, candidateTexts []string) ([]float64, error)

	// ModelName returns the name of the scoring model.
	ModelName() string
}

// Reranker reorders and truncates fused candidates. It never fails a request:
// on scorer failure it returns the input order and sets Degraded.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.FusedCandidate, limit int) domain.Reranked

	// Name identifies the reranker variant.
	Name() string
}
