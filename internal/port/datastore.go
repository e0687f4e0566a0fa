package port

import (
	"context"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// VectorIndex answers dense similarity queries. Results are ordered by
// ascending distance; the filter is part of the query itself.
type VectorIndex interface {
	SearchVector(ctx context.Context, vector []float32, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error)
}

// LexicalIndex answers full-text queries ordered by term relevance.
type LexicalIndex interface {
	SearchLexical(ctx context.Context, query string, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error)
}

// Datastore is the combined vector + full-text index.
type Datastore interface {
	VectorIndex
	LexicalIndex

	// PutDocument stores a document with its chunks and vectors, replacing
	// whatever was stored for the same document ID.
	PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors [][]float32) error

	DeleteDocument(ctx context.Context, docID string) error

	Stats(ctx context.Context) (domain.Stats, error)

	Ping(ctx context.Context) error

	Close() error
}
