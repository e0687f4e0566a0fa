package port

import "github.com/mazi76erX2/vault-sub000/internal/domain"

// Chunker splits a document's text into passages.
type Chunker interface {
	Chunk(doc domain.Document, content string) ([]domain.Chunk, error)

	// ChunkWithContext returns each chunk together with the text of up to
	// window neighbours on either side, for embedding.
	ChunkWithContext(doc domain.Document, content string, window int) ([]domain.ContextChunk, error)
}
