package usecase

import "errors"

var (
	ErrDatastoreRequired = errors.New("datastore is required")
	ErrChunkerRequired   = errors.New("chunker is required")
	ErrEmbedderRequired  = errors.New("embedder is required")
	ErrRetrieverRequired = errors.New("retriever is required")
	ErrGeneratorRequired = errors.New("generator is required")

	// ErrEmptyDocument is returned when a document has no text to index.
	ErrEmptyDocument = errors.New("document has no text")

	// ErrSourceRequired is returned when a document has neither source nor title.
	ErrSourceRequired = errors.New("document source or title is required")
)
