package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// MemoryStore is a process-local datastore with the same search semantics
// as the bolt store.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	tokenizer *analyzer.Tokenizer
	bm25      analyzer.BM25

	docs      map[string]domain.Document
	chunks    map[string]domain.Chunk
	vectors   map[string][]float32
	lengths   map[string]int
	docChunks map[string][]string
	postings  map[string][]domain.Posting
}

// NewMemoryStore creates an empty store for vectors of dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(),
		bm25:      analyzer.DefaultBM25(),
		docs:      make(map[string]domain.Document),
		chunks:    make(map[string]domain.Chunk),
		vectors:   make(map[string][]float32),
		lengths:   make(map[string]int),
		docChunks: make(map[string][]string),
		postings:  make(map[string][]domain.Posting),
	}
}

func (s *MemoryStore) PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return domain.ConfigError("vector %d has dimension %d, index expects %d", i, len(v), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(doc.ID)
	s.docs[doc.ID] = doc
	ids := make([]string, 0, len(chunks))
	for i, c := range chunks {
		s.chunks[c.ID] = c
		s.vectors[c.ID] = vectors[i]
		tf, length := s.tokenizer.TermFrequencies(c.Content)
		s.lengths[c.ID] = length
		for term, n := range tf {
			s.postings[term] = append(s.postings[term], domain.Posting{ChunkID: c.ID, TF: n})
		}
		ids = append(ids, c.ID)
	}
	s.docChunks[doc.ID] = ids
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(docID)
	delete(s.docs, docID)
	return nil
}

func (s *MemoryStore) deleteLocked(docID string) {
	ids := s.docChunks[docID]
	if len(ids) == 0 {
		return
	}
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
		delete(s.chunks, id)
		delete(s.vectors, id)
		delete(s.lengths, id)
	}
	for term, postings := range s.postings {
		kept := postings[:0]
		for _, p := range postings {
			if _, drop := gone[p.ChunkID]; !drop {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(s.postings, term)
		} else {
			s.postings[term] = kept
		}
	}
	delete(s.docChunks, docID)
}

func (s *MemoryStore) SearchVector(ctx context.Context, vector []float32, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, domain.ConfigError("query vector has dimension %d, index expects %d", len(vector), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.ScoredChunk
	for id, c := range s.chunks {
		if !filter.Allows(c) {
			continue
		}
		results = append(results, domain.ScoredChunk{Chunk: c, Score: analyzer.CosineSimilarity(vector, s.vectors[id])})
	}
	return truncate(results, limit), nil
}

func (s *MemoryStore) SearchLexical(ctx context.Context, query string, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.statsLocked()
	scores := make(map[string]float64)
	for term := range s.tokenizer.TermSet(query) {
		postings := s.postings[term]
		idf := s.bm25.IDF(stats.TotalChunks, len(postings))
		for _, p := range postings {
			if !filter.Allows(s.chunks[p.ChunkID]) {
				continue
			}
			scores[p.ChunkID] += s.bm25.TermScore(idf, p.TF, s.lengths[p.ChunkID], stats.AvgChunkLen)
		}
	}

	results := make([]domain.ScoredChunk, 0, len(scores))
	for id, score := range scores {
		results = append(results, domain.ScoredChunk{Chunk: s.chunks[id], Score: score})
	}
	return truncate(results, limit), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked(), nil
}

func (s *MemoryStore) statsLocked() domain.Stats {
	stats := domain.Stats{TotalDocs: len(s.docs), TotalChunks: len(s.chunks)}
	if len(s.lengths) > 0 {
		total := 0
		for _, n := range s.lengths {
			total += n
		}
		stats.AvgChunkLen = float64(total) / float64(len(s.lengths))
	}
	return stats
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// truncate sorts by score descending, ties by chunk id, and keeps limit.
func truncate(results []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
