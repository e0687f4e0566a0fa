package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

type scored struct {
	id    string
	score float64
}

// SearchVector returns up to limit visible chunks by ascending cosine
// distance. Score is the cosine similarity.
func (s *BoltStore) SearchVector(ctx context.Context, vector []float32, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error) {
	if len(vector) != s.dimension {
		return nil, domain.ConfigError("query vector has dimension %d, index expects %d", len(vector), s.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	allowDoc := docSet(filter)

	// held through materialize so a concurrent replace cannot drop a scored chunk
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]scored, 0, len(s.index))
	n := 0
	for id, e := range s.index {
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !visible(e, filter, allowDoc) || e.vector == nil {
			continue
		}
		hits = append(hits, scored{id: id, score: analyzer.CosineSimilarity(vector, e.vector)})
	}

	return s.materialize(ctx, topN(hits, limit))
}

// SearchLexical returns up to limit visible chunks ranked by BM25.
func (s *BoltStore) SearchLexical(ctx context.Context, query string, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error) {
	terms := s.tokenizer.TermSet(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allowDoc := docSet(filter)
	scores := make(map[string]float64)

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.statsLocked()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTerms)
		for term := range terms {
			data := b.Get([]byte(term))
			if data == nil {
				continue
			}
			var postings []domain.Posting
			if err := json.Unmarshal(data, &postings); err != nil {
				return fmt.Errorf("corrupted postings for %q: %w", term, err)
			}

			idf := s.bm25.IDF(stats.TotalChunks, len(postings))
			for _, p := range postings {
				e, ok := s.index[p.ChunkID]
				if !ok || !visible(e, filter, allowDoc) {
					continue
				}
				scores[p.ChunkID] += s.bm25.TermScore(idf, p.TF, e.length, stats.AvgChunkLen)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	hits := make([]scored, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, scored{id: id, score: score})
	}
	return s.materialize(ctx, topN(hits, limit))
}

// materialize loads the chunks of hits. Callers hold s.mu.
func (s *BoltStore) materialize(ctx context.Context, hits []scored) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]domain.ScoredChunk, 0, len(hits))
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, h := range hits {
			chunk, err := getChunkTx(tx, h.id)
			if err != nil {
				return err
			}
			results = append(results, domain.ScoredChunk{Chunk: chunk, Score: h.score})
		}
		return nil
	})
	return results, err
}

// topN keeps the n best hits, highest score first, ties by id.
func topN(hits []scored, n int) []scored {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

func docSet(filter domain.AccessFilter) map[string]struct{} {
	if len(filter.DocIDs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(filter.DocIDs))
	for _, id := range filter.DocIDs {
		set[id] = struct{}{}
	}
	return set
}

func visible(e indexEntry, filter domain.AccessFilter, allowDoc map[string]struct{}) bool {
	if e.accessLevel > filter.MaxAccessLevel {
		return false
	}
	if allowDoc == nil {
		return true
	}
	_, ok := allowDoc[e.docID]
	return ok
}
