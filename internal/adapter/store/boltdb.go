package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/analyzer"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketTerms     = []byte("terms")
	bucketVectors   = []byte("vectors")
	bucketDocChunks = []byte("doc_chunks")
	bucketMeta      = []byte("meta")
)

var allBuckets = [][]byte{bucketDocs, bucketChunks, bucketTerms, bucketVectors, bucketDocChunks, bucketMeta}

// BoltStore is a single-file datastore holding documents, chunks, a term
// posting index and chunk vectors.
//
// A compact in-memory index (vector, doc, access level, length per chunk) is
// loaded on open so both legs can apply the access filter before scoring.
type BoltStore struct {
	db        *bbolt.DB
	dimension int
	tokenizer *analyzer.Tokenizer
	bm25      analyzer.BM25
	logger    *slog.Logger

	mu    sync.RWMutex
	index map[string]indexEntry
}

type indexEntry struct {
	docID       string
	index       int
	accessLevel int
	length      int
	vector      []float32
}

type docRecord struct {
	Title       string            `json:"title"`
	Source      string            `json:"source"`
	AccessLevel int               `json:"access_level"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IngestedAt  int64             `json:"ingested_at"`
}

type chunkRecord struct {
	domain.Chunk
	Terms  []string `json:"terms"`
	Length int      `json:"length"`
}

type storedVector struct {
	Vector []float32 `json:"v"`
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithBoltLogger sets the logger used when loading the index skips corrupt records.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(s *BoltStore) { s.logger = logger.With("component", "bolt_store") }
}

// WithBM25 overrides the lexical scoring parameters.
func WithBM25(p analyzer.BM25) BoltOption {
	return func(s *BoltStore) { s.bm25 = p }
}

// NewBoltStore opens or creates the database at path for vectors of the
// given dimension. A database built for another dimension is rejected.
func NewBoltStore(path string, dimension int, opts ...BoltOption) (*BoltStore, error) {
	if dimension <= 0 {
		return nil, domain.ConfigError("vector dimension must be positive, got %d", dimension)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{
		db:        db,
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(),
		bm25:      analyzer.DefaultBM25(),
		logger:    slog.Default().With("component", "bolt_store"),
		index:     make(map[string]indexEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.checkDimension(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	return s, nil
}

func (s *BoltStore) checkDimension() error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}
	if info.Dimension != 0 && info.Dimension != s.dimension {
		return domain.ConfigError("index was built with dimension %d, configured dimension is %d", info.Dimension, s.dimension)
	}
	return nil
}

// loadIndex reads chunk attributes and vectors into memory.
func (s *BoltStore) loadIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(tx *bbolt.Tx) error {
		vectors := tx.Bucket(bucketVectors)
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			var rec chunkRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("skipping corrupted chunk record", "chunk_id", string(k), "err", err)
				return nil
			}
			entry := indexEntry{
				docID:       rec.DocID,
				index:       rec.Index,
				accessLevel: rec.AccessLevel,
				length:      rec.Length,
			}
			if data := vectors.Get(k); data != nil {
				var sv storedVector
				if err := json.Unmarshal(data, &sv); err == nil {
					entry.vector = sv.Vector
				}
			}
			s.index[string(k)] = entry
			return nil
		})
	})
}

// PutDocument stores doc with its chunks and vectors, replacing any chunks
// previously stored for the same document, in one transaction.
func (s *BoltStore) PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
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

	added := make(map[string]indexEntry, len(chunks))
	var removed []string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		removed, err = s.deleteDocTx(tx, doc.ID)
		if err != nil {
			return err
		}

		meta := docRecord{
			Title:       doc.Title,
			Source:      doc.Source,
			AccessLevel: doc.AccessLevel,
			Metadata:    doc.Metadata,
			IngestedAt:  doc.IngestedAt.Unix(),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}

		chunksBucket := tx.Bucket(bucketChunks)
		vectorsBucket := tx.Bucket(bucketVectors)
		postings := make(map[string][]domain.Posting)
		chunkIDs := make([]string, 0, len(chunks))

		for i, chunk := range chunks {
			tf, length := s.tokenizer.TermFrequencies(chunk.Content)
			terms := make([]string, 0, len(tf))
			for term, n := range tf {
				terms = append(terms, term)
				postings[term] = append(postings[term], domain.Posting{ChunkID: chunk.ID, TF: n})
			}

			data, err := json.Marshal(chunkRecord{Chunk: chunk, Terms: terms, Length: length})
			if err != nil {
				return err
			}
			if err := chunksBucket.Put([]byte(chunk.ID), data); err != nil {
				return err
			}

			vdata, err := json.Marshal(storedVector{Vector: vectors[i]})
			if err != nil {
				return err
			}
			if err := vectorsBucket.Put([]byte(chunk.ID), vdata); err != nil {
				return err
			}

			chunkIDs = append(chunkIDs, chunk.ID)
			added[chunk.ID] = indexEntry{
				docID:       chunk.DocID,
				index:       chunk.Index,
				accessLevel: chunk.AccessLevel,
				length:      length,
				vector:      vectors[i],
			}
		}

		idsData, err := json.Marshal(chunkIDs)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocChunks).Put([]byte(doc.ID), idsData); err != nil {
			return err
		}

		termsBucket := tx.Bucket(bucketTerms)
		for term, newPostings := range postings {
			var existing []domain.Posting
			if data := termsBucket.Get([]byte(term)); data != nil {
				if err := json.Unmarshal(data, &existing); err != nil {
					return fmt.Errorf("corrupted postings for %q: %w", term, err)
				}
			}
			existing = append(existing, newPostings...)
			data, err := json.Marshal(existing)
			if err != nil {
				return err
			}
			if err := termsBucket.Put([]byte(term), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.ID, err)
	}

	for _, id := range removed {
		delete(s.index, id)
	}
	for id, entry := range added {
		s.index[id] = entry
	}
	return nil
}

// DeleteDocument removes doc and all its chunks.
func (s *BoltStore) DeleteDocument(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		removed, err = s.deleteDocTx(tx, docID)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Delete([]byte(docID))
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	for _, id := range removed {
		delete(s.index, id)
	}
	return nil
}

// deleteDocTx removes the chunks, vectors and postings of a document and
// returns the removed chunk ids.
func (s *BoltStore) deleteDocTx(tx *bbolt.Tx, docID string) ([]string, error) {
	docChunks := tx.Bucket(bucketDocChunks)
	data := docChunks.Get([]byte(docID))
	if data == nil {
		return nil, nil
	}

	var chunkIDs []string
	if err := json.Unmarshal(data, &chunkIDs); err != nil {
		return nil, err
	}

	chunksBucket := tx.Bucket(bucketChunks)
	vectorsBucket := tx.Bucket(bucketVectors)
	termsBucket := tx.Bucket(bucketTerms)

	gone := make(map[string]struct{}, len(chunkIDs))
	terms := make(map[string]struct{})
	for _, id := range chunkIDs {
		gone[id] = struct{}{}
		if raw := chunksBucket.Get([]byte(id)); raw != nil {
			var rec chunkRecord
			if err := json.Unmarshal(raw, &rec); err == nil {
				for _, t := range rec.Terms {
					terms[t] = struct{}{}
				}
			}
		}
		if err := chunksBucket.Delete([]byte(id)); err != nil {
			return nil, err
		}
		if err := vectorsBucket.Delete([]byte(id)); err != nil {
			return nil, err
		}
	}

	for term := range terms {
		raw := termsBucket.Get([]byte(term))
		if raw == nil {
			continue
		}
		var postings []domain.Posting
		if err := json.Unmarshal(raw, &postings); err != nil {
			continue
		}
		filtered := postings[:0]
		for _, p := range postings {
			if _, drop := gone[p.ChunkID]; !drop {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			if err := termsBucket.Delete([]byte(term)); err != nil {
				return nil, err
			}
			continue
		}
		out, err := json.Marshal(filtered)
		if err != nil {
			return nil, err
		}
		if err := termsBucket.Put([]byte(term), out); err != nil {
			return nil, err
		}
	}

	return chunkIDs, docChunks.Delete([]byte(docID))
}

// GetDoc returns a stored document.
func (s *BoltStore) GetDoc(id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document not found: %s", id)
		}
		var meta docRecord
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		doc = domain.Document{
			ID:          id,
			Title:       meta.Title,
			Source:      meta.Source,
			AccessLevel: meta.AccessLevel,
			Metadata:    meta.Metadata,
			IngestedAt:  time.Unix(meta.IngestedAt, 0),
		}
		return nil
	})
	return doc, err
}

// GetChunksByDoc returns a document's chunks in index order.
func (s *BoltStore) GetChunksByDoc(docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocChunks).Get([]byte(docID))
		if data == nil {
			return nil
		}
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		for _, id := range ids {
			chunk, err := getChunkTx(tx, id)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

func getChunkTx(tx *bbolt.Tx, id string) (domain.Chunk, error) {
	data := tx.Bucket(bucketChunks).Get([]byte(id))
	if data == nil {
		return domain.Chunk{}, fmt.Errorf("chunk not found: %s", id)
	}
	var rec chunkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Chunk{}, err
	}
	return rec.Chunk, nil
}

// Stats summarises the stored corpus.
func (s *BoltStore) Stats(ctx context.Context) (domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked(), nil
}

func (s *BoltStore) statsLocked() domain.Stats {
	docs := make(map[string]struct{})
	total := 0
	for _, e := range s.index {
		docs[e.docID] = struct{}{}
		total += e.length
	}
	stats := domain.Stats{TotalDocs: len(docs), TotalChunks: len(s.index)}
	if len(s.index) > 0 {
		stats.AvgChunkLen = float64(total) / float64(len(s.index))
	}
	return stats
}

func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketChunks) == nil {
			return fmt.Errorf("chunks bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
