package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

const pgBackend = "postgres"

// PostgresOptions tunes a PostgresStore.
type PostgresOptions struct {
	MaxConns         int32
	QueryTimeout     time.Duration
	TextSearchConfig string
	Logger           *slog.Logger
}

// PostgresStore keeps chunks in Postgres with a pgvector column for the
// dense leg and a generated tsvector column for the sparse leg. The pool is
// shared by all requests.
type PostgresStore struct {
	pool         *pgxpool.Pool
	dimension    int
	queryTimeout time.Duration
	textConfig   string
	logger       *slog.Logger
}

var textConfigPattern = regexp.MustCompile(`^[a-z_]+$`)

// NewPostgresStore connects a bounded pool to dsn.
func NewPostgresStore(ctx context.Context, dsn string, dimension int, opts PostgresOptions) (*PostgresStore, error) {
	if dimension <= 0 {
		return nil, domain.ConfigError("vector dimension must be positive, got %d", dimension)
	}
	if opts.TextSearchConfig == "" {
		opts.TextSearchConfig = "english"
	}
	if !textConfigPattern.MatchString(opts.TextSearchConfig) {
		return nil, domain.ConfigError("invalid text search config %q", opts.TextSearchConfig)
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, domain.ConfigError("invalid postgres dsn: %v", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	s := &PostgresStore{
		pool:         pool,
		dimension:    dimension,
		queryTimeout: opts.QueryTimeout,
		textConfig:   opts.TextSearchConfig,
		logger:       opts.Logger.With("component", "postgres_store"),
	}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if needed and verifies that an existing
// embedding column has the configured dimension.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 4*s.queryTimeout)
	defer cancel()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL,
			source       TEXT NOT NULL,
			access_level INT NOT NULL DEFAULT 0,
			metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
			ingested_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id           TEXT PRIMARY KEY,
			doc_id       TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index  INT NOT NULL,
			content      TEXT NOT NULL,
			start_char   INT NOT NULL,
			end_char     INT NOT NULL,
			char_count   INT NOT NULL,
			word_count   INT NOT NULL,
			access_level INT NOT NULL DEFAULT 0,
			metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding    vector(%d) NOT NULL
		)`, s.dimension),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return s.classify("ensure schema", err)
		}
	}

	dim, err := s.embeddingDimension(ctx)
	if err != nil {
		return err
	}
	if dim != s.dimension {
		return domain.ConfigError("chunks.embedding has dimension %d, configured dimension is %d", dim, s.dimension)
	}

	hasTSV, err := s.columnExists(ctx, "chunks", "tsv")
	if err != nil {
		return err
	}
	if !hasTSV {
		stmt := fmt.Sprintf(`ALTER TABLE chunks ADD COLUMN tsv tsvector
			GENERATED ALWAYS AS (to_tsvector('%s', content)) STORED`, s.textConfig)
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return s.classify("add tsv column", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS chunks_doc_id_idx ON chunks (doc_id)`,
		`CREATE INDEX IF NOT EXISTS chunks_tsv_idx ON chunks USING GIN (tsv)`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range indexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return s.classify("create index", err)
		}
	}
	return nil
}

// embeddingDimension reads the declared dimension of chunks.embedding.
func (s *PostgresStore) embeddingDimension(ctx context.Context) (int, error) {
	var typ string
	err := s.pool.QueryRow(ctx, `
		SELECT format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		WHERE a.attrelid = 'chunks'::regclass AND a.attname = 'embedding' AND NOT a.attisdropped`).Scan(&typ)
	if err != nil {
		return 0, s.classify("read embedding type", err)
	}
	return parseVectorType(typ)
}

// parseVectorType extracts N from "vector(N)".
func parseVectorType(typ string) (int, error) {
	inner, ok := strings.CutPrefix(typ, "vector(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return 0, domain.ConfigError("chunks.embedding has unexpected type %q", typ)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(inner, ")"))
	if err != nil {
		return 0, domain.ConfigError("chunks.embedding has unexpected type %q", typ)
	}
	return n, nil
}

func (s *PostgresStore) columnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	if err != nil {
		return false, s.classify("check column", err)
	}
	return exists, nil
}

// buildAccessPredicate renders the access filter as a WHERE fragment whose
// placeholders start after argOffset.
func buildAccessPredicate(filter domain.AccessFilter, argOffset int) (string, []any) {
	clauses := []string{fmt.Sprintf("c.access_level <= $%d", argOffset+1)}
	args := []any{filter.MaxAccessLevel}
	if len(filter.DocIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("c.doc_id = ANY($%d)", argOffset+2))
		args = append(args, filter.DocIDs)
	}
	return strings.Join(clauses, " AND "), args
}

const chunkColumns = `c.id, c.doc_id, c.chunk_index, c.content, c.start_char, c.end_char,
	c.char_count, c.word_count, c.access_level, c.metadata`

func (s *PostgresStore) SearchVector(ctx context.Context, vector []float32, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error) {
	if len(vector) != s.dimension {
		return nil, domain.ConfigError("query vector has dimension %d, index expects %d", len(vector), s.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	where, args := buildAccessPredicate(filter, 2)
	query := fmt.Sprintf(`
		SELECT %s, 1 - (c.embedding <=> $1::vector) AS score
		FROM chunks c
		WHERE %s
		ORDER BY c.embedding <=> $1::vector, c.id
		LIMIT $2`, chunkColumns, where)

	return s.search(ctx, "vector search", query, append([]any{pgvector.NewVector(vector), limit}, args...))
}

func (s *PostgresStore) SearchLexical(ctx context.Context, text string, filter domain.AccessFilter, limit int) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return nil, nil
	}

	where, args := buildAccessPredicate(filter, 2)
	query := fmt.Sprintf(`
		SELECT %s, ts_rank(c.tsv, q) AS score
		FROM chunks c, plainto_tsquery('%s', $1) q
		WHERE c.tsv @@ q AND %s
		ORDER BY score DESC, c.id
		LIMIT $2`, chunkColumns, s.textConfig, where)

	return s.search(ctx, "lexical search", query, append([]any{text, limit}, args...))
}

func (s *PostgresStore) search(ctx context.Context, op, query string, args []any) ([]domain.ScoredChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer rows.Close()

	var results []domain.ScoredChunk
	for rows.Next() {
		var (
			c     domain.Chunk
			meta  []byte
			score float64
		)
		if err := rows.Scan(&c.ID, &c.DocID, &c.Index, &c.Content, &c.StartChar, &c.EndChar,
			&c.CharCount, &c.WordCount, &c.AccessLevel, &meta, &score); err != nil {
			return nil, s.classify(op, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("%s: decode metadata of %s: %w", op, c.ID, err)
			}
		}
		results = append(results, domain.ScoredChunk{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(op, err)
	}
	return results, nil
}

// PutDocument replaces a document and its chunks in one transaction.
func (s *PostgresStore) PutDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return domain.ConfigError("vector %d has dimension %d, index expects %d", i, len(v), s.dimension)
		}
	}

	docMeta, err := json.Marshal(nonNil(doc.Metadata))
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, doc.ID); err != nil {
			return s.classify("delete chunks", err)
		}
		ingested := doc.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (id, title, source, access_level, metadata, ingested_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, source = EXCLUDED.source,
				access_level = EXCLUDED.access_level, metadata = EXCLUDED.metadata,
				ingested_at = EXCLUDED.ingested_at`,
			doc.ID, doc.Title, doc.Source, doc.AccessLevel, docMeta, ingested)
		if err != nil {
			return s.classify("upsert document", err)
		}

		batch := &pgx.Batch{}
		for i, c := range chunks {
			meta, err := json.Marshal(nonNil(c.Metadata))
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO chunks (id, doc_id, chunk_index, content, start_char, end_char,
					char_count, word_count, access_level, metadata, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::vector)`,
				c.ID, c.DocID, c.Index, c.Content, c.StartChar, c.EndChar,
				c.CharCount, c.WordCount, c.AccessLevel, meta, pgvector.NewVector(vectors[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return s.classify("insert chunks", err)
		}
		return nil
	})
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, docID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID); err != nil {
		return s.classify("delete document", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (domain.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var stats domain.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM documents), count(*), COALESCE(avg(word_count), 0)
		FROM chunks`).Scan(&stats.TotalDocs, &stats.TotalChunks, &stats.AvgChunkLen)
	if err != nil {
		return domain.Stats{}, s.classify("stats", err)
	}
	return stats, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return s.classify("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// classify wraps err as a backend error. Connection-class SQLSTATEs and
// timeouts are transient.
func (s *PostgresStore) classify(op string, err error) error {
	be := domain.NewBackendError(pgBackend, op, err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 40: transaction rollback, 53: insufficient resources, 57P: operator intervention
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "40"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57P"):
			be.Transient = true
		}
	}
	if pgconn.Timeout(err) {
		be.Transient = true
	}
	return be
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
