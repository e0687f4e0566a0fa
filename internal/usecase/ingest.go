package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mazi76erX2/vault-sub000/internal/adapter/fs"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/port"
)

// IngestUseCase chunks, embeds and stores documents.
type IngestUseCase struct {
	store         port.Datastore
	chunker       port.Chunker
	embedder      port.Embedder
	pool          *ants.Pool
	batchSize     int
	contextWindow int
	accessLevel   int
	now           func() time.Time
	logger        *slog.Logger
}

// IngestOption configures an IngestUseCase.
type IngestOption func(*IngestUseCase) error

// WithPoolSize sets how many embedding batches run concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) IngestOption {
	return func(u *IngestUseCase) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if u.pool != nil {
			u.pool.Release()
		}
		u.pool = pool
		return nil
	}
}

// WithBatchSize sets the number of chunks per embedding request.
func WithBatchSize(n int) IngestOption {
	return func(u *IngestUseCase) error {
		if n < 1 {
			return domain.ConfigError("batch size must be positive, got %d", n)
		}
		u.batchSize = n
		return nil
	}
}

// WithContextWindow sets how many neighbouring chunks are embedded with each chunk.
func WithContextWindow(n int) IngestOption {
	return func(u *IngestUseCase) error {
		if n < 0 {
			return domain.ConfigError("context window must be >= 0, got %d", n)
		}
		u.contextWindow = n
		return nil
	}
}

// WithDefaultAccessLevel sets the access level of files ingested by IngestDir.
func WithDefaultAccessLevel(level int) IngestOption {
	return func(u *IngestUseCase) error {
		u.accessLevel = level
		return nil
	}
}

// WithIngestLogger sets the logger for per-document ingestion events.
func WithIngestLogger(logger *slog.Logger) IngestOption {
	return func(u *IngestUseCase) error {
		if logger == nil {
			logger = slog.Default()
		}
		u.logger = logger.With("component", "ingest")
		return nil
	}
}

// NewIngestUseCase creates an ingest use case. Call Release when done.
func NewIngestUseCase(store port.Datastore, chunker port.Chunker, embedder port.Embedder, opts ...IngestOption) (*IngestUseCase, error) {
	if store == nil {
		return nil, ErrDatastoreRequired
	}
	if chunker == nil {
		return nil, ErrChunkerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	u := &IngestUseCase{
		store:         store,
		chunker:       chunker,
		embedder:      embedder,
		batchSize:     64,
		contextWindow: 1,
		now:           time.Now,
		logger:        slog.Default().With("component", "ingest"),
	}

	for _, opt := range opts {
		if err := opt(u); err != nil {
			u.Release()
			return nil, err
		}
	}

	if u.pool == nil {
		size := runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return nil, err
		}
		u.pool = pool
	}
	return u, nil
}

// Release stops the embedding worker pool.
func (u *IngestUseCase) Release() {
	if u.pool != nil {
		u.pool.Release()
	}
}

// IngestRequest is one document to index.
type IngestRequest struct {
	RawText     string
	Title       string
	Source      string
	AccessLevel int
	Metadata    map[string]string
}

// IngestResult describes one indexed document.
type IngestResult struct {
	DocID    string
	Chunks   int
	Duration time.Duration
}

// Ingest indexes a document, replacing any earlier version with the same source.
func (u *IngestUseCase) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()

	if strings.TrimSpace(req.RawText) == "" {
		return nil, ErrEmptyDocument
	}
	key := req.Source
	if key == "" {
		key = req.Title
	}
	if key == "" {
		return nil, ErrSourceRequired
	}

	doc := domain.Document{
		ID:          generateDocID(key),
		Title:       req.Title,
		Source:      req.Source,
		AccessLevel: req.AccessLevel,
		Metadata:    req.Metadata,
		IngestedAt:  u.now().UTC(),
	}

	chunks, err := u.chunker.ChunkWithContext(doc, req.RawText, u.contextWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk content: %w", err)
	}

	vectors, err := u.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	plain := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		plain[i] = c.Chunk
	}
	if err := u.store.PutDocument(ctx, doc, plain, vectors); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	res := &IngestResult{DocID: doc.ID, Chunks: len(plain), Duration: time.Since(start)}
	u.logger.Info("document ingested",
		"doc_id", doc.ID,
		"source", doc.Source,
		"chunks", res.Chunks,
		"duration_ms", domain.DurationMS(res.Duration),
	)
	return res, nil
}

// embedChunks embeds the context text of every chunk, batchSize chunks per
// request, with batches running on the worker pool.
func (u *IngestUseCase) embedChunks(ctx context.Context, chunks []domain.ContextChunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for start := 0; start < len(chunks); start += u.batchSize {
		end := min(start+u.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.ContentWithContext)
		}

		wg.Add(1)
		offset := start
		err := u.pool.Submit(func() {
			defer wg.Done()
			vecs, err := u.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				fail(fmt.Errorf("batch at chunk %d: %w", offset, err))
				return
			}
			copy(vectors[offset:], vecs)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit batch at chunk %d: %w", offset, err))
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return vectors, nil
}

// IngestDirResult summarises a directory ingestion.
type IngestDirResult struct {
	FilesIngested int
	FilesSkipped  int
	ChunksCreated int
	Errors        []string
}

// IngestDir ingests every file the walker selects under root. Per-file
// failures are collected rather than aborting the run. progress, if set, is
// called once per file after it has been handled.
func (u *IngestUseCase) IngestDir(ctx context.Context, root string, walker *fs.Walker, progress func(processed, total int, path string)) (*IngestDirResult, error) {
	files, err := walker.Walk(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result := &IngestDirResult{}
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		u.ingestFile(ctx, file, result)
		if progress != nil {
			progress(i+1, len(files), file.RelPath)
		}
	}

	return result, nil
}

func (u *IngestUseCase) ingestFile(ctx context.Context, file fs.FileInfo, result *IngestDirResult) {
	doc, err := fs.ReadDocument(file.Path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to read %s: %v", file.RelPath, err))
		return
	}

	res, err := u.Ingest(ctx, IngestRequest{
		RawText:     doc.Content,
		Title:       doc.Title,
		Source:      file.RelPath,
		AccessLevel: u.accessLevel,
		Metadata: map[string]string{
			"format":   doc.Format,
			"mod_time": time.Unix(file.ModTime, 0).UTC().Format(time.RFC3339),
		},
	})
	if errors.Is(err, ErrEmptyDocument) {
		result.FilesSkipped++
		return
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to index %s: %v", file.RelPath, err))
		return
	}
	result.FilesIngested++
	result.ChunksCreated += res.Chunks
}

// generateDocID derives a stable document ID from its source.
func generateDocID(source string) string {
	hash := sha256.Sum256([]byte(source))
	return hex.EncodeToString(hash[:8])
}
