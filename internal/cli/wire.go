package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/mazi76erX2/vault-sub000/config"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/cache"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/chunker"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/embedding"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/llm"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/memstore"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/mock"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/reranker"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/retriever"
	"github.com/mazi76erX2/vault-sub000/internal/adapter/store"
	"github.com/mazi76erX2/vault-sub000/internal/domain"
	"github.com/mazi76erX2/vault-sub000/internal/port"
	"github.com/mazi76erX2/vault-sub000/internal/retry"
	"github.com/mazi76erX2/vault-sub000/internal/usecase"
)

// App holds the constructed components of one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    port.Datastore
	Bolt     *store.BoltStore
	Embedder *embedding.Client
	Engine   *retriever.HybridEngine
	Ingest   *usecase.IngestUseCase
	Answer   *usecase.AnswerUseCase

	redis *redisv9.Client
}

// newApp wires every component from configuration. The generator and
// reranker are only built when withAnswer is set.
func newApp(ctx context.Context, cfg *config.Config, dir string, withAnswer bool) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	if app.Logger == nil {
		app.Logger = slog.Default()
	}

	var err error
	if app.Store, err = app.openDatastore(ctx, dir); err != nil {
		return nil, err
	}

	if app.Embedder, err = app.newEmbedder(ctx); err != nil {
		app.Close()
		return nil, err
	}

	ch, err := chunker.NewRecursiveChunker(chunker.Options{
		Size:    cfg.Chunker.Size,
		Overlap: cfg.Chunker.Overlap,
		MinSize: cfg.Chunker.MinSize,
		MaxSize: cfg.Chunker.MaxSize,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Ingest, err = usecase.NewIngestUseCase(app.Store, ch, app.Embedder,
		usecase.WithPoolSize(cfg.Embedding.Workers),
		usecase.WithBatchSize(cfg.Embedding.BatchSize),
		usecase.WithContextWindow(cfg.Chunker.ContextWindow),
		usecase.WithDefaultAccessLevel(cfg.Ingest.AccessLevel),
		usecase.WithIngestLogger(app.Logger),
	)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Engine, err = retriever.NewHybridEngine(app.Store, app.Store, retriever.Options{
		TopK:          cfg.Retrieve.TopK,
		Oversample:    cfg.Retrieve.Oversample,
		RRFK:          cfg.Retrieve.RRFK,
		DenseTimeout:  cfg.Retrieve.DenseTimeout,
		SparseTimeout: cfg.Retrieve.SparseTimeout,
		Retry:         app.retryPolicy(),
	}, retriever.WithEmbedder(app.Embedder), retriever.WithLogger(app.Logger))
	if err != nil {
		app.Close()
		return nil, err
	}

	if !withAnswer {
		return app, nil
	}

	gen, err := app.newGenerator()
	if err != nil {
		app.Close()
		return nil, err
	}
	rr, err := app.newReranker(gen)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Answer, err = usecase.NewAnswerUseCase(app.Engine, gen, usecase.AnswerOptions{
		TopK:               cfg.Retrieve.TopK,
		RerankLimit:        cfg.Rerank.Limit,
		Deadline:           cfg.Answer.Deadline,
		PreviewChars:       cfg.Answer.PreviewChars,
		ContextTokenBudget: cfg.Answer.ContextTokenBudget,
		NoResultsMessage:   cfg.Answer.NoResultsMessage,
	}, usecase.WithReranker(rr), usecase.WithAnswerLogger(app.Logger))
	if err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close releases the worker pool, the datastore and the redis client.
func (a *App) Close() error {
	var errs []error
	if a.Ingest != nil {
		a.Ingest.Release()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close datastore: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: a.Config.Embedding.MaxAttempts,
		BaseDelay:   a.Config.Embedding.BaseDelay,
		MaxDelay:    a.Config.Embedding.MaxDelay,
	}
}

func (a *App) openDatastore(ctx context.Context, dir string) (port.Datastore, error) {
	cfg := a.Config
	dim := cfg.Embedding.Dimension

	switch cfg.Datastore.Driver {
	case "memory":
		return memstore.NewMemoryStore(dim), nil

	case "postgres":
		dsn := os.Getenv(cfg.Datastore.DSNEnv)
		if dsn == "" {
			return nil, domain.ConfigError("environment variable %s is not set", cfg.Datastore.DSNEnv)
		}
		pg, err := store.NewPostgresStore(ctx, dsn, dim, store.PostgresOptions{
			MaxConns:         cfg.Datastore.MaxConns,
			QueryTimeout:     cfg.Datastore.QueryTimeout,
			TextSearchConfig: cfg.Datastore.TextSearchConfig,
			Logger:           a.Logger,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil

	default:
		if err := config.EnsureDataDir(dir, cfg); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		bolt, err := store.NewBoltStore(config.IndexDBPath(dir, cfg), dim, store.WithBoltLogger(a.Logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open index store: %w", err)
		}

		migration, err := bolt.CheckMigration(cfg)
		if err != nil {
			bolt.Close()
			return nil, fmt.Errorf("failed to check migration: %w", err)
		}
		switch {
		case migration.NeedsRebuild:
			a.Logger.Warn("index rebuild required, clearing index", "reason", migration.Reason)
			if err := bolt.Clear(); err != nil {
				bolt.Close()
				return nil, fmt.Errorf("failed to clear index: %w", err)
			}
		case migration.NeedsMigration:
			a.Logger.Info("running schema migration", "reason", migration.Reason)
			if err := bolt.Migrate(cfg); err != nil {
				bolt.Close()
				return nil, fmt.Errorf("migration failed: %w", err)
			}
		}
		a.Bolt = bolt
		return bolt, nil
	}
}

func (a *App) newEmbedder(ctx context.Context) (*embedding.Client, error) {
	ec := a.Config.Embedding
	httpClient := &http.Client{}

	var backend port.EmbeddingBackend
	switch ec.Provider {
	case "openai":
		b, err := embedding.NewOpenAIBackend(ec.APIKeyEnv, ec.Model, ec.BaseURL, httpClient)
		if err != nil {
			return nil, err
		}
		backend = b
	case "ollama":
		backend = embedding.NewOllamaBackend(ec.Model, ec.BaseURL, httpClient)
	case "mock":
		backend = mock.NewEmbeddingBackend(ec.Dimension)
	default:
		return nil, domain.ConfigError("unsupported embedding provider %q", ec.Provider)
	}

	var vc port.VectorCache = cache.NewEmbeddingCache(ec.CacheSize, ec.CacheTTL)
	if cc := a.Config.Cache; cc.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cc.RedisAddr, os.Getenv(cc.RedisPasswordEnv), cc.RedisDB)
		if err != nil {
			a.Logger.Warn("shared embedding cache unavailable, using local cache only", "addr", cc.RedisAddr, "err", err)
		} else {
			a.redis = client
			vc = cache.NewTiered(vc, cache.NewRedisCache(client, "vault:", cc.TTL, a.Logger))
		}
	}

	return embedding.NewClient(backend, ec.Dimension,
		embedding.WithCache(vc),
		embedding.WithRetryPolicy(a.retryPolicy()),
		embedding.WithCallTimeout(ec.Timeout),
		embedding.WithBatchSize(ec.BatchSize),
		embedding.WithLogger(a.Logger),
	)
}

func (a *App) newGenerator() (port.Generator, error) {
	gc := a.Config.Generation
	switch gc.Provider {
	case "mock":
		return mock.NewGenerator(), nil
	case "openai":
		return llm.NewOpenAIGenerator(llm.OpenAIConfig{
			BaseURL:     gc.BaseURL,
			Model:       gc.Model,
			APIKeyEnv:   gc.APIKeyEnv,
			Temperature: gc.Temperature,
			Timeout:     gc.Timeout,
		})
	default:
		return nil, domain.ConfigError("unsupported generation provider %q", gc.Provider)
	}
}

func (a *App) newReranker(gen port.Generator) (port.Reranker, error) {
	rc := a.Config.Rerank

	var scorer port.Scorer
	if rc.Kind == reranker.KindModel {
		var err error
		switch rc.Scorer {
		case "judge":
			scorer, err = reranker.NewJudgeScorer(gen)
		default:
			scorer, err = reranker.NewHTTPScorer(rc.Endpoint, rc.APIKeyEnv, rc.Model, &http.Client{})
		}
		if err != nil {
			return nil, err
		}
	}

	return reranker.New(rc.Kind, scorer, reranker.WithTimeout(rc.Timeout), reranker.WithLogger(a.Logger))
}
