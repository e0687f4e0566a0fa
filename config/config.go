package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mazi76erX2/vault-sub000/internal/domain"
)

// Config holds all configuration for the retrieval engine.
type Config struct {
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Datastore  DatastoreConfig  `yaml:"datastore"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Generation GenerationConfig `yaml:"generation"`
	Answer     AnswerConfig     `yaml:"answer"`
	Cache      CacheConfig      `yaml:"cache"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ChunkerConfig holds passage splitting configuration. Sizes are in characters.
type ChunkerConfig struct {
	Size          int `yaml:"size"`
	Overlap       int `yaml:"overlap"`
	MinSize       int `yaml:"min_size"`
	MaxSize       int `yaml:"max_size"`
	ContextWindow int `yaml:"context_window"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // "openai", "ollama", "mock"
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Dimension   int           `yaml:"dimension"`
	BatchSize   int           `yaml:"batch_size"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Workers     int           `yaml:"workers"`
}

// DatastoreConfig selects and tunes the vector + full-text index.
type DatastoreConfig struct {
	Driver           string        `yaml:"driver"` // "bolt", "postgres", "memory"
	Path             string        `yaml:"path"`
	DSNEnv           string        `yaml:"dsn_env"`
	MaxConns         int32         `yaml:"max_conns"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	TextSearchConfig string        `yaml:"text_search_config"`
}

// RetrieveConfig holds hybrid retrieval configuration.
type RetrieveConfig struct {
	TopK          int           `yaml:"top_k"`
	Oversample    int           `yaml:"oversample"`
	RRFK          int           `yaml:"rrf_k"`
	DenseTimeout  time.Duration `yaml:"dense_timeout"`
	SparseTimeout time.Duration `yaml:"sparse_timeout"`
}

// RerankConfig selects the reranker variant.
type RerankConfig struct {
	Kind      string        `yaml:"kind"`   // "none", "heuristic", "model"
	Scorer    string        `yaml:"scorer"` // "http", "judge"
	Endpoint  string        `yaml:"endpoint"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	Limit     int           `yaml:"limit"`
}

// GenerationConfig holds answer generator configuration.
type GenerationConfig struct {
	Provider    string        `yaml:"provider"` // "openai", "mock"
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// AnswerConfig holds orchestrator policy.
type AnswerConfig struct {
	Deadline           time.Duration `yaml:"deadline"`
	PreviewChars       int           `yaml:"preview_chars"`
	ContextTokenBudget int           `yaml:"context_token_budget"`
	NoResultsMessage   string        `yaml:"no_results_message"`
}

// CacheConfig configures the optional shared Redis embedding cache.
type CacheConfig struct {
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPasswordEnv string        `yaml:"redis_password_env"`
	RedisDB          int           `yaml:"redis_db"`
	TTL              time.Duration `yaml:"ttl"`
}

// IngestConfig holds directory ingestion configuration.
type IngestConfig struct {
	Includes    []string `yaml:"includes"`
	Excludes    []string `yaml:"excludes"`
	AccessLevel int      `yaml:"access_level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	GinMode           string        `yaml:"gin_mode"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultNoResultsMessage is returned when no passage matches a query.
const DefaultNoResultsMessage = "I could not find any information about that in the knowledge base."

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunker: ChunkerConfig{
			Size:          1000,
			Overlap:       150,
			MinSize:       200,
			MaxSize:       1500,
			ContextWindow: 1,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "text-embedding-3-small",
			APIKeyEnv:   "OPENAI_API_KEY",
			Dimension:   1536,
			BatchSize:   64,
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			CacheSize:   10000,
			CacheTTL:    time.Hour,
			Workers:     4,
		},
		Datastore: DatastoreConfig{
			Driver:           "bolt",
			Path:             filepath.Join(".vault", "index.db"),
			DSNEnv:           "VAULT_DATABASE_URL",
			MaxConns:         10,
			QueryTimeout:     5 * time.Second,
			TextSearchConfig: "english",
		},
		Retrieve: RetrieveConfig{
			TopK:          5,
			Oversample:    4,
			RRFK:          60,
			DenseTimeout:  5 * time.Second,
			SparseTimeout: 5 * time.Second,
		},
		Rerank: RerankConfig{
			Kind:    "none",
			Scorer:  "http",
			Timeout: 3 * time.Second,
			Limit:   5,
		},
		Generation: GenerationConfig{
			Provider:  "openai",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   30 * time.Second,
		},
		Answer: AnswerConfig{
			Deadline:           45 * time.Second,
			PreviewChars:       200,
			ContextTokenBudget: 3000,
			NoResultsMessage:   DefaultNoResultsMessage,
		},
		Cache: CacheConfig{
			RedisPasswordEnv: "VAULT_REDIS_PASSWORD",
			TTL:              24 * time.Hour,
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.md", "**/*.txt", "**/*.rst", "**/*.html", "**/*.pdf"},
			Excludes: []string{"**/.git/**", "**/node_modules/**", "**/.vault/**"},
		},
		Server: ServerConfig{
			Addr:              ":8080",
			GinMode:           "release",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for vault.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "vault.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".vault", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var (
	knownEmbeddingProviders  = map[string]bool{"openai": true, "ollama": true, "mock": true}
	knownDrivers             = map[string]bool{"bolt": true, "postgres": true, "memory": true}
	knownRerankers           = map[string]bool{"none": true, "heuristic": true, "model": true}
	knownScorers             = map[string]bool{"http": true, "judge": true}
	knownGenerationProviders = map[string]bool{"openai": true, "mock": true}
)

// Validate checks the configuration. Every returned error wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error

	ch := c.Chunker
	if ch.Size <= 0 {
		errs = append(errs, domain.ConfigError("chunker.size must be positive, got %d", ch.Size))
	}
	if ch.MinSize < 0 || ch.MinSize > ch.Size {
		errs = append(errs, domain.ConfigError("chunker.min_size must be within [0, size], got %d", ch.MinSize))
	}
	if ch.MaxSize < ch.Size {
		errs = append(errs, domain.ConfigError("chunker.max_size (%d) must be >= size (%d)", ch.MaxSize, ch.Size))
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.Size {
		errs = append(errs, domain.ConfigError("chunker.overlap must be within [0, size), got %d", ch.Overlap))
	}
	if ch.ContextWindow < 0 {
		errs = append(errs, domain.ConfigError("chunker.context_window must not be negative"))
	}

	if !knownEmbeddingProviders[c.Embedding.Provider] {
		errs = append(errs, domain.ConfigError("unsupported embedding provider: %s", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, domain.ConfigError("embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.MaxAttempts <= 0 {
		errs = append(errs, domain.ConfigError("embedding.max_attempts must be positive"))
	}

	if !knownDrivers[c.Datastore.Driver] {
		errs = append(errs, domain.ConfigError("unsupported datastore driver: %s", c.Datastore.Driver))
	}

	if c.Retrieve.TopK <= 0 {
		errs = append(errs, domain.ConfigError("retrieve.top_k must be positive"))
	}
	if c.Retrieve.Oversample < 1 {
		errs = append(errs, domain.ConfigError("retrieve.oversample must be >= 1, got %d", c.Retrieve.Oversample))
	}
	if c.Retrieve.RRFK <= 0 {
		errs = append(errs, domain.ConfigError("retrieve.rrf_k must be positive, got %d", c.Retrieve.RRFK))
	}

	if !knownRerankers[c.Rerank.Kind] {
		errs = append(errs, domain.ConfigError("unsupported reranker kind: %s", c.Rerank.Kind))
	}
	if c.Rerank.Kind == "model" && !knownScorers[c.Rerank.Scorer] {
		errs = append(errs, domain.ConfigError("unsupported rerank scorer: %s", c.Rerank.Scorer))
	}
	if c.Rerank.Kind == "model" && c.Rerank.Scorer == "http" && c.Rerank.Endpoint == "" {
		errs = append(errs, domain.ConfigError("rerank.endpoint is required for the http scorer"))
	}

	if !knownGenerationProviders[c.Generation.Provider] {
		errs = append(errs, domain.ConfigError("unsupported generation provider: %s", c.Generation.Provider))
	}

	if c.Answer.Deadline <= 0 {
		errs = append(errs, domain.ConfigError("answer.deadline must be positive"))
	}

	return errors.Join(errs...)
}

// IndexHash computes a hash of index-relevant configuration.
// Changes to this hash indicate the index should be rebuilt.
func IndexHash(cfg *Config) string {
	relevant := struct {
		Size          int    `json:"size"`
		Overlap       int    `json:"overlap"`
		MinSize       int    `json:"min_size"`
		MaxSize       int    `json:"max_size"`
		ContextWindow int    `json:"context_window"`
		Provider      string `json:"provider"`
		Model         string `json:"model"`
		Dimension     int    `json:"dimension"`
	}{
		Size:          cfg.Chunker.Size,
		Overlap:       cfg.Chunker.Overlap,
		MinSize:       cfg.Chunker.MinSize,
		MaxSize:       cfg.Chunker.MaxSize,
		ContextWindow: cfg.Chunker.ContextWindow,
		Provider:      cfg.Embedding.Provider,
		Model:         cfg.Embedding.Model,
		Dimension:     cfg.Embedding.Dimension,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// IndexDBPath resolves the bolt index path relative to dir.
func IndexDBPath(dir string, cfg *Config) string {
	if filepath.IsAbs(cfg.Datastore.Path) {
		return cfg.Datastore.Path
	}
	return filepath.Join(dir, cfg.Datastore.Path)
}

// EnsureDataDir ensures the directory holding the bolt index exists.
func EnsureDataDir(dir string, cfg *Config) error {
	return os.MkdirAll(filepath.Dir(IndexDBPath(dir, cfg)), 0755)
}
