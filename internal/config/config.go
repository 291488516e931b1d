// Package config loads coderecall configuration from defaults, YAML files
// and CODERECALL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full coderecall configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	DataDir     string            `yaml:"data_dir" json:"data_dir"`
	Embedding   EmbeddingConfig   `yaml:"embedding" json:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store" json:"vector_store"`
	State       StateConfig       `yaml:"state" json:"state"`
	Indexing    IndexingConfig    `yaml:"indexing" json:"indexing"`
	Lock        LockConfig        `yaml:"lock" json:"lock"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Health      HealthConfig      `yaml:"health" json:"health"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Tracing     TracingConfig     `yaml:"tracing" json:"tracing"`
	Watch       WatchConfig       `yaml:"watch" json:"watch"`
}

// EmbeddingConfig describes the embedding provider and its budgets.
type EmbeddingConfig struct {
	// Provider is one of ollama, openai, static or none.
	// none indexes with flagged fallback vectors only.
	Provider          string        `yaml:"provider" json:"provider"`
	Model             string        `yaml:"model" json:"model"`
	Endpoint          string        `yaml:"endpoint" json:"endpoint"`
	APIKeyEnv         string        `yaml:"api_key_env" json:"api_key_env"`
	Dimensions        int           `yaml:"dimensions" json:"dimensions"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	MaxBatchTokens    int           `yaml:"max_batch_tokens" json:"max_batch_tokens"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	TokensPerMinute   int           `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	MaxWait           time.Duration `yaml:"max_wait" json:"max_wait"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff" json:"max_backoff"`
	CacheSize         int           `yaml:"cache_size" json:"cache_size"`
	BreakerFailures   int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset      time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// APIKey resolves the provider credential from the configured env var.
func (e EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// VectorStoreConfig selects and tunes the vector store backend.
type VectorStoreConfig struct {
	// Backend is one of memory, hnsw, sqlite or qdrant.
	Backend           string        `yaml:"backend" json:"backend"`
	Collection        string        `yaml:"collection" json:"collection"`
	Path              string        `yaml:"path" json:"path"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	UpsertBatchSize   int           `yaml:"upsert_batch_size" json:"upsert_batch_size"`
	UpsertConcurrency int           `yaml:"upsert_concurrency" json:"upsert_concurrency"`
	Qdrant            QdrantConfig  `yaml:"qdrant" json:"qdrant"`
}

// QdrantConfig holds Qdrant gRPC connection parameters.
type QdrantConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	UseTLS    bool   `yaml:"use_tls" json:"use_tls"`
}

// APIKey resolves the Qdrant credential from the configured env var.
func (q QdrantConfig) APIKey() string {
	if q.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(q.APIKeyEnv)
}

// StateConfig selects the repo state store.
type StateConfig struct {
	// Backend is sqlite or file.
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// IndexingConfig controls scanning, chunking and run limits.
type IndexingConfig struct {
	MaxFileSize      int64         `yaml:"max_file_size" json:"max_file_size"`
	WindowLines      int           `yaml:"window_lines" json:"window_lines"`
	OverlapLines     int           `yaml:"overlap_lines" json:"overlap_lines"`
	RunTimeout       time.Duration `yaml:"run_timeout" json:"run_timeout"`
	Workers          int           `yaml:"workers" json:"workers"`
	Exclude          []string      `yaml:"exclude" json:"exclude"`
	RespectGitignore bool          `yaml:"respect_gitignore" json:"respect_gitignore"`
}

// LockConfig selects the cross-process run lock.
type LockConfig struct {
	// Backend is none, file or redis.
	Backend          string        `yaml:"backend" json:"backend"`
	RedisAddr        string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPasswordEnv string        `yaml:"redis_password_env" json:"redis_password_env"`
	RedisDB          int           `yaml:"redis_db" json:"redis_db"`
	TTL              time.Duration `yaml:"ttl" json:"ttl"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultTopK  int `yaml:"default_top_k" json:"default_top_k"`
	MaxTopK      int `yaml:"max_top_k" json:"max_top_k"`
	SnippetLines int `yaml:"snippet_lines" json:"snippet_lines"`
	// QueryInstruction is prepended to queries, not documents, before
	// embedding. Some embedding models are trained with one.
	QueryInstruction string `yaml:"query_instruction,omitempty" json:"query_instruction,omitempty"`
}

// HealthConfig bounds each health probe.
type HealthConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// TracingConfig enables OTLP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint   string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure   bool    `yaml:"insecure" json:"insecure"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// WatchConfig controls the file watcher used by "coderecall watch".
type WatchConfig struct {
	Debounce     time.Duration `yaml:"debounce" json:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultCollection is the vector store collection shared by all repositories.
const DefaultCollection = "code_chunks"

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Embedding: EmbeddingConfig{
			Provider:          "ollama",
			Model:             "nomic-embed-text",
			Endpoint:          "http://localhost:11434",
			APIKeyEnv:         "OPENAI_API_KEY",
			Dimensions:        768,
			BatchSize:         32,
			MaxBatchTokens:    8000,
			RequestsPerMinute: 600,
			TokensPerMinute:   1_000_000,
			MaxWait:           30 * time.Second,
			RequestTimeout:    30 * time.Second,
			MaxRetries:        3,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			CacheSize:         10_000,
			BreakerFailures:   3,
			BreakerReset:      30 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Backend:           "hnsw",
			Collection:        DefaultCollection,
			Timeout:           10 * time.Second,
			MaxRetries:        3,
			UpsertBatchSize:   64,
			UpsertConcurrency: 4,
			Qdrant: QdrantConfig{
				Host:      "localhost",
				Port:      6334,
				APIKeyEnv: "QDRANT_API_KEY",
			},
		},
		State: StateConfig{
			Backend: "sqlite",
		},
		Indexing: IndexingConfig{
			MaxFileSize:      1 << 20,
			WindowLines:      200,
			OverlapLines:     20,
			RunTimeout:       30 * time.Minute,
			RespectGitignore: true,
		},
		Lock: LockConfig{
			Backend:   "none",
			RedisAddr: "localhost:6379",
			TTL:       time.Minute,
		},
		Search: SearchConfig{
			DefaultTopK:  10,
			MaxTopK:      100,
			SnippetLines: 20,
		},
		Health: HealthConfig{
			ProbeTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
		Watch: WatchConfig{
			Debounce:     200 * time.Millisecond,
			PollInterval: 30 * time.Second,
		},
	}
}

// DefaultDataDir returns $CODERECALL_HOME or ~/.coderecall.
func DefaultDataDir() string {
	if v := os.Getenv("CODERECALL_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "coderecall")
	}
	return filepath.Join(home, ".coderecall")
}

// GetUserConfigPath returns the user/global configuration file path:
// $XDG_CONFIG_HOME/coderecall/config.yaml or ~/.config/coderecall/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coderecall", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "coderecall", "config.yaml")
	}
	return filepath.Join(home, ".config", "coderecall", "config.yaml")
}

// Load loads configuration for the repository rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/coderecall/config.yaml)
//  3. Project config (.coderecall.yaml in dir)
//  4. Environment variables (CODERECALL_*)
func Load(dir string) (*Config, error) {
	return LoadFile(dir, "")
}

// LoadFile is Load with an explicit project config path that replaces
// the .coderecall.yaml lookup when non-empty.
func LoadFile(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if explicit != "" {
		if err := cfg.loadYAML(explicit); err != nil {
			return nil, err
		}
	} else if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromDir(dir string) error {
	if dir == "" {
		return nil
	}
	for _, name := range []string{".coderecall.yaml", ".coderecall.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over the current values, so keys absent from the
// file keep whatever an earlier layer set.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}

	setString("CODERECALL_DATA_DIR", &c.DataDir)

	setString("CODERECALL_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	setString("CODERECALL_EMBEDDING_MODEL", &c.Embedding.Model)
	setString("CODERECALL_EMBEDDING_ENDPOINT", &c.Embedding.Endpoint)
	setInt("CODERECALL_EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	setInt("CODERECALL_EMBEDDING_BATCH_SIZE", &c.Embedding.BatchSize)
	setInt("CODERECALL_EMBEDDING_RPM", &c.Embedding.RequestsPerMinute)
	setInt("CODERECALL_EMBEDDING_TPM", &c.Embedding.TokensPerMinute)
	setDuration("CODERECALL_EMBEDDING_MAX_WAIT", &c.Embedding.MaxWait)

	setString("CODERECALL_VECTOR_BACKEND", &c.VectorStore.Backend)
	setString("CODERECALL_VECTOR_COLLECTION", &c.VectorStore.Collection)
	setString("CODERECALL_QDRANT_HOST", &c.VectorStore.Qdrant.Host)
	setInt("CODERECALL_QDRANT_PORT", &c.VectorStore.Qdrant.Port)

	setString("CODERECALL_STATE_BACKEND", &c.State.Backend)
	setDuration("CODERECALL_RUN_TIMEOUT", &c.Indexing.RunTimeout)

	setString("CODERECALL_LOCK_BACKEND", &c.Lock.Backend)
	setString("CODERECALL_REDIS_ADDR", &c.Lock.RedisAddr)

	setString("CODERECALL_LOG_LEVEL", &c.Logging.Level)
	setString("CODERECALL_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	setDuration("CODERECALL_WATCH_DEBOUNCE", &c.Watch.Debounce)

	if v := os.Getenv("CODERECALL_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Indexing.MaxFileSize = n
		}
	}
}

// resolvePaths fills backend paths that default to locations under DataDir.
func (c *Config) resolvePaths() {
	if c.VectorStore.Path == "" {
		switch c.VectorStore.Backend {
		case "hnsw":
			c.VectorStore.Path = filepath.Join(c.DataDir, "vectors")
		case "sqlite":
			c.VectorStore.Path = filepath.Join(c.DataDir, "vectors.db")
		}
	}
	if c.State.Path == "" {
		switch c.State.Backend {
		case "file":
			c.State.Path = filepath.Join(c.DataDir, "state")
		default:
			c.State.Path = filepath.Join(c.DataDir, "state.db")
		}
	}
}

// LockDir is where file locks live.
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// Validate checks the configuration for impossible or unknown values.
func (c *Config) Validate() error {
	if err := oneOf("embedding.provider", c.Embedding.Provider, "ollama", "openai", "static", "none"); err != nil {
		return err
	}
	if err := oneOf("vector_store.backend", c.VectorStore.Backend, "memory", "hnsw", "sqlite", "qdrant"); err != nil {
		return err
	}
	if err := oneOf("state.backend", c.State.Backend, "sqlite", "file"); err != nil {
		return err
	}
	if err := oneOf("lock.backend", c.Lock.Backend, "none", "file", "redis"); err != nil {
		return err
	}
	if err := oneOf("logging.level", strings.ToLower(c.Logging.Level), "debug", "info", "warn", "error"); err != nil {
		return err
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.MaxRetries < 1 {
		return fmt.Errorf("embedding.max_retries must be at least 1, got %d", c.Embedding.MaxRetries)
	}
	if c.Embedding.RequestsPerMinute < 0 || c.Embedding.TokensPerMinute < 0 {
		return fmt.Errorf("embedding rate limits must be non-negative")
	}
	if c.VectorStore.Collection == "" {
		return fmt.Errorf("vector_store.collection must not be empty")
	}
	if c.VectorStore.UpsertBatchSize <= 0 || c.VectorStore.UpsertConcurrency <= 0 {
		return fmt.Errorf("vector_store upsert batch size and concurrency must be positive")
	}
	if c.Indexing.WindowLines <= 0 {
		return fmt.Errorf("indexing.window_lines must be positive, got %d", c.Indexing.WindowLines)
	}
	if c.Indexing.OverlapLines < 0 || c.Indexing.OverlapLines >= c.Indexing.WindowLines {
		return fmt.Errorf("indexing.overlap_lines must be in [0, window_lines), got %d", c.Indexing.OverlapLines)
	}
	if c.Indexing.MaxFileSize <= 0 {
		return fmt.Errorf("indexing.max_file_size must be positive, got %d", c.Indexing.MaxFileSize)
	}
	if c.Indexing.RunTimeout <= 0 {
		return fmt.Errorf("indexing.run_timeout must be positive, got %s", c.Indexing.RunTimeout)
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search.default_top_k must be positive, got %d", c.Search.DefaultTopK)
	}
	if c.Lock.Backend == "redis" && c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive for the redis lock")
	}
	if c.Watch.Debounce <= 0 || c.Watch.PollInterval <= 0 {
		return fmt.Errorf("watch.debounce and watch.poll_interval must be positive")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %f", c.Tracing.SampleRate)
	}

	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# coderecall configuration\n# Layers: defaults < ~/.config/coderecall/config.yaml < .coderecall.yaml < CODERECALL_* env\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
