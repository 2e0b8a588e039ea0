package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/guidesearch/internal/embedder"
	"github.com/dshills/guidesearch/internal/searcher"
)

// Environment variables that override file values
const (
	EnvConfigPath        = "GUIDESEARCH_CONFIG"
	EnvDBPath            = "GUIDESEARCH_DB_PATH"
	EnvCorpusPath        = "GUIDESEARCH_CORPUS_PATH"
	EnvEmbeddingProvider = "GUIDESEARCH_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "GUIDESEARCH_EMBEDDING_MODEL"
	EnvEmbeddingBaseURL  = "GUIDESEARCH_EMBEDDING_BASE_URL"
	EnvLogLevel          = "GUIDESEARCH_LOG_LEVEL"
	EnvLogFile           = "GUIDESEARCH_LOG_FILE"
)

const (
	defaultDirName     = ".guidesearch"
	defaultDBFile      = "guidesearch.db"
	defaultConfigFile  = "config.yaml"
	localConfigFile    = "guidesearch.yaml"
	defaultInitTimeout = 30 * time.Second
)

// EmbedderConfig selects and configures the embedding provider
type EmbedderConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model,omitempty"`
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	Dimension   int    `yaml:"dimension,omitempty"`
	CacheSize   int    `yaml:"cache_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// SearchConfig tunes query handling and startup
type SearchConfig struct {
	TopK             int           `yaml:"top_k"`
	KeywordLimit     int           `yaml:"keyword_limit"`
	InitTimeout      time.Duration `yaml:"init_timeout"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	MaxQueryTimeouts int           `yaml:"max_query_timeouts"`
	CacheSize        int           `yaml:"cache_size"`
}

// LogConfig configures logging output
type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file,omitempty"`
	Development bool   `yaml:"development"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

// AppConfig is the root application configuration
type AppConfig struct {
	DBPath     string         `yaml:"db_path"`
	CorpusPath string         `yaml:"corpus_path,omitempty"`
	Embedder   EmbedderConfig `yaml:"embedder"`
	Search     SearchConfig   `yaml:"search"`
	Log        LogConfig      `yaml:"log"`
}

// Load reads a config from path. A missing file yields the defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads .env if present and then the config at explicit, or
// when explicit is empty at GUIDESEARCH_CONFIG, ./guidesearch.yaml or
// ~/.guidesearch/config.yaml, in that order. It returns the path that was
// used.
func LoadDefault(explicit string) (*AppConfig, string, error) {
	_ = godotenv.Load()

	path, err := ResolvePath(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// ResolvePath returns the config file location LoadDefault reads
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return expandHome(explicit)
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return expandHome(p)
	}
	if _, err := os.Stat(localConfigFile); err == nil {
		return localConfigFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultDirName, defaultConfigFile), nil
}

// Save writes the config to path, creating directories as needed
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values no component can work with
func (c *AppConfig) Validate() error {
	switch c.Embedder.Provider {
	case embedder.ProviderLocal, embedder.ProviderHash, embedder.ProviderOpenAI,
		embedder.ProviderJina, embedder.ProviderOllama:
	default:
		return fmt.Errorf("config: unknown embedder provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Dimension < 0 {
		return fmt.Errorf("config: embedder dimension must not be negative")
	}
	if c.Embedder.BatchSize > embedder.MaxBatchSize {
		return fmt.Errorf("config: embedder batch_size %d exceeds %d", c.Embedder.BatchSize, embedder.MaxBatchSize)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("config: search top_k must be positive")
	}
	if c.Search.InitTimeout <= 0 || c.Search.QueryTimeout <= 0 {
		return fmt.Errorf("config: search timeouts must be positive")
	}
	return nil
}

// APIKey returns the provider key from the configured environment variable
func (c *AppConfig) APIKey() string {
	if c.Embedder.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embedder.APIKeyEnv)
}

// EmbedderConfig converts the embedder section for embedder.New
func (c *AppConfig) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedder.Provider,
		Model:     c.Embedder.Model,
		BaseURL:   c.Embedder.BaseURL,
		APIKey:    c.APIKey(),
		Dimension: c.Embedder.Dimension,
		CacheSize: c.Embedder.CacheSize,
		Timeout:   time.Duration(c.Embedder.TimeoutSecs) * time.Second,
	}
}

// DefaultDBPath returns ~/.guidesearch/guidesearch.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultDirName, defaultDBFile), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Embedder: EmbedderConfig{
			Provider:    embedder.ProviderLocal,
			CacheSize:   1000,
			TimeoutSecs: 30,
			BatchSize:   embedder.DefaultBatchSize,
		},
		Search: SearchConfig{
			TopK:             searcher.DefaultTopK,
			KeywordLimit:     searcher.DefaultKeywordLimit,
			InitTimeout:      defaultInitTimeout,
			QueryTimeout:     searcher.DefaultQueryTimeout,
			MaxQueryTimeouts: searcher.DefaultMaxQueryTimeouts,
			CacheSize:        searcher.DefaultCacheSize,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func applyDefaults(cfg *AppConfig) {
	def := defaultConfig()

	cfg.Embedder.Provider = strings.ToLower(strings.TrimSpace(cfg.Embedder.Provider))
	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = def.Embedder.Provider
	}
	if cfg.Embedder.APIKeyEnv == "" {
		switch cfg.Embedder.Provider {
		case embedder.ProviderOpenAI:
			cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
		case embedder.ProviderJina:
			cfg.Embedder.APIKeyEnv = "JINA_API_KEY"
		}
	}
	if cfg.Embedder.TimeoutSecs <= 0 {
		cfg.Embedder.TimeoutSecs = def.Embedder.TimeoutSecs
	}
	if cfg.Embedder.BatchSize <= 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}

	if cfg.Search.TopK <= 0 {
		cfg.Search.TopK = def.Search.TopK
	}
	if cfg.Search.KeywordLimit <= 0 {
		cfg.Search.KeywordLimit = def.Search.KeywordLimit
	}
	if cfg.Search.InitTimeout <= 0 {
		cfg.Search.InitTimeout = def.Search.InitTimeout
	}
	if cfg.Search.QueryTimeout <= 0 {
		cfg.Search.QueryTimeout = def.Search.QueryTimeout
	}
	if cfg.Search.MaxQueryTimeouts <= 0 {
		cfg.Search.MaxQueryTimeouts = def.Search.MaxQueryTimeouts
	}
	if cfg.Search.CacheSize <= 0 {
		cfg.Search.CacheSize = def.Search.CacheSize
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvCorpusPath); v != "" {
		cfg.CorpusPath = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		cfg.Embedder.Provider = v
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		cfg.Embedder.Model = v
	}
	if v := os.Getenv(EnvEmbeddingBaseURL); v != "" {
		cfg.Embedder.BaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Log.File = v
	}
}

// ResolveDBPath expands ~ in the configured database path, falling back to
// DefaultDBPath. ":memory:" is returned unchanged.
func (c *AppConfig) ResolveDBPath() (string, error) {
	if c.DBPath == "" {
		return DefaultDBPath()
	}
	return expandHome(c.DBPath)
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
