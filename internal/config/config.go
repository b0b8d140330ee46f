// Package config provides unified configuration loading for the INGRES assistant.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the assistant.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Rerank        RerankConfig        `yaml:"rerank"`
	Index         IndexConfig         `yaml:"index"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	News          NewsConfig          `yaml:"news"`
	Image         ImageConfig         `yaml:"image"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds dataset connection settings.
type DatabaseConfig struct {
	Driver      string         `yaml:"driver"` // sqlite or postgres
	SQLite      SQLiteConfig   `yaml:"sqlite"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Table       string         `yaml:"table"`
	TrendTable  string         `yaml:"trend_table"`
	ColumnHints ColumnHints    `yaml:"column_hints"`
	Timeout     time.Duration  `yaml:"timeout"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ColumnHints lists substrings used to find the physical column for each logical role.
type ColumnHints struct {
	State      []string `yaml:"state"`
	District   []string `yaml:"district"`
	Block      []string `yaml:"block"`
	Extraction []string `yaml:"extraction"`
	Category   []string `yaml:"category"`
}

// CacheConfig holds cache settings for pending charts and headlines.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // huggingface or mock
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIToken  string        `yaml:"api_token"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RerankConfig holds cross-encoder settings.
type RerankConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// IndexConfig holds multi-index snapshot settings.
type IndexConfig struct {
	SnapshotPath   string `yaml:"snapshot_path"`
	RebuildOnStart bool   `yaml:"rebuild_on_start"`
}

// RetrievalConfig holds hybrid search and resolver settings.
type RetrievalConfig struct {
	TopK              int                `yaml:"top_k"`
	SemanticWeight    float64            `yaml:"semantic_weight"`
	KeywordWeight     float64            `yaml:"keyword_weight"`
	SoftFallbackRatio float64            `yaml:"soft_fallback_ratio"`
	Thresholds        map[string]float64 `yaml:"thresholds"`
}

// KnowledgeConfig points at an optional override for the embedded knowledge tables.
type KnowledgeConfig struct {
	Path string `yaml:"path"`
}

// NewsConfig holds headline fetcher settings.
type NewsConfig struct {
	FeedURL  string        `yaml:"feed_url"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ImageConfig holds image fetcher settings.
type ImageConfig struct {
	SearchURL  string        `yaml:"search_url"`
	SearchKey  string        `yaml:"search_key"`
	SummaryURL string        `yaml:"summary_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}

		if cfg.Index.SnapshotPath != "" {
			cfg.Index.SnapshotPath = ResolveRelativePath(path, cfg.Index.SnapshotPath)
		}
		if cfg.Knowledge.Path != "" {
			cfg.Knowledge.Path = ResolveRelativePath(path, cfg.Knowledge.Path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   45 * time.Second,
			GracefulShutdown: 10 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "./ingres.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Table:      "assessments",
			TrendTable: "state_trends",
			ColumnHints: ColumnHints{
				State:      []string{"state"},
				District:   []string{"district"},
				Block:      []string{"block", "taluk", "mandal"},
				Extraction: []string{"extraction", "stage"},
				Category:   []string{"category", "status"},
			},
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        30 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "ingres:",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "huggingface",
			BaseURL:   "https://router.huggingface.co/hf-inference",
			Model:     "sentence-transformers/all-mpnet-base-v2",
			BatchSize: 32,
			Timeout:   20 * time.Second,
		},
		Rerank: RerankConfig{
			Enabled: true,
			BaseURL: "https://router.huggingface.co/hf-inference",
			Model:   "cross-encoder/ms-marco-MiniLM-L-6-v2",
			Timeout: 15 * time.Second,
		},
		Index: IndexConfig{
			SnapshotPath: "./multi_index_embeddings.json",
		},
		Retrieval: RetrievalConfig{
			TopK:              5,
			SemanticWeight:    0.7,
			KeywordWeight:     0.3,
			SoftFallbackRatio: 0.7,
			Thresholds: map[string]float64{
				"WHY":             0.55,
				"DEFINITION":      0.6,
				"TIPS":            0.5,
				"LOCATION_LOOKUP": 0.65,
				"COMPARISON":      0.6,
				"VISUALIZATION":   0.55,
			},
		},
		News: NewsConfig{
			FeedURL:  "https://news.google.com/rss/search?q=groundwater+india&hl=en-IN&gl=IN&ceid=IN:en",
			Timeout:  5 * time.Second,
			CacheTTL: 30 * time.Minute,
		},
		Image: ImageConfig{
			SummaryURL: "https://en.wikipedia.org/api/rest_v1/page/summary",
			Timeout:    5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "ingres-assistant",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Embedding.Provider != "huggingface" && c.Embedding.Provider != "mock" {
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		return fmt.Errorf("top_k must be between 1 and 50")
	}

	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.KeywordWeight < 0 ||
		c.Retrieval.SemanticWeight+c.Retrieval.KeywordWeight == 0 {
		return fmt.Errorf("blend weights must be non-negative and not both zero")
	}

	if c.Retrieval.SoftFallbackRatio <= 0 || c.Retrieval.SoftFallbackRatio > 1 {
		return fmt.Errorf("soft_fallback_ratio must be in (0, 1]")
	}

	for intent, t := range c.Retrieval.Thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("threshold for %s out of range: %v", intent, t)
		}
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Render-style hosting exposes PORT.
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("HF_TOKEN"); v != "" {
		cfg.Embedding.APIToken = v
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("RERANK_MODEL"); v != "" {
		cfg.Rerank.Model = v
	}

	if v := os.Getenv("RERANK_ENABLED"); v == "false" {
		cfg.Rerank.Enabled = false
	}

	if v := os.Getenv("INDEX_PATH"); v != "" {
		cfg.Index.SnapshotPath = v
	}

	if v := os.Getenv("KNOWLEDGE_PATH"); v != "" {
		cfg.Knowledge.Path = v
	}

	if v := os.Getenv("NEWS_FEED_URL"); v != "" {
		cfg.News.FeedURL = v
	}

	if v := os.Getenv("IMAGE_SEARCH_URL"); v != "" {
		cfg.Image.SearchURL = v
	}

	if v := os.Getenv("IMAGE_SEARCH_KEY"); v != "" {
		cfg.Image.SearchKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
