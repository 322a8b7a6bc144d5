package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-nlq.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Operational database the queries run against (read-only credential)
	Datasource DatasourceConfig `yaml:"datasource"`

	Query       QueryConfig       `yaml:"query"`
	Heuristics  HeuristicsConfig  `yaml:"heuristics"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Performance PerformanceConfig `yaml:"performance"`
}

// DatasourceConfig describes the operational WMS database.
type DatasourceConfig struct {
	// Type selects the adapter: "postgres" or "mssql".
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"0"` // 0 = adapter default
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:"wms_reader"`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:"wms"`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSL_MODE" env-default:"disable"`

	// SQL Server only
	Encrypt                bool `yaml:"encrypt" env:"DATASOURCE_ENCRYPT" env-default:"true"`
	TrustServerCertificate bool `yaml:"trust_server_certificate" env:"DATASOURCE_TRUST_SERVER_CERTIFICATE" env-default:"false"`

	// SQL Server auth: "sql" (default) or "service_principal" for Azure AD.
	AuthMethod   string `yaml:"auth_method" env:"DATASOURCE_AUTH_METHOD"`
	TenantID     string `yaml:"tenant_id" env:"DATASOURCE_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"DATASOURCE_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"DATASOURCE_CLIENT_SECRET"` // Secret - not in YAML

	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"DATASOURCE_CONNECT_TIMEOUT_SECONDS" env-default:"15"`
}

// AdapterConfig converts the datasource section into the generic map the
// adapter registry consumes.
func (d *DatasourceConfig) AdapterConfig() map[string]any {
	cfg := map[string]any{
		"host":                     ResolveHostForDocker(d.Host),
		"user":                     d.User,
		"password":                 d.Password,
		"database":                 d.Database,
		"ssl_mode":                 d.SSLMode,
		"encrypt":                  d.Encrypt,
		"trust_server_certificate": d.TrustServerCertificate,
		"connection_timeout":       d.ConnectTimeoutSeconds,
	}
	if d.Port > 0 {
		cfg["port"] = d.Port
	}
	if d.AuthMethod != "" {
		cfg["auth_method"] = d.AuthMethod
	}
	if d.ClientID != "" {
		cfg["tenant_id"] = d.TenantID
		cfg["client_id"] = d.ClientID
		cfg["client_secret"] = d.ClientSecret
	}
	return cfg
}

// QueryConfig holds the execution limits recognized by the query core.
type QueryConfig struct {
	MaxRows                    int  `yaml:"max_rows" env:"MAX_ROWS" env-default:"1000"`
	TimeoutSeconds             int  `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS" env-default:"300"`
	MaxConcurrentQueries       int  `yaml:"max_concurrent_queries" env:"MAX_CONCURRENT_QUERIES" env-default:"3"`
	EnableIndexRecommendations bool `yaml:"enable_index_recommendations" env:"ENABLE_INDEX_RECOMMENDATIONS" env-default:"true"`

	// AdmissionTimeoutSeconds bounds how long a request waits for a slot.
	AdmissionTimeoutSeconds int `yaml:"admission_timeout_seconds" env:"ADMISSION_TIMEOUT_SECONDS" env-default:"60"`
	MaxSubqueryDepth        int `yaml:"max_subquery_depth" env:"MAX_SUBQUERY_DEPTH" env-default:"2"`
	MaxJoinDepth            int `yaml:"max_join_depth" env:"MAX_JOIN_DEPTH" env-default:"4"`
	TopK                    int `yaml:"top_k" env:"RANKER_TOP_K" env-default:"5"`
}

// Timeout returns the per-query deadline.
func (q *QueryConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds) * time.Second
}

// AdmissionTimeout returns the maximum wait for an execution slot.
func (q *QueryConfig) AdmissionTimeout() time.Duration {
	return time.Duration(q.AdmissionTimeoutSeconds) * time.Second
}

// HeuristicsConfig exposes the selective-filter and reliability heuristics as
// tunable parameters.
type HeuristicsConfig struct {
	// KeyColumnSuffixes marks columns as key-like for selectivity purposes, in
	// addition to primary keys and indexed columns.
	KeyColumnSuffixes []string `yaml:"key_column_suffixes" env:"HEURISTIC_KEY_COLUMN_SUFFIXES" env-separator:"," env-default:"_id,_code,_number,_no,sku"`
	// RangeIsSelective treats a bounded range (BETWEEN / >= AND <=) on a key or
	// indexed column as selective.
	RangeIsSelective bool `yaml:"range_is_selective" env:"HEURISTIC_RANGE_IS_SELECTIVE" env-default:"true"`
	// MaxInListSize is the largest IN list still considered selective.
	MaxInListSize int `yaml:"max_in_list_size" env:"HEURISTIC_MAX_IN_LIST_SIZE" env-default:"20"`

	// Reliability scoring starts at 1.0 and subtracts penalties.
	PenaltyFallback    float64 `yaml:"penalty_fallback" env:"HEURISTIC_PENALTY_FALLBACK" env-default:"0.3"`
	PenaltyDroppedTerm float64 `yaml:"penalty_dropped_term" env:"HEURISTIC_PENALTY_DROPPED_TERM" env-default:"0.1"`
	PenaltyUnfiltered  float64 `yaml:"penalty_unfiltered" env:"HEURISTIC_PENALTY_UNFILTERED" env-default:"0.2"`
	PenaltyTruncated   float64 `yaml:"penalty_truncated" env:"HEURISTIC_PENALTY_TRUNCATED" env-default:"0.35"`
	HighThreshold      float64 `yaml:"high_threshold" env:"HEURISTIC_HIGH_THRESHOLD" env-default:"0.8"`
	MediumThreshold    float64 `yaml:"medium_threshold" env:"HEURISTIC_MEDIUM_THRESHOLD" env-default:"0.5"`
}

// CatalogConfig controls schema catalog builds.
type CatalogConfig struct {
	RefreshIntervalMinutes int    `yaml:"refresh_interval_minutes" env:"CATALOG_REFRESH_INTERVAL_MINUTES" env-default:"30"`
	SampleValues           int    `yaml:"sample_values" env:"CATALOG_SAMPLE_VALUES" env-default:"10"`
	SampleColumnsPerTable  int    `yaml:"sample_columns_per_table" env:"CATALOG_SAMPLE_COLUMNS_PER_TABLE" env-default:"4"`
	SynonymsFile           string `yaml:"synonyms_file" env:"CATALOG_SYNONYMS_FILE" env-default:""`
}

// RefreshInterval returns the background refresh period, zero when disabled.
func (c *CatalogConfig) RefreshInterval() time.Duration {
	if c.RefreshIntervalMinutes <= 0 {
		return 0
	}
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// EmbeddingConfig selects the embedding provider and similarity index.
type EmbeddingConfig struct {
	// Provider is "lexical" (in-process, deterministic) or "openai" (any
	// OpenAI-compatible embeddings endpoint).
	Provider      string `yaml:"provider" env:"EMBEDDING_PROVIDER" env-default:"lexical"`
	Endpoint      string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:""`
	Model         string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey        string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	Dimensions    int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"256"`
	CacheSize     int    `yaml:"cache_size" env:"EMBEDDING_CACHE_SIZE" env-default:"512"`
	BatchSize     int    `yaml:"batch_size" env:"EMBEDDING_BATCH_SIZE" env-default:"32"`
	MaxConcurrent int    `yaml:"max_concurrent" env:"EMBEDDING_MAX_CONCURRENT" env-default:"4"`
	// Index is "memory" or "duckdb".
	Index string `yaml:"index" env:"EMBEDDING_INDEX" env-default:"memory"`
}

// PerformanceConfig tunes the performance analyzer.
type PerformanceConfig struct {
	HighVolumeRows int64 `yaml:"high_volume_rows" env:"PERFORMANCE_HIGH_VOLUME_ROWS" env-default:"100000"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and environment apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks limits and enumerated options.
func (c *Config) Validate() error {
	switch c.Datasource.Type {
	case "postgres", "mssql":
	default:
		return fmt.Errorf("datasource.type must be postgres or mssql, got %q", c.Datasource.Type)
	}

	if c.Query.MaxRows <= 0 {
		return fmt.Errorf("query.max_rows must be positive")
	}
	if c.Query.TimeoutSeconds <= 0 {
		return fmt.Errorf("query.timeout_seconds must be positive")
	}
	if c.Query.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("query.max_concurrent_queries must be positive")
	}
	if c.Query.AdmissionTimeoutSeconds <= 0 {
		return fmt.Errorf("query.admission_timeout_seconds must be positive")
	}
	if c.Query.MaxSubqueryDepth < 0 {
		return fmt.Errorf("query.max_subquery_depth must not be negative")
	}
	if c.Query.MaxJoinDepth <= 0 || c.Query.TopK <= 0 {
		return fmt.Errorf("query.max_join_depth and query.top_k must be positive")
	}

	if c.Heuristics.MediumThreshold > c.Heuristics.HighThreshold {
		return fmt.Errorf("heuristics.medium_threshold must not exceed heuristics.high_threshold")
	}

	switch c.Embedding.Provider {
	case "lexical":
	case "openai":
		if c.Embedding.Endpoint == "" {
			return fmt.Errorf("embedding.endpoint is required for the openai provider")
		}
	default:
		return fmt.Errorf("embedding.provider must be lexical or openai, got %q", c.Embedding.Provider)
	}

	switch c.Embedding.Index {
	case "memory", "duckdb":
	default:
		return fmt.Errorf("embedding.index must be memory or duckdb, got %q", c.Embedding.Index)
	}

	return nil
}
