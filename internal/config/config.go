// Package config provides configuration loading for retrievald.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. This package covers the server, vector store, embeddings,
// cache, and pipeline settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/retrievald/internal/textproc"
)

// Config holds the complete retrievald configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Auth       AuthConfig       `koanf:"auth"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	HNSW       HNSWConfig       `koanf:"hnsw"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Cache      CacheConfig      `koanf:"cache"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// TelemetryConfig holds OTLP export configuration.
type TelemetryConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Endpoint        string        `koanf:"endpoint"`
	ServiceName     string        `koanf:"service_name"`
	ServiceVersion  string        `koanf:"service_version"`
	Insecure        bool          `koanf:"insecure"`
	SampleRate      float64       `koanf:"sample_rate"`
	MetricsInterval time.Duration `koanf:"metrics_interval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig holds tenant identity configuration.
type AuthConfig struct {
	// TokenSecret signs and verifies bearer tokens. Required unless
	// header identity is allowed.
	TokenSecret Secret `koanf:"token_secret"`

	// AllowHeaderIdentity accepts X-Tenant-ID/X-Project-ID headers in
	// place of a token. Development only.
	AllowHeaderIdentity bool `koanf:"allow_header_identity"`

	// MaxBodyBytes caps request bodies. Default: 10MB.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// QdrantConfig holds vector store connection configuration.
type QdrantConfig struct {
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	Collection         string        `koanf:"collection"`
	VectorSize         uint64        `koanf:"vector_size"`
	UseTLS             bool          `koanf:"use_tls"`
	APIKey             Secret        `koanf:"api_key"`
	MaxRetries         int           `koanf:"max_retries"`
	RetryBackoff       time.Duration `koanf:"retry_backoff"`
	MaxConcurrentCalls int64         `koanf:"max_concurrent_calls"`
}

// HNSWConfig holds index tuning configuration. Workload and dataset size
// pick a template; the remaining fields override individual parameters.
type HNSWConfig struct {
	Workload           string `koanf:"workload"`
	DatasetSize        string `koanf:"dataset_size"`
	PayloadM           uint64 `koanf:"payload_m"`
	Ef                 uint64 `koanf:"ef"`
	EfConstruct        uint64 `koanf:"ef_construct"`
	MaxIndexingThreads uint64 `koanf:"max_indexing_threads"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	BaseURL           string  `koanf:"base_url"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	BatchSize         int     `koanf:"batch_size"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Addr         string        `koanf:"addr"`
	Password     Secret        `koanf:"password"`
	DB           int           `koanf:"db"`
	SearchTTL    time.Duration `koanf:"search_ttl"`
	EmbeddingTTL time.Duration `koanf:"embedding_ttl"`
	StatsTTL     time.Duration `koanf:"stats_ttl"`
}

// PipelineConfig holds document processing defaults. Requests may
// override chunking and normalization per call.
type PipelineConfig struct {
	Normalization string `koanf:"normalization"`
	ChunkStrategy string `koanf:"chunk_strategy"`
	ChunkSize     int    `koanf:"chunk_size"`
	ChunkOverlap  int    `koanf:"chunk_overlap"`
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Qdrant collection or vector size is missing
//   - No identity mechanism is configured
//   - Pipeline normalization or chunk strategy is unknown
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if !c.Auth.TokenSecret.IsSet() && !c.Auth.AllowHeaderIdentity {
		return errors.New("auth.token_secret required unless header identity is allowed")
	}

	if c.Qdrant.Collection == "" {
		return errors.New("qdrant.collection is required")
	}
	if c.Qdrant.VectorSize == 0 {
		return errors.New("qdrant.vector_size is required")
	}

	if c.Embeddings.BaseURL == "" {
		return errors.New("embeddings.base_url is required")
	}
	if c.Embeddings.Model == "" {
		return errors.New("embeddings.model is required")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return errors.New("cache.addr required when cache is enabled")
	}

	if c.Pipeline.Normalization != "" && !textproc.Level(c.Pipeline.Normalization).IsValid() {
		return fmt.Errorf("invalid pipeline.normalization: %q", c.Pipeline.Normalization)
	}
	if c.Pipeline.ChunkStrategy != "" && !textproc.Strategy(c.Pipeline.ChunkStrategy).IsValid() {
		return fmt.Errorf("invalid pipeline.chunk_strategy: %q", c.Pipeline.ChunkStrategy)
	}

	return nil
}
