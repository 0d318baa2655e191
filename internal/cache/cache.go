package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/tenant"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// ErrInvalidConfig indicates invalid cache configuration.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis host:port.
	Addr string

	// Password authenticates against Redis. Optional.
	Password string

	// DB selects the Redis logical database.
	DB int

	// SearchTTL bounds search-result entries. Default: 5m.
	SearchTTL time.Duration

	// EmbeddingTTL bounds embedding entries. Embeddings are
	// deterministic per (text, model), so they live longest.
	// Default: 24h.
	EmbeddingTTL time.Duration

	// StatsTTL bounds collection-stats entries. Stats change on every
	// upsert, so they live shortest. Default: 30s.
	StatsTTL time.Duration

	// OpTimeout bounds each cache operation independently of the
	// request deadline, so a slow cache never blocks the primary
	// storage path. Default: 250ms.
	OpTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SearchTTL == 0 {
		c.SearchTTL = 5 * time.Minute
	}
	if c.EmbeddingTTL == 0 {
		c.EmbeddingTTL = 24 * time.Hour
	}
	if c.StatsTTL == 0 {
		c.StatsTTL = 30 * time.Second
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 250 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr required", ErrInvalidConfig)
	}
	return nil
}

// Cache stores search results, embeddings, and stats in Redis.
type Cache struct {
	client  redis.Cmdable
	config  Config
	logger  *zap.Logger
	metrics *Metrics
}

// New connects to Redis and returns a Cache.
func New(config Config, logger *zap.Logger) (*Cache, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Cache{
		client:  client,
		config:  config,
		logger:  logger.Named("cache"),
		metrics: NewMetrics(logger),
	}, nil
}

// Close releases the Redis connection when the Cache owns one.
func (c *Cache) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(client redis.Cmdable, config Config, logger *zap.Logger) *Cache {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, config: config, logger: logger.Named("cache"), metrics: NewMetrics(logger)}
}

// opContext derives the bounded per-operation context.
func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.OpTimeout)
}

// miss logs a cache failure and reports it as a miss.
func (c *Cache) miss(operation, key string, err error) bool {
	if err != nil && !errors.Is(err, redis.Nil) {
		c.metrics.RecordFailure(context.Background(), operation)
		c.logger.Warn("cache degraded to miss",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.Error(err))
	}
	return false
}

// get unmarshals one entry into out. Returns false on miss or failure.
func (c *Cache) get(ctx context.Context, key string, out interface{}) bool {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return c.miss("get", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.miss("decode", key, err)
	}
	return true
}

// setScoped stores one entry and registers its key in the scope's
// membership indices. Index membership is a set, so concurrent writers
// for the same project race harmlessly.
func (c *Cache) setScoped(ctx context.Context, scope tenant.Scope, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.miss("encode", key, err)
		return
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	tenantIdx := tenantIndexKey(scope.TenantID)
	projectIdx := projectIndexKey(scope.TenantID, scope.ProjectID)

	pipe := c.client.Pipeline()
	pipe.Set(ctx, key, raw, ttl)
	pipe.SAdd(ctx, tenantIdx, key)
	pipe.SAdd(ctx, projectIdx, key)
	// The project index itself is tenant data: registering it under the
	// tenant index lets tenant-wide invalidation sweep it too.
	pipe.SAdd(ctx, tenantIdx, projectIdx)
	if _, err := pipe.Exec(ctx); err != nil {
		c.miss("set", key, err)
	}
}

// GetSearch returns cached search results for key, if present.
func (c *Cache) GetSearch(ctx context.Context, key string) ([]vectorstore.SearchResult, bool) {
	var results []vectorstore.SearchResult
	ok := c.get(ctx, key, &results)
	c.metrics.RecordLookup(ctx, "search", ok)
	if !ok {
		return nil, false
	}
	return results, true
}

// SetSearch caches search results under the scope's indices.
func (c *Cache) SetSearch(ctx context.Context, scope tenant.Scope, key string, results []vectorstore.SearchResult) {
	c.setScoped(ctx, scope, key, results, c.config.SearchTTL)
}

// GetEmbedding returns a cached embedding vector, if present.
func (c *Cache) GetEmbedding(ctx context.Context, key string) ([]float32, bool) {
	var vector []float32
	ok := c.get(ctx, key, &vector)
	c.metrics.RecordLookup(ctx, "embedding", ok)
	if !ok {
		return nil, false
	}
	return vector, true
}

// SetEmbedding caches an embedding vector under the scope's indices.
func (c *Cache) SetEmbedding(ctx context.Context, scope tenant.Scope, key string, vector []float32) {
	c.setScoped(ctx, scope, key, vector, c.config.EmbeddingTTL)
}

// GetStats returns cached collection stats for the scope, if present.
func (c *Cache) GetStats(ctx context.Context, scope tenant.Scope) (*vectorstore.CollectionStats, bool) {
	var stats vectorstore.CollectionStats
	ok := c.get(ctx, StatsKey(scope.TenantID, scope.ProjectID), &stats)
	c.metrics.RecordLookup(ctx, "stats", ok)
	if !ok {
		return nil, false
	}
	return &stats, true
}

// SetStats caches collection stats under the scope's indices.
func (c *Cache) SetStats(ctx context.Context, scope tenant.Scope, stats *vectorstore.CollectionStats) {
	c.setScoped(ctx, scope, StatsKey(scope.TenantID, scope.ProjectID), stats, c.config.StatsTTL)
}

// InvalidateTenant eagerly removes every cache entry belonging to the
// tenant, then the membership index itself. O(scope size).
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) error {
	return c.invalidateIndex(ctx, tenantIndexKey(tenantID))
}

// InvalidateProject removes every cache entry belonging to one project
// within a tenant. Entries for the tenant's other projects survive.
func (c *Cache) InvalidateProject(ctx context.Context, tenantID, projectID string) error {
	return c.invalidateIndex(ctx, projectIndexKey(tenantID, projectID))
}

func (c *Cache) invalidateIndex(ctx context.Context, indexKey string) error {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("reading index %s: %w", indexKey, err)
	}

	pipe := c.client.Pipeline()
	if len(members) > 0 {
		pipe.Del(ctx, members...)
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting index %s: %w", indexKey, err)
	}

	c.logger.Info("cache scope invalidated",
		zap.String("index", indexKey),
		zap.Int("keys_removed", len(members)))
	return nil
}
