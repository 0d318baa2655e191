// Package retrieval composes the document pipeline: text in, tenant-
// scoped searchable vectors out, with a cache in front of search.
//
// Data flow: normalize -> chunk -> dedupe -> embed -> upsert.
// Query flow: embed (cached) -> result cache -> store search -> cache.
package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/cache"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	"github.com/fyrsmithlabs/retrievald/internal/tenant"
	"github.com/fyrsmithlabs/retrievald/internal/textproc"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("retrievald.retrieval")

// VectorStore is the storage surface the pipeline drives.
type VectorStore interface {
	Upsert(ctx context.Context, scope tenant.Scope, points []vectorstore.Point) ([]string, error)
	Search(ctx context.Context, scope tenant.Scope, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error)
	Delete(ctx context.Context, scope tenant.Scope, pointIDs []string, extra ...vectorstore.Condition) error
	Stats(ctx context.Context, scope tenant.Scope) (*vectorstore.CollectionStats, error)
}

// Embedder is the embedding surface the pipeline drives.
type Embedder interface {
	ComputeBatch(ctx context.Context, chunks []textproc.Chunk, dedup textproc.DedupStats) (*embeddings.BatchResult, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// ResultCache is the cache surface the pipeline drives. All methods are
// best-effort; the implementations never fail a request.
type ResultCache interface {
	GetSearch(ctx context.Context, key string) ([]vectorstore.SearchResult, bool)
	SetSearch(ctx context.Context, scope tenant.Scope, key string, results []vectorstore.SearchResult)
	GetEmbedding(ctx context.Context, key string) ([]float32, bool)
	SetEmbedding(ctx context.Context, scope tenant.Scope, key string, vector []float32)
	GetStats(ctx context.Context, scope tenant.Scope) (*vectorstore.CollectionStats, bool)
	SetStats(ctx context.Context, scope tenant.Scope, stats *vectorstore.CollectionStats)
	InvalidateTenant(ctx context.Context, tenantID string) error
	InvalidateProject(ctx context.Context, tenantID, projectID string) error
}

// PipelineDefaults fill request fields the caller leaves unset. They
// come from operator configuration; requests always win over them.
type PipelineDefaults struct {
	Normalization textproc.Level
	Chunking      textproc.ChunkOptions
}

// Option configures a Service.
type Option func(*Service)

// WithPipelineDefaults sets the configured processing defaults.
func WithPipelineDefaults(d PipelineDefaults) Option {
	return func(s *Service) { s.defaults = d }
}

// Service is the retrieval pipeline. Construct one per process and pass
// it into request handlers; it holds no per-request state.
type Service struct {
	store    VectorStore
	embedder Embedder
	cache    ResultCache
	defaults PipelineDefaults
	logger   *zap.Logger
}

// NewService wires the pipeline. Store and embedder are required; cache
// may be nil to run without one.
func NewService(store VectorStore, embedder Embedder, resultCache ResultCache, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		embedder: embedder,
		cache:    resultCache,
		logger:   logger.Named("retrieval"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// chunkOptions merges request options over the configured defaults.
// SplitText fills whatever both leave unset.
func (s *Service) chunkOptions(req textproc.ChunkOptions) textproc.ChunkOptions {
	if req.Strategy == "" {
		req.Strategy = s.defaults.Chunking.Strategy
	}
	if req.Size <= 0 {
		req.Size = s.defaults.Chunking.Size
	}
	if req.Overlap == 0 {
		req.Overlap = s.defaults.Chunking.Overlap
	}
	return req
}

// ProcessRequest describes one document to ingest.
type ProcessRequest struct {
	// Text is the raw document text.
	Text string `json:"text"`

	// Normalization selects the cleaning level. Default: standard.
	Normalization textproc.Level `json:"normalization,omitempty"`

	// Chunking selects and tunes the split strategy.
	Chunking textproc.ChunkOptions `json:"chunking,omitempty"`

	// Record metadata applied to every stored chunk.
	Type       vectorstore.RecordType `json:"type,omitempty"`
	Visibility vectorstore.Visibility `json:"visibility,omitempty"`
	Version    string                 `json:"version,omitempty"`
	Lang       string                 `json:"lang,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
}

// ProcessResult reports what one ingest stored.
type ProcessResult struct {
	PointIDs    []string            `json:"point_ids"`
	ChunkCount  int                 `json:"chunk_count"`
	Dedup       textproc.DedupStats `json:"dedup_stats"`
	Model       string              `json:"model_id"`
	TotalTokens int                 `json:"total_tokens"`
	ElapsedMS   float64             `json:"elapsed_ms"`
}

// ProcessDocument runs the full ingest pipeline for one document.
//
// Chunk order and chunk-to-vector order are preserved end to end. An
// embedding failure aborts the whole ingest; nothing is persisted.
func (s *Service) ProcessDocument(ctx context.Context, scope tenant.Scope, req ProcessRequest) (*ProcessResult, error) {
	ctx, span := tracer.Start(ctx, "Service.ProcessDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", scope.TenantID),
		attribute.Int("text_length", len(req.Text)),
	)

	result, err := s.processDocument(ctx, scope, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *Service) processDocument(ctx context.Context, scope tenant.Scope, req ProcessRequest) (*ProcessResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	level := req.Normalization
	if level == "" {
		level = s.defaults.Normalization
	}
	if level == "" {
		level = textproc.LevelStandard
	}
	if !level.IsValid() {
		return nil, fmt.Errorf("%w %q", textproc.ErrUnknownLevel, level)
	}

	normalized := textproc.Normalize(req.Text, level)
	chunks := textproc.SplitText(normalized, s.chunkOptions(req.Chunking))
	if len(chunks) == 0 {
		return &ProcessResult{Model: s.embedder.Model()}, nil
	}

	// Dedup runs before embedding: provider calls are the most
	// expensive step in the pipeline.
	unique, stats := textproc.Dedupe(chunks)
	if len(unique) == 0 {
		return &ProcessResult{Dedup: stats, Model: s.embedder.Model()}, nil
	}

	batch, err := s.embedder.ComputeBatch(ctx, unique, stats)
	if err != nil {
		return nil, fmt.Errorf("embedding document: %w", err)
	}

	points := make([]vectorstore.Point, len(batch.Chunks))
	for i, chunk := range batch.Chunks {
		points[i] = vectorstore.Point{
			Vector: batch.Vectors[i],
			Record: vectorstore.Record{
				Type:            req.Type,
				Visibility:      req.Visibility,
				Version:         req.Version,
				Lang:            req.Lang,
				Tags:            req.Tags,
				Content:         chunk.Text,
				ConfidenceScore: chunk.ConfidenceScore,
				EmbeddingModel:  batch.Model,
			},
		}
	}

	ids, err := s.store.Upsert(ctx, scope, points)
	if err != nil {
		return nil, fmt.Errorf("storing document: %w", err)
	}

	// New content makes cached results for this project stale.
	s.invalidateProject(ctx, scope)

	return &ProcessResult{
		PointIDs:    ids,
		ChunkCount:  len(batch.Chunks),
		Dedup:       batch.Dedup,
		Model:       batch.Model,
		TotalTokens: batch.TotalTokens,
		ElapsedMS:   batch.ElapsedMS,
	}, nil
}

// SearchRequest describes one scoped query.
type SearchRequest struct {
	// Query is the query text.
	Query string `json:"query"`

	// Limit caps the number of hits.
	Limit uint64 `json:"limit,omitempty"`

	// ScoreThreshold drops hits scoring below it.
	ScoreThreshold float32 `json:"score_threshold,omitempty"`

	// Normalization applied to the query before embedding; must match
	// how the corpus was ingested. Default: standard.
	Normalization textproc.Level `json:"normalization,omitempty"`

	// Extra filter conditions appended after the scope prefix.
	Extra []vectorstore.Condition `json:"-"`
}

// Search embeds the query and returns ranked, tenant-scoped passages.
func (s *Service) Search(ctx context.Context, scope tenant.Scope, req SearchRequest) ([]vectorstore.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Service.Search")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", scope.TenantID))

	results, err := s.search(ctx, scope, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

func (s *Service) search(ctx context.Context, scope tenant.Scope, req SearchRequest) ([]vectorstore.SearchResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	level := req.Normalization
	if level == "" {
		level = s.defaults.Normalization
	}
	if !level.IsValid() {
		// Query-time levels degrade to standard; ingest validates
		// strictly so stored vectors always record a real level.
		level = textproc.LevelStandard
	}

	query := textproc.Normalize(req.Query, level)
	queryHash := textproc.HashText(query)

	vector, err := s.queryVector(ctx, scope, query, queryHash, level)
	if err != nil {
		return nil, err
	}

	filters := make([]string, len(req.Extra))
	for i, cond := range req.Extra {
		filters[i] = cond.String()
	}
	searchKey := cache.SearchKey(scope.TenantID, scope.ProjectID, queryHash, filters, req.Limit)

	if s.cache != nil {
		if results, ok := s.cache.GetSearch(ctx, searchKey); ok {
			return filterByScore(results, req.ScoreThreshold), nil
		}
	}

	results, err := s.store.Search(ctx, scope, vector, vectorstore.SearchOptions{
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
		Extra:          req.Extra,
	})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	if s.cache != nil {
		s.cache.SetSearch(ctx, scope, searchKey, results)
	}
	return results, nil
}

// filterByScore drops hits scoring below threshold. Search keys omit
// the threshold, so a cached entry may carry hits stored by a request
// with a lower one; every hit path re-filters.
func filterByScore(results []vectorstore.SearchResult, threshold float32) []vectorstore.SearchResult {
	if threshold <= 0 {
		return results
	}
	kept := make([]vectorstore.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// queryVector resolves the query embedding through the embedding cache.
func (s *Service) queryVector(ctx context.Context, scope tenant.Scope, query, queryHash string, level textproc.Level) ([]float32, error) {
	key := cache.EmbeddingKey(queryHash, s.embedder.Model(), string(level))

	if s.cache != nil {
		if vector, ok := s.cache.GetEmbedding(ctx, key); ok {
			return vector, nil
		}
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if s.cache != nil {
		s.cache.SetEmbedding(ctx, scope, key, vector)
	}
	return vector, nil
}

// Delete removes points within the scope and invalidates its cache.
func (s *Service) Delete(ctx context.Context, scope tenant.Scope, pointIDs []string, extra ...vectorstore.Condition) error {
	ctx, span := tracer.Start(ctx, "Service.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", scope.TenantID),
		attribute.Int("point_count", len(pointIDs)),
	)

	if err := scope.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := s.store.Delete(ctx, scope, pointIDs, extra...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}
	s.invalidateProject(ctx, scope)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stats returns scoped collection statistics through the stats cache.
func (s *Service) Stats(ctx context.Context, scope tenant.Scope) (*vectorstore.CollectionStats, error) {
	ctx, span := tracer.Start(ctx, "Service.Stats")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", scope.TenantID))

	if err := scope.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if s.cache != nil {
		if stats, ok := s.cache.GetStats(ctx, scope); ok {
			return stats, nil
		}
	}

	stats, err := s.store.Stats(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("collection stats: %w", err)
	}

	if s.cache != nil {
		s.cache.SetStats(ctx, scope, stats)
	}
	return stats, nil
}

func (s *Service) invalidateProject(ctx context.Context, scope tenant.Scope) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProject(ctx, scope.TenantID, scope.ProjectID); err != nil {
		// Cache failures never fail the request; stale entries age out
		// by TTL.
		s.logger.Warn("project cache invalidation failed",
			zap.String("tenant_id", scope.TenantID),
			zap.String("project_id", scope.ProjectID),
			zap.Error(err))
	}
}
