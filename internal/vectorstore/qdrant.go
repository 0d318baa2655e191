// Package vectorstore owns the tenant-isolated vector collection: its
// lifecycle, and scoped upsert, search, and delete against Qdrant.
//
// Every operation injects the mandatory tenant/project filter; there is
// no code path that reads or writes the collection without one.
package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/retrievald/internal/hnsw"
	"github.com/fyrsmithlabs/retrievald/internal/tenant"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("retrievald.vectorstore")

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// indexedPayloadFields get keyword payload indexes at collection
// creation. tenant_id and project_id carry the isolation filters; type
// is the most common extra condition.
var indexedPayloadFields = []string{"tenant_id", "project_id", "type"}

// Config holds configuration for the Qdrant-backed store.
type Config struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// Collection is the shared multi-tenant collection name.
	Collection string

	// VectorSize is the embedding dimensionality. Must match the
	// embedding model's output size.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey authenticates with Qdrant Cloud. Empty for local instances.
	APIKey string

	// MaxRetries bounds retry attempts for read operations.
	// Mutations are never retried internally. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per attempt.
	// Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message cap in bytes. Default: 50MB.
	MaxMessageSize int

	// MaxConcurrentCalls bounds in-flight storage calls. Default: 8.
	MaxConcurrentCalls int64

	// HNSW holds the multi-tenant index parameters.
	HNSW hnsw.Params
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.MaxConcurrentCalls == 0 {
		c.MaxConcurrentCalls = 8
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(c.Collection); err != nil {
		return err
	}
	return c.HNSW.Validate()
}

// ValidateCollectionName validates a collection name.
// Rejects uppercase, special characters, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError reports whether an error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Store is a tenant-isolated vector store on Qdrant's native gRPC client.
//
// Blocking client calls go through a bounded worker slot so a burst of
// storage traffic cannot exhaust the process.
type Store struct {
	client *qdrant.Client
	config Config
	logger *zap.Logger
	slots  *semaphore.Weighted
}

// NewStore creates a Store and verifies connectivity.
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &Store{
		client: client,
		config: config,
		logger: logger.Named("vectorstore"),
		slots:  semaphore.NewWeighted(config.MaxConcurrentCalls),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return s, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// withSlot runs fn holding one bounded worker slot.
func (s *Store) withSlot(ctx context.Context, fn func() error) error {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring storage slot: %w", err)
	}
	defer s.slots.Release(1)
	return fn()
}

// wrapStorageErr maps transient provider failures to the retryable
// ErrStorageUnavailable condition.
func wrapStorageErr(operation string, err error) error {
	if IsTransientError(err) {
		return fmt.Errorf("%s: %w: %v", operation, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// retryRead retries a read operation with exponential backoff.
// Mutations never go through this path: retry-after-partial-write
// semantics differ by operation, so the caller decides.
func (s *Store) retryRead(ctx context.Context, operation string, fn func() error) error {
	backoff := s.config.RetryBackoff
	var err error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err = s.withSlot(ctx, fn); err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", operation, err)
		}
		if attempt == s.config.MaxRetries {
			break
		}
		s.logger.Warn("transient storage failure, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return wrapStorageErr(operation, err)
}

// EnsureCollection creates the multi-tenant collection if absent, with
// the m=0 HNSW template and keyword payload indexes on the scope fields.
// Idempotent: an existing collection is left untouched.
func (s *Store) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Store.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.config.Collection))

	var exists bool
	err := s.retryRead(ctx, "collection_exists", func() error {
		_, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if exists {
		span.SetStatus(codes.Ok, "exists")
		return nil
	}

	p := s.config.HNSW
	err = s.withSlot(ctx, func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
			HnswConfig: &qdrant.HnswConfigDiff{
				M:                  &p.M,
				PayloadM:           &p.PayloadM,
				EfConstruct:        &p.EfConstruct,
				FullScanThreshold:  &p.FullScanThreshold,
				MaxIndexingThreads: &p.MaxIndexingThreads,
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wrapStorageErr("create_collection", err)
	}

	for _, field := range indexedPayloadFields {
		err = s.withSlot(ctx, func() error {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: s.config.Collection,
				FieldName:      field,
				FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return wrapStorageErr("create_payload_index", err)
		}
	}

	s.logger.Info("collection created",
		zap.String("collection", s.config.Collection),
		zap.Uint64("vector_size", s.config.VectorSize),
		zap.Uint64("payload_m", p.PayloadM))
	span.SetStatus(codes.Ok, "created")
	return nil
}

// Upsert writes points under the given scope.
//
// Every payload is stamped and verified to carry the scope's tenant and
// project before anything touches the network; a malformed payload
// rejects the whole batch locally. Points without an ID get a generated
// UUID. Returns the point IDs in input order.
func (s *Store) Upsert(ctx context.Context, scope tenant.Scope, points []Point) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Store.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("point_count", len(points)),
		attribute.String("tenant_id", scope.TenantID),
	)

	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: points cannot be empty", ErrInvalidPayload)
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	ids := make([]string, len(points))
	for i, p := range points {
		// Stamp the scope; client-supplied identity never survives.
		p.Record.TenantID = scope.TenantID
		p.Record.ProjectID = scope.ProjectID
		if err := p.Record.Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		if len(p.Vector) != int(s.config.VectorSize) {
			return nil, fmt.Errorf("%w: point %d has %d dims, collection wants %d",
				ErrInvalidPayload, i, len(p.Vector), s.config.VectorSize)
		}

		id := p.ID
		if id == "" {
			id = uuid.New().String()
		} else if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: point %d id %q is not a UUID", ErrInvalidPayload, i, id)
		}
		ids[i] = id

		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: p.Record.payload(),
		}
	}

	err := s.withSlot(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         qdrantPoints,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapStorageErr("upsert", err)
	}

	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// SearchOptions tunes a scoped search.
type SearchOptions struct {
	// Limit is the maximum number of hits. Default: 10, cap: 1000.
	Limit uint64

	// ScoreThreshold drops hits scoring below it.
	ScoreThreshold float32

	// Extra filter conditions, appended after the mandatory scope
	// prefix. Conditions on scope keys are rejected.
	Extra []Condition
}

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 1000
)

// Search runs a scoped similarity query and returns ranked hits.
func (s *Store) Search(ctx context.Context, scope tenant.Scope, vector []float32, opts SearchOptions) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.String("tenant_id", scope.TenantID),
	)

	if len(vector) != int(s.config.VectorSize) {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection wants %d",
			ErrInvalidConfig, len(vector), s.config.VectorSize)
	}
	if opts.Limit == 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.Limit > maxSearchLimit {
		opts.Limit = maxSearchLimit
	}

	filter, err := ScopeFilter(scope, opts.Extra...)
	if err != nil {
		return nil, err
	}

	query := &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &opts.Limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if s.config.HNSW.Ef > 0 {
		query.Params = &qdrant.SearchParams{HnswEf: &s.config.HNSW.Ef}
	}

	var scored []*qdrant.ScoredPoint
	err = s.retryRead(ctx, "search", func() error {
		res, err := s.client.Query(ctx, query)
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]SearchResult, 0, len(scored))
	for _, point := range scored {
		if point.Score < opts.ScoreThreshold {
			continue
		}
		results = append(results, SearchResult{
			ID:     point.Id.GetUuid(),
			Score:  point.Score,
			Record: recordFromPayload(point.Payload),
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Delete removes points within the scope, by ID list and/or extra filter
// conditions. Deleting by filter alone still carries the mandatory
// tenant/project prefix, so a scope can never delete outside itself.
func (s *Store) Delete(ctx context.Context, scope tenant.Scope, pointIDs []string, extra ...Condition) error {
	ctx, span := tracer.Start(ctx, "Store.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("id_count", len(pointIDs)),
		attribute.String("tenant_id", scope.TenantID),
	)

	if len(pointIDs) == 0 && len(extra) == 0 {
		return fmt.Errorf("%w: delete needs point ids or filter conditions", ErrInvalidPayload)
	}

	filter, err := ScopeFilter(scope, extra...)
	if err != nil {
		return err
	}

	if len(pointIDs) > 0 {
		ids, err := pointIDSelector(pointIDs)
		if err != nil {
			return err
		}
		filter.Must = append(filter.Must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_HasId{
				HasId: &qdrant.HasIdCondition{HasId: ids},
			},
		})
	}

	err = s.withSlot(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wrapStorageErr("delete", err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// pointIDSelector converts caller-supplied point IDs into a selector
// list. A malformed ID rejects the whole call before it reaches the
// server, matching the Upsert checks.
func pointIDSelector(pointIDs []string) ([]*qdrant.PointId, error) {
	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: point %d id %q is not a UUID", ErrInvalidPayload, i, id)
		}
		ids[i] = qdrant.NewIDUUID(id)
	}
	return ids, nil
}

// Stats returns collection counters plus the scoped point count.
func (s *Store) Stats(ctx context.Context, scope tenant.Scope) (*CollectionStats, error) {
	ctx, span := tracer.Start(ctx, "Store.Stats")
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.config.Collection))

	filter, err := ScopeFilter(scope)
	if err != nil {
		return nil, err
	}

	stats := &CollectionStats{
		Collection: s.config.Collection,
		VectorSize: s.config.VectorSize,
	}

	err = s.retryRead(ctx, "collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		if info.PointsCount != nil {
			stats.PointCount = *info.PointsCount
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	err = s.retryRead(ctx, "scoped_count", func() error {
		count, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		stats.ScopedCount = count
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return stats, nil
}
