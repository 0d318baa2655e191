// Retrievald is a multi-tenant document retrieval daemon.
//
// This binary starts the retrievald HTTP server with full service
// initialization: Qdrant vector store, embedding provider, Redis result
// cache, and the tenant-scoped retrieval API.
//
// Configuration is loaded from ~/.config/retrievald/config.yaml and
// overridden by environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	retrievald
//
//	# Configure via environment
//	SERVER_HTTP_PORT=8080 QDRANT_HOST=localhost retrievald
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/cache"
	"github.com/fyrsmithlabs/retrievald/internal/config"
	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	"github.com/fyrsmithlabs/retrievald/internal/hnsw"
	"github.com/fyrsmithlabs/retrievald/internal/logging"
	"github.com/fyrsmithlabs/retrievald/internal/retrieval"
	"github.com/fyrsmithlabs/retrievald/internal/sanitize"
	"github.com/fyrsmithlabs/retrievald/internal/server"
	"github.com/fyrsmithlabs/retrievald/internal/telemetry"
	"github.com/fyrsmithlabs/retrievald/internal/tenant"
	"github.com/fyrsmithlabs/retrievald/internal/textproc"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/retrievald/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  retrievald           Start the retrieval daemon\n")
			fmt.Fprintf(os.Stderr, "  retrievald version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("retrievald by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the retrievald server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Connects to infrastructure (Qdrant, Redis)
//  4. Creates the embedding computer
//  5. Wires the retrieval service and tenant guard
//  6. Starts the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting retrievald",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:         cfg.Telemetry.Enabled,
		Endpoint:        cfg.Telemetry.Endpoint,
		ServiceName:     cfg.Telemetry.ServiceName,
		ServiceVersion:  version,
		Insecure:        cfg.Telemetry.Insecure,
		SampleRate:      cfg.Telemetry.SampleRate,
		MetricsInterval: cfg.Telemetry.MetricsInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	service, err := retrieval.NewService(deps.store, deps.computer, deps.resultCache(), logger,
		retrieval.WithPipelineDefaults(retrieval.PipelineDefaults{
			Normalization: textproc.Level(cfg.Pipeline.Normalization),
			Chunking: textproc.ChunkOptions{
				Strategy: textproc.Strategy(cfg.Pipeline.ChunkStrategy),
				Size:     cfg.Pipeline.ChunkSize,
				Overlap:  cfg.Pipeline.ChunkOverlap,
			},
		}))
	if err != nil {
		return fmt.Errorf("initializing retrieval service: %w", err)
	}

	guard, err := initGuard(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing tenant guard: %w", err)
	}

	srv, err := server.NewServer(service, guard, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store    *vectorstore.Store
	computer *embeddings.Computer
	cache    *cache.Cache
	logger   *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.cache != nil {
		_ = d.cache.Close()
	}
}

// resultCache returns the cache as the service interface, keeping the
// nil check in one place. A typed nil inside a non-nil interface would
// defeat the service's cache == nil fast path.
func (d *dependencies) resultCache() retrieval.ResultCache {
	if d.cache == nil {
		return nil
	}
	return d.cache
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Resolves HNSW parameters from the workload/dataset templates
//  2. Connects to Qdrant and ensures the collection exists
//  3. Creates the embedding provider and batching computer
//  4. Connects to Redis when the cache is enabled
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	params, err := hnswParams(cfg.HNSW)
	if err != nil {
		return nil, fmt.Errorf("resolving index parameters: %w", err)
	}

	store, err := vectorstore.NewStore(vectorstore.Config{
		Host:               cfg.Qdrant.Host,
		Port:               cfg.Qdrant.Port,
		Collection:         sanitize.Identifier(cfg.Qdrant.Collection),
		VectorSize:         cfg.Qdrant.VectorSize,
		UseTLS:             cfg.Qdrant.UseTLS,
		APIKey:             cfg.Qdrant.APIKey.Value(),
		MaxRetries:         cfg.Qdrant.MaxRetries,
		RetryBackoff:       cfg.Qdrant.RetryBackoff,
		MaxConcurrentCalls: cfg.Qdrant.MaxConcurrentCalls,
		HNSW:               params,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	if err := store.EnsureCollection(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	logger.Info("vector store initialized",
		zap.String("host", cfg.Qdrant.Host),
		zap.Int("port", cfg.Qdrant.Port),
		zap.Uint64("vector_size", cfg.Qdrant.VectorSize))

	provider, err := embeddings.NewHTTPProvider(embeddings.ProviderConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey.Value(),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	computer := embeddings.NewComputer(provider, embeddings.ComputerConfig{
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, logger)

	logger.Info("embedding service initialized",
		zap.String("base_url", cfg.Embeddings.BaseURL),
		zap.String("model", cfg.Embeddings.Model))

	var resultCache *cache.Cache
	if cfg.Cache.Enabled {
		resultCache, err = cache.New(cache.Config{
			Addr:         cfg.Cache.Addr,
			Password:     cfg.Cache.Password.Value(),
			DB:           cfg.Cache.DB,
			SearchTTL:    cfg.Cache.SearchTTL,
			EmbeddingTTL: cfg.Cache.EmbeddingTTL,
			StatsTTL:     cfg.Cache.StatsTTL,
		}, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("result cache initialized", zap.String("addr", cfg.Cache.Addr))
	}

	return &dependencies{
		store:    store,
		computer: computer,
		cache:    resultCache,
		logger:   logger,
	}, nil
}

// hnswParams resolves the configured workload/dataset templates plus any
// explicit overrides into index parameters.
func hnswParams(cfg config.HNSWConfig) (hnsw.Params, error) {
	var overrides []hnsw.Override
	if cfg.PayloadM != 0 {
		overrides = append(overrides, hnsw.WithPayloadM(cfg.PayloadM))
	}
	if cfg.Ef != 0 {
		overrides = append(overrides, hnsw.WithEf(cfg.Ef))
	}
	if cfg.EfConstruct != 0 {
		overrides = append(overrides, hnsw.WithEfConstruct(cfg.EfConstruct))
	}
	if cfg.MaxIndexingThreads != 0 {
		overrides = append(overrides, hnsw.WithMaxIndexingThreads(cfg.MaxIndexingThreads))
	}
	return hnsw.NewParams(hnsw.Workload(cfg.Workload), hnsw.DatasetSize(cfg.DatasetSize), overrides...)
}

// initGuard builds the tenant guard from auth configuration.
func initGuard(cfg *config.Config, logger *zap.Logger) (*tenant.Guard, error) {
	guardCfg := tenant.GuardConfig{
		AllowHeaderIdentity: cfg.Auth.AllowHeaderIdentity,
		MaxBodyBytes:        cfg.Auth.MaxBodyBytes,
	}
	if cfg.Auth.TokenSecret.IsSet() {
		verifier, err := tenant.NewHMACVerifier([]byte(cfg.Auth.TokenSecret.Value()))
		if err != nil {
			return nil, err
		}
		guardCfg.Verifier = verifier
	}
	return tenant.NewGuard(guardCfg, logger)
}
