package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/retrievald/internal/textproc"
)

// RetryPolicy bounds retries of one provider batch call.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per batch. Default: 3.
	MaxAttempts int

	// BaseBackoff is the first wait, doubling per attempt. Default: 1s.
	BaseBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 10s.
	MaxBackoff time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Default: everything except context cancellation and count
	// mismatches.
	Retryable func(error) bool
}

// ApplyDefaults fills unset policy fields.
func (p *RetryPolicy) ApplyDefaults() {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.BaseBackoff == 0 {
		p.BaseBackoff = time.Second
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.Retryable == nil {
		p.Retryable = func(err error) bool {
			return !errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded) &&
				!errors.Is(err, ErrCountMismatch)
		}
	}
}

// BatchResult is the outcome of embedding one deduplicated chunk batch.
//
// Invariant: len(Vectors) == len(Chunks). A violation aborts the
// operation instead of producing a truncated result.
type BatchResult struct {
	Chunks      []textproc.Chunk    `json:"chunks"`
	Vectors     [][]float32         `json:"vectors"`
	Model       string              `json:"model_id"`
	ElapsedMS   float64             `json:"elapsed_ms"`
	TotalTokens int                 `json:"total_tokens"`
	Dedup       textproc.DedupStats `json:"dedup_stats"`
}

// ComputerConfig configures the batching computer.
type ComputerConfig struct {
	// BatchSize is the number of chunks per provider call. Default: 32.
	BatchSize int

	// Retry is the per-batch retry policy.
	Retry RetryPolicy

	// RequestsPerSecond paces provider calls. Zero disables pacing.
	RequestsPerSecond float64
}

// Computer batches unique chunks through an embedding provider.
//
// Batches are submitted sequentially, never concurrently, to respect
// provider rate limits; order is preserved end to end.
type Computer struct {
	provider Provider
	config   ComputerConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *Metrics
}

// NewComputer creates a Computer around a provider.
func NewComputer(provider Provider, config ComputerConfig, logger *zap.Logger) *Computer {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	config.Retry.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Computer{
		provider: provider,
		config:   config,
		limiter:  limiter,
		logger:   logger.Named("embeddings"),
		metrics:  NewMetrics(logger),
	}
}

// Model returns the underlying provider's model identifier.
func (c *Computer) Model() string {
	return c.provider.Model()
}

// ComputeBatch embeds deduplicated chunks, one vector per chunk in the
// same order. The dedup stats are carried through for reporting.
//
// A cancelled context aborts mid-batch with no partial result: the
// count invariant makes a shorter vector list unrepresentable.
func (c *Computer) ComputeBatch(ctx context.Context, chunks []textproc.Chunk, dedup textproc.DedupStats) (*BatchResult, error) {
	start := time.Now()
	var genErr error
	defer func() {
		c.metrics.RecordGeneration(ctx, c.provider.Model(), "compute_batch", time.Since(start), len(chunks), genErr)
	}()

	if len(chunks) == 0 {
		genErr = fmt.Errorf("%w: chunks cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors := make([][]float32, 0, len(chunks))
	tokens := 0

	for batchStart := 0; batchStart < len(chunks); batchStart += c.config.BatchSize {
		batchEnd := batchStart + c.config.BatchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}

		texts := make([]string, 0, batchEnd-batchStart)
		for _, chunk := range chunks[batchStart:batchEnd] {
			texts = append(texts, chunk.Text)
			tokens += estimateTokens(chunk.Text)
		}

		batchVectors, err := c.embedWithRetry(ctx, texts)
		if err != nil {
			genErr = err
			return nil, err
		}
		vectors = append(vectors, batchVectors...)
	}

	if len(vectors) != len(chunks) {
		genErr = fmt.Errorf("%w: %d chunks, %d vectors", ErrCountMismatch, len(chunks), len(vectors))
		return nil, genErr
	}

	return &BatchResult{
		Chunks:      chunks,
		Vectors:     vectors,
		Model:       c.provider.Model(),
		ElapsedMS:   float64(time.Since(start).Microseconds()) / 1000.0,
		TotalTokens: tokens,
		Dedup:       dedup,
	}, nil
}

// EmbedQuery embeds a single text: the degenerate batch-of-one path used
// at query time.
func (c *Computer) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		c.metrics.RecordGeneration(ctx, c.provider.Model(), "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := c.embedWithRetry(ctx, []string{text})
	if err != nil {
		genErr = err
		return nil, err
	}
	return vectors[0], nil
}

// embedWithRetry submits one batch under the retry policy and verifies
// the per-batch count invariant.
func (c *Computer) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := c.config.Retry
	backoff := policy.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		vectors, err := c.provider.Embed(ctx, texts)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("%w: sent %d texts, got %d vectors",
					ErrCountMismatch, len(texts), len(vectors))
			}
			return vectors, nil
		}
		lastErr = err

		if !policy.Retryable(err) || attempt == policy.MaxAttempts {
			break
		}

		c.logger.Warn("embedding batch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("batch_size", len(texts)),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("embedding canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return nil, fmt.Errorf("embedding batch after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// estimateTokens approximates token usage at four characters per token,
// close enough for the usage counters this feeds.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
