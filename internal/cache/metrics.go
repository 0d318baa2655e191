package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/retrievald/internal/cache"

// Metrics holds cache instruments.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	failures metric.Int64Counter
}

// NewMetrics creates cache metrics.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.hits, err = m.meter.Int64Counter(
		"retrievald.cache.hits_total",
		metric.WithDescription("Total cache hits by entry kind"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		m.logger.Warn("failed to create hits counter", zap.Error(err))
	}

	m.misses, err = m.meter.Int64Counter(
		"retrievald.cache.misses_total",
		metric.WithDescription("Total cache misses by entry kind"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		m.logger.Warn("failed to create misses counter", zap.Error(err))
	}

	m.failures, err = m.meter.Int64Counter(
		"retrievald.cache.failures_total",
		metric.WithDescription("Total cache operation failures degraded to misses"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create failures counter", zap.Error(err))
	}
}

// RecordLookup records one cache read and its outcome.
func (m *Metrics) RecordLookup(ctx context.Context, kind string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if hit {
		if m.hits != nil {
			m.hits.Add(ctx, 1, attrs)
		}
		return
	}
	if m.misses != nil {
		m.misses.Add(ctx, 1, attrs)
	}
}

// RecordFailure records one degraded cache operation.
func (m *Metrics) RecordFailure(ctx context.Context, operation string) {
	if m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}
