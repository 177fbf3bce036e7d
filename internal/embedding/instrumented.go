package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/metrics"
)

// InstrumentedEncoder records latency, outcome counters and debug logs for
// every call to the wrapped encoder.
type InstrumentedEncoder struct {
	inner    Encoder
	provider string
	stats    *LatencyStats
	logger   *zap.Logger
}

func NewInstrumented(inner Encoder, provider string, stats *LatencyStats, logger *zap.Logger) *InstrumentedEncoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = NewLatencyStats(time.Hour)
	}
	return &InstrumentedEncoder{inner: inner, provider: provider, stats: stats, logger: logger}
}

func (e *InstrumentedEncoder) Name() string   { return e.inner.Name() }
func (e *InstrumentedEncoder) Dimension() int { return e.inner.Dimension() }

func (e *InstrumentedEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.inner.Encode(ctx, text)
	e.observe(time.Since(start), 1, err)
	return vec, err
}

func (e *InstrumentedEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := encodeBatch(ctx, e.inner, texts)
	e.observe(time.Since(start), len(texts), err)
	return vecs, err
}

func (e *InstrumentedEncoder) observe(d time.Duration, texts int, err error) {
	e.stats.Record(d, texts, err != nil)
	if err != nil {
		metrics.EncodeRequestsTotal.WithLabelValues(e.provider, "error").Inc()
		e.logger.Debug("encode failed", zap.Int("texts", texts), zap.Duration("duration", d), zap.Error(err))
		return
	}
	metrics.EncodeRequestsTotal.WithLabelValues(e.provider, "success").Inc()
	metrics.EncodeDuration.WithLabelValues(e.provider).Observe(d.Seconds())
	e.logger.Debug("encoded", zap.Int("texts", texts), zap.Duration("duration", d))
}
