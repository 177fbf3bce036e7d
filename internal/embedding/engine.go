package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/metrics"
)

// Providers.
const (
	ProviderHashed = "hashed"
	ProviderOpenAI = "openai"
)

// Config selects and tunes the embedding provider.
type Config struct {
	Provider  string
	Dir       string // hashed: model directory holding model.yaml
	BaseURL   string // openai: loopback server url
	Model     string // openai: model name
	APIKey    string
	Dimension int
	CacheSize int // 0 disables the cache
	StatsAge  time.Duration
}

// Engine is the process-wide encoder. It is loaded once by the orchestration
// layer and passed by reference to everything that encodes text.
type Engine struct {
	Encoder
	provider string
	stats    *LatencyStats
}

// Load builds the configured provider, wraps it with caching and
// instrumentation, and returns the ready engine. Any failure is reported as
// ErrModelUnavailable.
func Load(ctx context.Context, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderHashed
	}

	var base Encoder
	switch cfg.Provider {
	case ProviderHashed:
		m, err := LoadHashedModel(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		if cfg.Dimension > 0 && m.Dimension() != cfg.Dimension {
			return nil, fmt.Errorf("%w: model dimension %d, configured %d", ErrModelUnavailable, m.Dimension(), cfg.Dimension)
		}
		base = m
	case ProviderOpenAI:
		e, err := NewOpenAIEncoder(ctx, OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		base = e
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrModelUnavailable, cfg.Provider)
	}

	return newEngine(base, cfg, logger), nil
}

// NewEngine wraps an already constructed encoder. Tests and embedders of the
// library use it to inject their own model.
func NewEngine(base Encoder, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newEngine(base, cfg, logger)
}

func newEngine(base Encoder, cfg Config, logger *zap.Logger) *Engine {
	provider := cfg.Provider
	if provider == "" {
		provider = "custom"
	}

	enc := base
	if cfg.CacheSize > 0 {
		enc = NewCached(enc, cfg.CacheSize, metrics.EncodeCacheTotal)
	}
	stats := NewLatencyStats(cfg.StatsAge)
	enc = NewInstrumented(enc, provider, stats, logger.Named("embedding"))

	logger.Info("embedding model loaded",
		zap.String("provider", provider),
		zap.String("model", base.Name()),
		zap.Int("dimension", base.Dimension()),
		zap.Int("cache_size", cfg.CacheSize),
	)
	return &Engine{Encoder: enc, provider: provider, stats: stats}
}

// EncodeBatch encodes texts in order through the provider's batch path when it has one.
func (e *Engine) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return encodeBatch(ctx, e.Encoder, texts)
}

// Stats returns the rolling latency aggregate for this engine.
func (e *Engine) Stats() StatsSnapshot {
	snap := e.stats.Snapshot()
	snap.Provider = e.provider
	snap.Model = e.Name()
	return snap
}
