package embedding

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI-compatible embedding server running on
// this host, such as llama.cpp or ollama.
type OpenAIConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Dimension   int // 0 learns the dimension from the startup probe
	MaxRetries  int
	BackoffBase time.Duration
	Logger      *zap.Logger
}

// OpenAIEncoder calls a loopback OpenAI-compatible /embeddings endpoint.
type OpenAIEncoder struct {
	client      *openai.Client
	model       openai.EmbeddingModel
	dimension   int
	maxRetries  int
	backoffBase time.Duration
	logger      *zap.Logger
}

// NewOpenAIEncoder validates the endpoint is local and probes it once.
func NewOpenAIEncoder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEncoder, error) {
	if err := requireLoopback(cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embedding model name is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = MaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	e := &OpenAIEncoder{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       openai.EmbeddingModel(cfg.Model),
		dimension:   cfg.Dimension,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		logger:      cfg.Logger,
	}

	probe, err := e.EncodeBatch(ctx, []string{"probe"})
	if err != nil {
		return nil, fmt.Errorf("probe embedding server: %w", err)
	}
	got := len(probe[0])
	if got == 0 {
		return nil, fmt.Errorf("probe embedding server: empty vector")
	}
	if e.dimension > 0 && got != e.dimension {
		return nil, fmt.Errorf("probe embedding server: dimension %d, configured %d", got, e.dimension)
	}
	e.dimension = got
	return e, nil
}

func (e *OpenAIEncoder) Name() string   { return string(e.model) }
func (e *OpenAIEncoder) Dimension() int { return e.dimension }

func (e *OpenAIEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch sends all texts in one request, retrying transient failures.
func (e *OpenAIEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	var resp openai.EmbeddingResponse
	var lastErr error
	for attempt := range e.maxRetries {
		resp, lastErr = e.client.CreateEmbeddings(ctx, req)
		if lastErr == nil {
			break
		}
		lastErr = classify(lastErr)
		if !IsRetryable(lastErr) || attempt == e.maxRetries-1 {
			break
		}
		e.logger.Warn("retryable embedding error", zap.Int("attempt", attempt), zap.Error(lastErr))
		select {
		case <-time.After(Backoff(attempt, e.backoffBase)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("create embeddings: %w", lastErr)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: server returned %d vectors for %d inputs", ErrEncoding, len(resp.Data), len(texts))
	}
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	vecs := make([][]float32, len(texts))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// requireLoopback rejects endpoints that would reach beyond this host.
func requireLoopback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid embedding server url %q", raw)
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("embedding server %q is not a loopback address; remote models are not allowed", host)
}
