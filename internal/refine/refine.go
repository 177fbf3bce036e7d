// Package refine picks the most query-relevant spans of a selected section as
// its excerpt. It never changes rank or score.
package refine

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/chunker"
	"github.com/dgallion1/docrank/internal/document"
	"github.com/dgallion1/docrank/internal/embedding"
	"github.com/dgallion1/docrank/internal/rank"
)

// Config controls excerpt selection.
type Config struct {
	MinSplitChars   int // Bodies shorter than this are used whole.
	TopSpans        int // Spans joined into the excerpt.
	MaxExcerptChars int // Hard cap on excerpt length.
	Spans           chunker.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSplitChars:   120,
		TopSpans:        1,
		MaxExcerptChars: 800,
		Spans:           chunker.DefaultConfig(),
	}
}

type Refiner struct {
	enc    embedding.Encoder
	cfg    Config
	logger *zap.Logger
}

func New(enc embedding.Encoder, cfg Config, logger *zap.Logger) *Refiner {
	if cfg.TopSpans <= 0 {
		cfg.TopSpans = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{enc: enc, cfg: cfg, logger: logger}
}

// Refine fills the Excerpt of every ranked section in place and returns how
// many spans could not be encoded. Only context cancellation is an error.
func (r *Refiner) Refine(ctx context.Context, query []float32, ranked []document.RankedSection) (int, error) {
	failed := 0
	for i := range ranked {
		excerpt, n, err := r.Excerpt(ctx, query, ranked[i].Section.Body)
		if err != nil {
			return failed, err
		}
		failed += n
		ranked[i].Excerpt = excerpt
	}
	return failed, nil
}

type scoredSpan struct {
	pos   int
	text  string
	score float64
}

// Excerpt returns the excerpt for one body and the number of spans that failed to encode.
func (r *Refiner) Excerpt(ctx context.Context, query []float32, body string) (string, int, error) {
	whole := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(whole) < r.cfg.MinSplitChars {
		return r.limit(whole, body), 0, nil
	}

	spans := chunker.Spans(body, r.cfg.Spans)
	if len(spans) <= 1 {
		return r.limit(whole, body), 0, nil
	}

	vecs, failures, err := embedding.EncodeAll(ctx, r.enc, spans)
	if err != nil {
		return "", 0, err
	}
	for _, f := range failures {
		r.logger.Debug("span skipped", zap.Int("span", f.Index), zap.Error(f.Err))
	}

	var scored []scoredSpan
	for i, v := range vecs {
		if v == nil {
			continue
		}
		s, err := rank.Cosine(query, v)
		if err != nil {
			continue
		}
		scored = append(scored, scoredSpan{pos: i, text: spans[i], score: s})
	}
	if len(scored) == 0 {
		return r.limit(whole, body), len(failures), nil
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	top := scored[:min(r.cfg.TopSpans, len(scored))]
	sort.Slice(top, func(i, j int) bool { return top[i].pos < top[j].pos })

	parts := make([]string, len(top))
	for i, s := range top {
		parts[i] = s.text
	}
	return r.limit(strings.Join(parts, " "), body), len(failures), nil
}

// limit applies the excerpt cap and never returns more runes than body holds.
func (r *Refiner) limit(excerpt, body string) string {
	excerpt = chunker.Truncate(excerpt, r.cfg.MaxExcerptChars)
	if n := utf8.RuneCountInString(body); utf8.RuneCountInString(excerpt) > n {
		excerpt = chunker.Truncate(excerpt, n)
	}
	return excerpt
}
