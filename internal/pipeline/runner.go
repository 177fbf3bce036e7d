package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/chunker"
	"github.com/dgallion1/docrank/internal/config"
	"github.com/dgallion1/docrank/internal/document"
	"github.com/dgallion1/docrank/internal/embedding"
	"github.com/dgallion1/docrank/internal/instruction"
	"github.com/dgallion1/docrank/internal/metrics"
	"github.com/dgallion1/docrank/internal/parser"
	"github.com/dgallion1/docrank/internal/query"
	"github.com/dgallion1/docrank/internal/rank"
	"github.com/dgallion1/docrank/internal/refine"
	"github.com/dgallion1/docrank/internal/result"
	"github.com/dgallion1/docrank/internal/segment"
)

// Options configures a Runner.
type Options struct {
	DocumentDir      string
	Parser           parser.Options
	Segment          segment.Config
	SectionTextChars int // body prefix encoded together with the title
	Rank             rank.Options
	Refine           refine.Config
	Now              func() time.Time
}

// OptionsFromConfig maps the loaded configuration onto runner options.
func OptionsFromConfig(cfg config.Config) Options {
	shortLines := true
	if cfg.Segment.ShortLines != nil {
		shortLines = *cfg.Segment.ShortLines
	}

	refineCfg := refine.DefaultConfig()
	refineCfg.MinSplitChars = cfg.Refine.MinSplitChars
	refineCfg.TopSpans = cfg.Refine.TopSpans
	refineCfg.MaxExcerptChars = cfg.Refine.MaxExcerptChars
	refineCfg.Spans.SentencesPerSpan = cfg.Refine.SentencesPerSpan

	return Options{
		DocumentDir: cfg.Input.DocumentDir,
		Parser:      parser.Options{PDFFallbackPdftotext: cfg.Input.PDFFallbackPdftotext},
		Segment: segment.Config{
			HeadingSizeRatio: cfg.Segment.HeadingSizeRatio,
			TitleMaxChars:    cfg.Segment.TitleMaxChars,
			MinBodyChars:     cfg.Segment.MinBodyChars,
			ShortLines:       shortLines,
		},
		SectionTextChars: cfg.Segment.SectionTextChars,
		Rank: rank.Options{
			MaxSections: cfg.Rank.MaxSections,
			Epsilon:     cfg.Rank.Epsilon,
			Diversify:   cfg.Rank.Diversify,
		},
		Refine: refineCfg,
	}
}

// Runner processes one instruction at a time. It holds no per-instruction
// state, so a single Runner may serve concurrent calls.
type Runner struct {
	parserFor func(filename string, opts parser.Options) (parser.Parser, error)

	enc     embedding.Encoder
	seg     *segment.Segmenter
	refiner *refine.Refiner
	opts    Options
	log     *zap.Logger
}

// NewRunner creates a Runner around an already loaded encoder.
func NewRunner(enc embedding.Encoder, opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SectionTextChars <= 0 {
		opts.SectionTextChars = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		parserFor: parser.ForFile,
		enc:       enc,
		seg:       segment.New(opts.Segment, nil),
		refiner:   refine.New(enc, opts.Refine, log.Named("refine")),
		opts:      opts,
		log:       log,
	}
}

// Process runs the full pipeline for in. The output is nil when the run failed.
func (r *Runner) Process(ctx context.Context, in *instruction.Instruction) (*result.Output, *Run) {
	run := NewRun(in.TestCaseName)
	return r.Execute(ctx, in, run), run
}

// sourceDoc is a document that was found, read and parsed.
type sourceDoc struct {
	index int
	doc   *document.Document
}

// Execute runs the pipeline for in, reporting progress on run.
func (r *Runner) Execute(ctx context.Context, in *instruction.Instruction, run *Run) *result.Output {
	log := r.log.With(zap.String("run_id", run.ID), zap.String("test_case", in.TestCaseName))
	run.UpdateCounts(func(c *Counts) { c.DocumentsRequested = len(in.Documents) })

	// Phase 1: Parse
	run.SetStatus(StatusParsing, "parsing")
	docs := r.parseAll(in, run, log)

	// Phase 2: Segment
	run.SetStatus(StatusSegmenting, "segmenting")
	var sections []*document.Section
	var processed []string
	for _, sd := range docs {
		secs, err := r.seg.Segment(sd.doc, sd.index)
		if err != nil {
			r.skip(run, log, "segmentation", sd.doc.Filename, err)
			continue
		}
		processed = append(processed, sd.doc.Filename)
		sections = append(sections, secs...)
	}
	run.UpdateCounts(func(c *Counts) {
		c.DocumentsProcessed = len(processed)
		c.Sections = len(sections)
	})
	log.Info("segmented documents", zap.Int("documents", len(processed)), zap.Int("sections", len(sections)))

	// Phase 3: Embed the query, then every section that has a body.
	run.SetStatus(StatusEmbedding, "embedding")
	q := query.Build(in.PersonaRole, in.Task)
	qvec, err := r.enc.Encode(ctx, q)
	if err != nil {
		return r.fail(run, log, "embedding", fmt.Errorf("encode query: %w", err))
	}

	encoded, err := r.embedSections(ctx, sections, run, log)
	if err != nil {
		return r.fail(run, log, "embedding", err)
	}
	run.UpdateCounts(func(c *Counts) { c.SectionsEncoded = encoded })

	// Phase 4: Rank
	run.SetStatus(StatusRanking, "ranking")
	ranked, err := rank.Rank(qvec, sections, r.opts.Rank)
	if err != nil {
		return r.fail(run, log, "ranking", err)
	}
	run.UpdateCounts(func(c *Counts) { c.SectionsRanked = len(ranked) })

	// Phase 5: Refine
	run.SetStatus(StatusRefining, "refining")
	failedSpans, err := r.refiner.Refine(ctx, qvec, ranked)
	if err != nil {
		return r.fail(run, log, "refining", err)
	}
	if failedSpans > 0 {
		run.AddWarning(fmt.Sprintf("%d excerpt spans could not be encoded", failedSpans))
		run.UpdateCounts(func(c *Counts) { c.SpansFailed = failedSpans })
	}

	// Phase 6: Assemble
	run.SetStatus(StatusAssembling, "assembling")
	out := result.Assemble(in, processed, ranked, r.opts.Now())
	run.Finish(out)

	metrics.SectionsRankedTotal.Add(float64(len(ranked)))
	metrics.InstructionsTotal.WithLabelValues(string(run.Snapshot().Status)).Inc()
	log.Info("run finished",
		zap.String("status", string(run.Snapshot().Status)),
		zap.Int("ranked", len(ranked)),
		zap.Int("warnings", len(run.Warnings())),
	)
	return out
}

// parseAll resolves and parses the instruction's documents. Every failure is
// isolated to its document and recorded as a warning.
func (r *Runner) parseAll(in *instruction.Instruction, run *Run, log *zap.Logger) []sourceDoc {
	located, warnings := instruction.Resolve(in, r.opts.DocumentDir)
	for _, w := range warnings {
		reason := "duplicate"
		if errors.Is(w, instruction.ErrMissingDocument) {
			reason = "missing"
		}
		r.skip(run, log, reason, "", w)
	}

	seen := make(map[string]string)
	var docs []sourceDoc
	for _, loc := range located {
		data, err := os.ReadFile(filepath.Clean(loc.Path))
		if err != nil {
			r.skip(run, log, "parse", loc.Ref.Filename, err)
			continue
		}

		hash := ContentHashHex(data)
		if first, ok := seen[hash]; ok {
			r.skip(run, log, "duplicate", loc.Ref.Filename, fmt.Errorf("same content as %s", first))
			continue
		}
		seen[hash] = loc.Ref.Filename

		doc, err := r.parse(loc.Ref.Filename, data)
		if err != nil {
			r.skip(run, log, "parse", loc.Ref.Filename, err)
			continue
		}
		docs = append(docs, sourceDoc{index: loc.Index, doc: doc})
	}
	return docs
}

// parse runs the format parser for filename over data. A parser panic on a
// malformed file is returned as an error so only this document is skipped.
func (r *Runner) parse(filename string, data []byte) (doc *document.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			doc = nil
			err = fmt.Errorf("parse: malformed document: %v", rec)
		}
	}()

	p, err := r.parserFor(filename, r.opts.Parser)
	if err != nil {
		return nil, err
	}
	doc, err = p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	doc.Filename = filename
	return doc, nil
}

// embedSections encodes title plus body prefix for every section with a body.
// Sections that fail to encode keep a nil embedding and are left out of ranking.
func (r *Runner) embedSections(ctx context.Context, sections []*document.Section, run *Run, log *zap.Logger) (int, error) {
	var targets []*document.Section
	var texts []string
	for _, s := range sections {
		if !s.HasBody() {
			continue
		}
		targets = append(targets, s)
		texts = append(texts, SectionText(s, r.opts.SectionTextChars))
	}

	vecs, failures, err := embedding.EncodeAll(ctx, r.enc, texts)
	if err != nil {
		return 0, fmt.Errorf("encode sections: %w", err)
	}
	for _, f := range failures {
		s := targets[f.Index]
		msg := fmt.Sprintf("section %q of %s excluded: %v", s.Title, s.Document, f)
		run.AddWarning(msg)
		log.Warn("section encode failed", zap.String("document", s.Document), zap.String("title", s.Title), zap.Error(f))
	}

	encoded := 0
	for i, v := range vecs {
		if v == nil {
			continue
		}
		targets[i].Embedding = v
		encoded++
	}
	return encoded, nil
}

// SectionText is the text a section is represented by for ranking: its title
// followed by the first maxChars characters of its body.
func SectionText(s *document.Section, maxChars int) string {
	body := chunker.Truncate(s.Body, maxChars)
	if s.Title == "" {
		return body
	}
	return s.Title + "\n" + body
}

func (r *Runner) skip(run *Run, log *zap.Logger, reason, filename string, err error) {
	msg := err.Error()
	if filename != "" {
		msg = filename + ": " + msg
	}
	run.AddWarning(msg)
	run.UpdateCounts(func(c *Counts) { c.DocumentsSkipped++ })
	metrics.DocumentsSkippedTotal.WithLabelValues(reason).Inc()
	log.Warn("document skipped", zap.String("reason", reason), zap.String("document", filename), zap.Error(err))
}

func (r *Runner) fail(run *Run, log *zap.Logger, phase string, err error) *result.Output {
	run.Fail(phase, err)
	metrics.InstructionsTotal.WithLabelValues(string(StatusFailed)).Inc()
	log.Error("run failed", zap.String("phase", phase), zap.Error(err))
	return nil
}
