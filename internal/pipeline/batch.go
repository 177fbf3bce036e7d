package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/instruction"
	"github.com/dgallion1/docrank/internal/metrics"
	"github.com/dgallion1/docrank/internal/result"
)

// Outcome is the result of one instruction file in a batch.
type Outcome struct {
	Path         string
	TestCaseName string
	OutputPath   string       // empty when nothing was written
	Run          *RunSnapshot // nil when the instruction could not be loaded
	Err          error
}

// OK reports whether an output file was written.
func (o Outcome) OK() bool { return o.Err == nil && o.OutputPath != "" }

// Summary reports a batch in input order.
type Summary struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	OutputDir string
}

// Total is the number of instruction files attempted.
func (s *Summary) Total() int { return len(s.Outcomes) }

// Batch runs many instruction files through one Runner and writes their outputs.
type Batch struct {
	runner    *Runner
	outputDir string
	workers   int
	log       *zap.Logger
}

// NewBatch creates a batch writer. workers > 1 processes instructions in parallel.
func NewBatch(runner *Runner, outputDir string, workers int, log *zap.Logger) *Batch {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Batch{runner: runner, outputDir: outputDir, workers: workers, log: log}
}

// Run processes every path. One instruction's failure never stops the others;
// the returned error is only set when ctx ended before the batch completed.
func (b *Batch) Run(ctx context.Context, paths []string) (*Summary, error) {
	outcomes := make([]Outcome, len(paths))

	if b.workers == 1 || len(paths) <= 1 {
		for i, p := range paths {
			outcomes[i] = b.one(ctx, p)
		}
	} else if err := b.parallel(ctx, paths, outcomes); err != nil {
		return nil, err
	}

	sum := &Summary{Outcomes: outcomes, OutputDir: b.outputDir}
	for _, o := range outcomes {
		if o.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	b.log.Info("batch finished",
		zap.Int("total", sum.Total()),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return sum, ctx.Err()
}

func (b *Batch) parallel(ctx context.Context, paths []string, outcomes []Outcome) error {
	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return fmt.Errorf("failed to create instruction worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = b.one(ctx, p)
		})
		if err != nil {
			wg.Done()
			outcomes[i] = Outcome{Path: p, Err: fmt.Errorf("submit instruction: %w", err)}
		}
	}
	wg.Wait()
	return nil
}

// one loads, processes and writes a single instruction file.
func (b *Batch) one(ctx context.Context, path string) Outcome {
	o := Outcome{Path: path}
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}

	in, err := instruction.Load(path)
	if err != nil {
		if errors.Is(err, instruction.ErrInvalidInstruction) {
			metrics.InstructionsTotal.WithLabelValues("invalid").Inc()
		}
		b.log.Warn("instruction skipped", zap.String("path", path), zap.Error(err))
		o.Err = err
		return o
	}
	o.TestCaseName = in.TestCaseName

	out, run := b.runner.Process(ctx, in)
	snap := run.Snapshot()
	o.Run = &snap
	if out == nil {
		o.Err = run.Err()
		return o
	}

	written, err := result.Write(b.outputDir, in.TestCaseName, out)
	if err != nil {
		b.log.Error("write output failed", zap.String("test_case", in.TestCaseName), zap.Error(err))
		o.Err = err
		return o
	}
	o.OutputPath = written
	return o
}
