package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgallion1/docrank/internal/instruction"
)

// ErrStopped is returned by Submit once the orchestrator has been stopped.
var ErrStopped = errors.New("orchestrator stopped")

// job pairs a queued run with the instruction it processes.
type job struct {
	run *Run
	in  *instruction.Instruction
}

// Orchestrator queues instructions submitted over HTTP and runs them on a
// fixed set of workers.
type Orchestrator struct {
	runs    *RunStore
	queue   chan job
	runner  *Runner
	log     *zap.Logger
	workers int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewOrchestrator creates the pipeline. Call Start before submitting.
func NewOrchestrator(runner *Runner, workers, queueSize int, runTTL time.Duration, log *zap.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		runs:    NewRunStore(runTTL),
		queue:   make(chan job, queueSize),
		runner:  runner,
		log:     log,
		workers: workers,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case j, ok := <-o.queue:
					if !ok {
						return
					}
					o.runner.Execute(workerCtx, j.in, j.run)
				}
			}
		}()
	}

	// Start run store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.runs.Cleanup()
			}
		}
	}()
}

// Stop shuts down the workers. Later submissions fail with ErrStopped and
// runs still waiting in the queue are marked failed.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	for j := range o.queue {
		j.run.Fail("queued", ErrStopped)
	}
}

// Submit queues in for processing and returns its run.
func (o *Orchestrator) Submit(in *instruction.Instruction) (*Run, error) {
	run := NewRun(in.TestCaseName)
	o.runs.Put(run)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		run.Fail("queued", ErrStopped)
		return run, ErrStopped
	}
	select {
	case o.queue <- job{run: run, in: in}:
		return run, nil
	default:
		run.Fail("queued", fmt.Errorf("queue full"))
		return run, fmt.Errorf("run queue is full (%d)", cap(o.queue))
	}
}

// GetRun returns a run by ID.
func (o *Orchestrator) GetRun(id string) *Run {
	return o.runs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
