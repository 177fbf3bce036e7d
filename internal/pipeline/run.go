package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docrank/internal/result"
)

// RunStatus represents the state of an instruction run.
type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusParsing    RunStatus = "parsing"
	StatusSegmenting RunStatus = "segmenting"
	StatusEmbedding  RunStatus = "embedding"
	StatusRanking    RunStatus = "ranking"
	StatusRefining   RunStatus = "refining"
	StatusAssembling RunStatus = "assembling"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusPartial    RunStatus = "partial"
)

// Done reports whether the status is terminal.
func (s RunStatus) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// Run tracks the processing of a single instruction.
type Run struct {
	mu sync.Mutex

	ID           string    `json:"run_id"`
	TestCaseName string    `json:"test_case_name"`
	Status       RunStatus `json:"status"`
	Phase        string    `json:"phase"`
	Counts       Counts    `json:"counts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	warnings []string
	output   *result.Output
	err      error
}

// Counts tracks what a run consumed and produced.
type Counts struct {
	DocumentsRequested int `json:"documents_requested"`
	DocumentsProcessed int `json:"documents_processed"`
	DocumentsSkipped   int `json:"documents_skipped"`
	Sections           int `json:"sections"`
	SectionsEncoded    int `json:"sections_encoded"`
	SectionsRanked     int `json:"sections_ranked"`
	SpansFailed        int `json:"spans_failed"`
}

// NewRun creates a queued run with a fresh ID.
func NewRun(testCaseName string) *Run {
	now := time.Now()
	return &Run{
		ID:           uuid.NewString(),
		TestCaseName: testCaseName,
		Status:       StatusQueued,
		Phase:        "queued",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SetStatus updates run status atomically.
func (r *Run) SetStatus(status RunStatus, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
	r.Phase = phase
	r.UpdatedAt = time.Now()
}

// AddWarning records a non-fatal problem.
func (r *Run) AddWarning(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
	r.UpdatedAt = time.Now()
}

// Warnings returns a copy of the recorded warnings.
func (r *Run) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.warnings...)
}

// UpdateCounts applies fn to the run's counters under the lock.
func (r *Run) UpdateCounts(fn func(c *Counts)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.Counts)
	r.UpdatedAt = time.Now()
}

// Fail marks the run failed in phase with err.
func (r *Run) Fail(phase string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = StatusFailed
	r.Phase = phase
	r.err = err
	r.UpdatedAt = time.Now()
}

// Finish stores the output and marks the run completed, or partial when
// warnings were recorded along the way.
func (r *Run) Finish(out *result.Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = out
	r.Status = StatusCompleted
	if len(r.warnings) > 0 {
		r.Status = StatusPartial
	}
	r.Phase = "done"
	r.UpdatedAt = time.Now()
}

// Output returns the assembled result, or nil while running or after failure.
func (r *Run) Output() *result.Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// Err returns the error that failed the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID           string    `json:"run_id"`
	TestCaseName string    `json:"test_case_name"`
	Status       RunStatus `json:"status"`
	Phase        string    `json:"phase"`
	Counts       Counts    `json:"counts"`
	Warnings     []string  `json:"warnings"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	warnings := append([]string{}, r.warnings...)
	snap := RunSnapshot{
		ID:           r.ID,
		TestCaseName: r.TestCaseName,
		Status:       r.Status,
		Phase:        r.Phase,
		Counts:       r.Counts,
		Warnings:     warnings,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	return snap
}

// RunStore is a thread-safe in-memory run registry with TTL eviction.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Cleanup removes finished runs not updated within the TTL.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, run := range s.runs {
		run.mu.Lock()
		expired := run.Status.Done() && now.Sub(run.UpdatedAt) > s.ttl
		run.mu.Unlock()
		if expired {
			delete(s.runs, id)
		}
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
