package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docrank/internal/instruction"
	"github.com/dgallion1/docrank/internal/result"
)

func writeInstruction(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const beachInstruction = `{
  "challenge_info": {"test_case_name": "beach_case"},
  "documents": [{"filename": "A.pdf"}, {"filename": "C.pdf"}],
  "persona": {"role": "Travel Planner"},
  "job_to_be_done": {"task": "Plan a beach trip with swimming"}
}`

const nightInstruction = `{
  "test_case_name": "night_case",
  "documents": [{"filename": "B.md"}],
  "persona": {"role": "Student"},
  "job_to_be_done": {"task": "Find bars open late"}
}`

const invalidInstruction = `{"documents": [], "persona": {"role": "Student"}}`

func runBatch(t *testing.T, workers int) (*Summary, string) {
	t.Helper()
	docDir := fixtureDir(t)
	inDir := t.TempDir()
	outDir := t.TempDir()

	paths := []string{
		writeInstruction(t, inDir, "1_beach.json", beachInstruction),
		writeInstruction(t, inDir, "2_invalid.json", invalidInstruction),
		writeInstruction(t, inDir, "3_night.json", nightInstruction),
	}

	b := NewBatch(newTestRunner(t, hashedEncoder(t), docDir), outDir, workers, nil)
	sum, err := b.Run(context.Background(), paths)
	require.NoError(t, err)
	return sum, outDir
}

func TestBatch_RunSequential(t *testing.T) {
	sum, outDir := runBatch(t, 1)

	assert.Equal(t, 3, sum.Total())
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, outDir, sum.OutputDir)

	beach := sum.Outcomes[0]
	assert.True(t, beach.OK())
	assert.Equal(t, "beach_case", beach.TestCaseName)
	assert.Equal(t, filepath.Join(outDir, "beach_case_output.json"), beach.OutputPath)
	require.NotNil(t, beach.Run)
	assert.Equal(t, StatusPartial, beach.Run.Status)

	invalid := sum.Outcomes[1]
	assert.False(t, invalid.OK())
	assert.ErrorIs(t, invalid.Err, instruction.ErrInvalidInstruction)
	assert.Nil(t, invalid.Run)

	night := sum.Outcomes[2]
	assert.True(t, night.OK())
	assert.Equal(t, StatusCompleted, night.Run.Status)

	data, err := os.ReadFile(beach.OutputPath)
	require.NoError(t, err)
	var out result.Output
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, []string{"A.pdf"}, out.Metadata.InputDocuments)
	assert.Equal(t, "Beach Activities", out.ExtractedSections[0].SectionTitle)
}

func TestBatch_RunParallelKeepsInputOrder(t *testing.T) {
	sum, _ := runBatch(t, 3)

	require.Len(t, sum.Outcomes, 3)
	assert.Equal(t, "beach_case", sum.Outcomes[0].TestCaseName)
	assert.Error(t, sum.Outcomes[1].Err)
	assert.Equal(t, "night_case", sum.Outcomes[2].TestCaseName)
	assert.Equal(t, 2, sum.Succeeded)
}

func TestBatch_ParallelMatchesSequentialOutput(t *testing.T) {
	seq, seqDir := runBatch(t, 1)
	par, parDir := runBatch(t, 4)
	require.Equal(t, seq.Succeeded, par.Succeeded)

	for _, name := range []string{"beach_case_output.json", "night_case_output.json"} {
		a, err := os.ReadFile(filepath.Join(seqDir, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(parDir, name))
		require.NoError(t, err)
		assert.JSONEq(t, string(a), string(b), name)
	}
}

func TestBatch_CanceledContext(t *testing.T) {
	inDir := t.TempDir()
	path := writeInstruction(t, inDir, "night.json", nightInstruction)
	b := NewBatch(newTestRunner(t, hashedEncoder(t), fixtureDir(t)), t.TempDir(), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := b.Run(ctx, []string{path})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Failed)
}

func TestOrchestrator_SubmitAndComplete(t *testing.T) {
	o := NewOrchestrator(newTestRunner(t, hashedEncoder(t), fixtureDir(t)), 2, 4, time.Hour, nil)
	o.Start(context.Background())
	defer o.Stop()

	run, err := o.Submit(travelInstruction("A.pdf", "B.md"))
	require.NoError(t, err)
	assert.Same(t, run, o.GetRun(run.ID))

	require.Eventually(t, func() bool {
		return o.GetRun(run.ID).Snapshot().Status.Done()
	}, 10*time.Second, 10*time.Millisecond)

	snap := run.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	require.NotNil(t, run.Output())
	assert.Equal(t, "Beach Activities", run.Output().ExtractedSections[0].SectionTitle)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	o := NewOrchestrator(newTestRunner(t, hashedEncoder(t), t.TempDir()), 1, 1, time.Hour, nil)

	_, err := o.Submit(travelInstruction())
	require.NoError(t, err)
	assert.Equal(t, 1, o.QueueDepth())

	run, err := o.Submit(travelInstruction())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Snapshot().Status)
}

func TestOrchestrator_StopFailsQueuedAndLaterRuns(t *testing.T) {
	// Not started, so the first run is still queued when Stop is called.
	o := NewOrchestrator(newTestRunner(t, hashedEncoder(t), t.TempDir()), 1, 2, time.Hour, nil)

	queued, err := o.Submit(travelInstruction())
	require.NoError(t, err)

	o.Stop()
	o.Stop()

	snap := queued.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, ErrStopped.Error())

	late, err := o.Submit(travelInstruction())
	require.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, StatusFailed, late.Snapshot().Status)
	assert.Same(t, late, o.GetRun(late.ID))
}
