package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dgallion1/docrank/internal/pipeline"
)

func TestRenderSummary(t *testing.T) {
	sum := &pipeline.Summary{
		Outcomes: []pipeline.Outcome{
			{
				Path:         "input/beach.json",
				TestCaseName: "beach_case",
				OutputPath:   "output/beach_case_output.json",
				Run: &pipeline.RunSnapshot{
					Status:   pipeline.StatusPartial,
					Counts:   pipeline.Counts{DocumentsSkipped: 1, SectionsRanked: 5},
					Warnings: []string{"missing document: C.pdf"},
				},
			},
			{
				Path: "input/broken.json",
				Err:  errors.New("invalid instruction"),
			},
		},
		Succeeded: 1,
		Failed:    1,
		OutputDir: "output",
	}

	out := renderSummary(sum)
	for _, want := range []string{
		"INSTRUCTION", "beach_case", "partial", "beach_case_output.json",
		"broken.json", "invalid instruction",
		"2 instructions", "1 succeeded", "1 failed", "output: output",
	} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 1, strings.Count(out, "beach_case_output.json"))
}

func TestRenderSummary_TotalsStayOnOneLine(t *testing.T) {
	sum := &pipeline.Summary{
		Outcomes: []pipeline.Outcome{
			{
				Path:         "input/a.json",
				TestCaseName: "a",
				OutputPath:   "output/a_output.json",
				Run:          &pipeline.RunSnapshot{Status: pipeline.StatusCompleted},
			},
			{
				Path:         "input/b.json",
				TestCaseName: "b",
				Run:          &pipeline.RunSnapshot{Status: pipeline.StatusFailed, Error: "model unavailable"},
			},
		},
		Succeeded: 1,
		Failed:    1,
		OutputDir: "output",
	}

	// Render twice so column widths from the first table cannot leak into the second.
	renderSummary(sum)
	out := renderSummary(sum)

	assert.Contains(t, out, "2 instructions: 1 succeeded, 1 failed")
	assert.Zero(t, okStyle.GetWidth())
	assert.Zero(t, warnStyle.GetWidth())
	assert.Zero(t, failStyle.GetWidth())
}

func TestSummaryRow(t *testing.T) {
	row := summaryRow(pipeline.Outcome{
		Path:         "in/a.json",
		TestCaseName: "a",
		OutputPath:   "out/a_output.json",
		Run:          &pipeline.RunSnapshot{Status: pipeline.StatusCompleted, Counts: pipeline.Counts{SectionsRanked: 3}},
	})
	assert.Equal(t, []string{"a", "completed", "0", "3", "0", "a_output.json"}, row)

	row = summaryRow(pipeline.Outcome{Path: "in/bad.json", Err: errors.New("boom")})
	assert.Equal(t, []string{"bad.json", "invalid", "-", "-", "-", "boom"}, row)
}
