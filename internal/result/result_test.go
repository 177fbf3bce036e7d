package result

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docrank/internal/document"
	"github.com/dgallion1/docrank/internal/instruction"
)

var fixedTime = time.Date(2025, 7, 10, 15, 31, 22, 0, time.UTC)

func sample() (*instruction.Instruction, []document.RankedSection) {
	in := &instruction.Instruction{TestCaseName: "travel_planner", PersonaRole: "Travel Planner", Task: "Plan a trip"}
	ranked := []document.RankedSection{
		{Section: &document.Section{Document: "B.pdf", Title: "Coastal Adventures", Page: 2}, Rank: 1, Score: 0.9, Excerpt: "Beaches & coves <Nice>"},
		{Section: &document.Section{Document: "A.pdf", Title: "Nightlife", Page: 11}, Rank: 2, Score: 0.7, Excerpt: "Bars"},
	}
	return in, ranked
}

func TestAssemble(t *testing.T) {
	in, ranked := sample()
	out := Assemble(in, []string{"A.pdf", "B.pdf"}, ranked, fixedTime)

	assert.Equal(t, []string{"A.pdf", "B.pdf"}, out.Metadata.InputDocuments)
	assert.Equal(t, "Travel Planner", out.Metadata.Persona)
	assert.Equal(t, "Plan a trip", out.Metadata.JobToBeDone)
	assert.Equal(t, "2025-07-10T15:31:22Z", out.Metadata.ProcessingTimestamp)

	require.Len(t, out.ExtractedSections, 2)
	assert.Equal(t, ExtractedSection{Document: "B.pdf", SectionTitle: "Coastal Adventures", ImportanceRank: 1, PageNumber: 2}, out.ExtractedSections[0])
	require.Len(t, out.SubsectionAnalysis, 2)
	assert.Equal(t, SubsectionAnalysis{Document: "A.pdf", RefinedText: "Bars", PageNumber: 11}, out.SubsectionAnalysis[1])
}

func TestAssemble_EmptyRankingSerializesEmptyLists(t *testing.T) {
	in, _ := sample()
	data, err := Marshal(Assemble(in, nil, nil, fixedTime))
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"input_documents": []`)
	assert.Contains(t, s, `"extracted_sections": []`)
	assert.Contains(t, s, `"subsection_analysis": []`)
}

func TestMarshal_StableLayout(t *testing.T) {
	in, ranked := sample()
	data, err := Marshal(Assemble(in, []string{"A.pdf"}, ranked[:1], fixedTime))
	require.NoError(t, err)

	want := `{
    "metadata": {
        "input_documents": [
            "A.pdf"
        ],
        "persona": "Travel Planner",
        "job_to_be_done": "Plan a trip",
        "processing_timestamp": "2025-07-10T15:31:22Z"
    },
    "extracted_sections": [
        {
            "document": "B.pdf",
            "section_title": "Coastal Adventures",
            "importance_rank": 1,
            "page_number": 2
        }
    ],
    "subsection_analysis": [
        {
            "document": "B.pdf",
            "refined_text": "Beaches & coves <Nice>",
            "page_number": 2
        }
    ]
}
`
	assert.Equal(t, want, string(data))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "travel_planner_output.json", FileName("travel_planner"))
	assert.Equal(t, "a_b_output.json", FileName("a/b"))
	assert.Equal(t, "etc_passwd_output.json", FileName("../etc/passwd"))
	assert.Equal(t, "output_output.json", FileName(""))
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	in, ranked := sample()
	out := Assemble(in, []string{"A.pdf", "B.pdf"}, ranked, fixedTime)

	path, err := Write(dir, in.TestCaseName, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "travel_planner_output.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Output
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *out, decoded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasPrefix(entries[0].Name(), ".docrank-"))

	// Overwrite is atomic and leaves a single file.
	_, err = Write(dir, in.TestCaseName, out)
	require.NoError(t, err)
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
