// Package result builds and writes the per-instruction output record.
package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/docrank/internal/document"
	"github.com/dgallion1/docrank/internal/instruction"
)

// Output is the serialized record. Field order is fixed by struct order.
type Output struct {
	Metadata           Metadata            `json:"metadata"`
	ExtractedSections  []ExtractedSection  `json:"extracted_sections"`
	SubsectionAnalysis []SubsectionAnalysis `json:"subsection_analysis"`
}

type Metadata struct {
	InputDocuments      []string `json:"input_documents"`
	Persona             string   `json:"persona"`
	JobToBeDone         string   `json:"job_to_be_done"`
	ProcessingTimestamp string   `json:"processing_timestamp"`
}

type ExtractedSection struct {
	Document       string `json:"document"`
	SectionTitle   string `json:"section_title"`
	ImportanceRank int    `json:"importance_rank"`
	PageNumber     int    `json:"page_number"`
}

type SubsectionAnalysis struct {
	Document    string `json:"document"`
	RefinedText string `json:"refined_text"`
	PageNumber  int    `json:"page_number"`
}

// Assemble structures ranked sections into an Output. It does no scoring.
// processed lists the documents that were found and parsed, in instruction order.
func Assemble(in *instruction.Instruction, processed []string, ranked []document.RankedSection, now time.Time) *Output {
	out := &Output{
		Metadata: Metadata{
			InputDocuments:      append([]string{}, processed...),
			Persona:             in.PersonaRole,
			JobToBeDone:         in.Task,
			ProcessingTimestamp: now.Format(time.RFC3339),
		},
		ExtractedSections:  make([]ExtractedSection, 0, len(ranked)),
		SubsectionAnalysis: make([]SubsectionAnalysis, 0, len(ranked)),
	}

	for _, r := range ranked {
		out.ExtractedSections = append(out.ExtractedSections, ExtractedSection{
			Document:       r.Section.Document,
			SectionTitle:   r.Section.Title,
			ImportanceRank: r.Rank,
			PageNumber:     r.Section.Page,
		})
		out.SubsectionAnalysis = append(out.SubsectionAnalysis, SubsectionAnalysis{
			Document:    r.Section.Document,
			RefinedText: r.Excerpt,
			PageNumber:  r.Section.Page,
		})
	}
	return out
}

// Marshal encodes out with 4-space indentation and without HTML escaping.
func Marshal(out *Output) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return buf.Bytes(), nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns "{test_case_name}_output.json" with the name made safe for the filesystem.
func FileName(testCaseName string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(testCaseName, "_"), "._")
	if name == "" {
		name = "output"
	}
	return name + "_output.json"
}

// Write stores out in dir under FileName(testCaseName). The file is written to
// a temporary name first and renamed into place.
func Write(dir, testCaseName string, out *Output) (string, error) {
	data, err := Marshal(out)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, FileName(testCaseName))
	tmp, err := os.CreateTemp(dir, ".docrank-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return "", fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename output: %w", err)
	}
	return path, nil
}
