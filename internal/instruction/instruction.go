// Package instruction loads instruction records and locates the documents they reference.
package instruction

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidInstruction marks a malformed or incomplete instruction record.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrMissingDocument marks a referenced document that could not be found.
	ErrMissingDocument = errors.New("missing document")
)

// InvalidError describes why an instruction record was rejected.
type InvalidError struct {
	Source string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid instruction %s: %s", e.Source, e.Reason)
}

func (e *InvalidError) Is(target error) bool { return target == ErrInvalidInstruction }

// DocumentRef names one input document.
type DocumentRef struct {
	Filename string `json:"filename"`
	Title    string `json:"title,omitempty"`
}

// Instruction is one persona + task over an ordered document set. It is not
// modified after loading.
type Instruction struct {
	TestCaseName string
	PersonaRole  string
	Task         string
	Documents    []DocumentRef
	Source       string // file the record was read from, if any
}

type record struct {
	TestCaseName  string `json:"test_case_name"`
	ChallengeInfo struct {
		TestCaseName string `json:"test_case_name"`
	} `json:"challenge_info"`
	Documents *[]DocumentRef `json:"documents"`
	Persona   struct {
		Role *string `json:"role"`
	} `json:"persona"`
	JobToBeDone struct {
		Task *string `json:"task"`
	} `json:"job_to_be_done"`
}

// Load reads and validates the instruction record at path.
func Load(path string) (*Instruction, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read instruction: %w", err)
	}
	return Parse(data, path)
}

// Parse validates an instruction record. source names the record in errors
// and provides the fallback test case name.
func Parse(data []byte, source string) (*Instruction, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &InvalidError{Source: source, Reason: fmt.Sprintf("decode json: %v", err)}
	}

	if rec.Documents == nil {
		return nil, &InvalidError{Source: source, Reason: "documents is required"}
	}
	if rec.Persona.Role == nil || strings.TrimSpace(*rec.Persona.Role) == "" {
		return nil, &InvalidError{Source: source, Reason: "persona.role is required"}
	}
	if rec.JobToBeDone.Task == nil || strings.TrimSpace(*rec.JobToBeDone.Task) == "" {
		return nil, &InvalidError{Source: source, Reason: "job_to_be_done.task is required"}
	}

	docs := make([]DocumentRef, 0, len(*rec.Documents))
	for i, d := range *rec.Documents {
		d.Filename = strings.TrimSpace(d.Filename)
		if d.Filename == "" {
			return nil, &InvalidError{Source: source, Reason: fmt.Sprintf("documents[%d].filename is required", i)}
		}
		docs = append(docs, d)
	}

	name := strings.TrimSpace(rec.TestCaseName)
	if name == "" {
		name = strings.TrimSpace(rec.ChallengeInfo.TestCaseName)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}

	return &Instruction{
		TestCaseName: name,
		PersonaRole:  strings.TrimSpace(*rec.Persona.Role),
		Task:         strings.TrimSpace(*rec.JobToBeDone.Task),
		Documents:    docs,
		Source:       source,
	}, nil
}

// Filenames returns the referenced filenames in order.
func (in *Instruction) Filenames() []string {
	names := make([]string, len(in.Documents))
	for i, d := range in.Documents {
		names[i] = d.Filename
	}
	return names
}
