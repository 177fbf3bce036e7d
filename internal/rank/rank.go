// Package rank scores sections against a query vector and selects the most
// relevant ones across all documents of an instruction.
package rank

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dgallion1/docrank/internal/document"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Options controls selection.
type Options struct {
	MaxSections int     // Upper bound on returned sections.
	Epsilon     float64 // Scores closer than this are ties.
	Diversify   bool    // Take each document's best section before filling by score.
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{MaxSections: 5, Epsilon: 1e-9}
}

// Cosine returns the cosine similarity of a and b. A zero vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Rank scores every section carrying an embedding and a non-empty body, then
// returns the top sections in descending score order with dense ranks from 1.
// Sections with a mismatched dimension are reported as an error, since a run
// must use one model throughout.
func Rank(query []float32, sections []*document.Section, opts Options) ([]document.RankedSection, error) {
	if opts.MaxSections <= 0 {
		opts.MaxSections = 5
	}
	if opts.Epsilon < 0 {
		opts.Epsilon = 0
	}

	var pool []*document.Section
	for _, s := range sections {
		if s == nil || s.Embedding == nil || !s.HasBody() {
			continue
		}
		score, err := Cosine(query, s.Embedding)
		if err != nil {
			return nil, fmt.Errorf("score %s section %d: %w", s.Document, s.Position, err)
		}
		s.Score = score
		pool = append(pool, s)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	Sort(pool, opts.Epsilon)

	var selected []*document.Section
	if opts.Diversify {
		selected = diversify(pool, opts.MaxSections)
		Sort(selected, opts.Epsilon)
	} else {
		selected = pool[:min(opts.MaxSections, len(pool))]
	}

	ranked := make([]document.RankedSection, len(selected))
	for i, s := range selected {
		ranked[i] = document.RankedSection{Section: s, Rank: i + 1, Score: s.Score}
	}
	return ranked, nil
}

// Sort orders sections by descending score. A run of neighbours whose
// scores lie within epsilon of the run's highest score is a tie group and is
// ordered by document, then page, then position. Groups never overlap, so a
// section is never placed more than epsilon above a better one.
func Sort(sections []*document.Section, epsilon float64) {
	sort.SliceStable(sections, func(i, j int) bool {
		a, b := sections[i], sections[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return before(a, b)
	})

	for start := 0; start < len(sections); {
		end := start + 1
		for end < len(sections) && sections[start].Score-sections[end].Score <= epsilon {
			end++
		}
		group := sections[start:end]
		sort.SliceStable(group, func(i, j int) bool { return before(group[i], group[j]) })
		start = end
	}
}

func before(a, b *document.Section) bool {
	if a.DocIndex != b.DocIndex {
		return a.DocIndex < b.DocIndex
	}
	if a.Page != b.Page {
		return a.Page < b.Page
	}
	return a.Position < b.Position
}

// diversify picks the best section of every document first, in score order,
// then fills the remaining slots from the global order. pool must be sorted.
func diversify(pool []*document.Section, k int) []*document.Section {
	seen := make(map[int]bool)
	taken := make(map[*document.Section]bool)
	var selected []*document.Section

	for _, s := range pool {
		if len(selected) >= k {
			break
		}
		if !seen[s.DocIndex] {
			seen[s.DocIndex] = true
			taken[s] = true
			selected = append(selected, s)
		}
	}
	for _, s := range pool {
		if len(selected) >= k {
			break
		}
		if !taken[s] {
			selected = append(selected, s)
		}
	}
	return selected
}
