package rank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docrank/internal/document"
)

// unit returns a 2-d vector at angle theta, so cosine with {1,0} is cos(theta).
func unit(theta float64) []float32 {
	return []float32{float32(math.Cos(theta)), float32(math.Sin(theta))}
}

func section(doc, pos, page int, emb []float32) *document.Section {
	return &document.Section{
		DocIndex:  doc,
		Position:  pos,
		Document:  []string{"A.pdf", "B.pdf", "C.pdf"}[doc],
		Page:      page,
		Title:     "t",
		Body:      "body text",
		Embedding: emb,
	}
}

var query = []float32{1, 0}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, err = Cosine([]float32{1, 0}, []float32{0, 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)

	s, err = Cosine([]float32{1, 1}, []float32{-1, -1})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, s, 1e-9)

	s, err = Cosine([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)

	_, err = Cosine([]float32{1}, []float32{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRank_GlobalTopKAcrossDocuments(t *testing.T) {
	// A.pdf has 3 sections, B.pdf has 2; all scores distinct.
	sections := []*document.Section{
		section(0, 0, 1, unit(0.5)),
		section(0, 1, 2, unit(0.1)),
		section(0, 2, 3, unit(1.2)),
		section(1, 0, 1, unit(0.3)),
		section(1, 1, 4, unit(0.9)),
	}

	ranked, err := Rank(query, sections, Options{MaxSections: 4, Epsilon: 1e-9})
	require.NoError(t, err)
	require.Len(t, ranked, 4)

	wantOrder := []*document.Section{sections[1], sections[3], sections[0], sections[4]}
	for i, r := range ranked {
		assert.Same(t, wantOrder[i], r.Section, "rank %d", i+1)
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.LessOrEqual(t, r.Score, ranked[i-1].Score)
		}
	}
	for _, r := range ranked {
		assert.NotSame(t, sections[2], r.Section, "lowest section must be discarded")
	}
}

func TestRank_TieBreakByDocumentPagePosition(t *testing.T) {
	same := []float32{0.6, 0.8}
	a := section(1, 0, 2, same)
	b := section(0, 3, 5, same)
	c := section(0, 1, 5, same)
	d := section(0, 0, 7, same)

	ranked, err := Rank(query, []*document.Section{a, b, c, d}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, ranked, 4)
	assert.Same(t, c, ranked[0].Section)
	assert.Same(t, b, ranked[1].Section)
	assert.Same(t, d, ranked[2].Section)
	assert.Same(t, a, ranked[3].Section)
}

func TestRank_TieWithinEpsilon(t *testing.T) {
	later := section(1, 0, 1, []float32{1, 0})
	earlier := section(0, 0, 1, []float32{1, 1e-4})

	ranked, err := Rank(query, []*document.Section{later, earlier}, Options{MaxSections: 5, Epsilon: 1e-9})
	require.NoError(t, err)
	assert.Same(t, later, ranked[0].Section)

	ranked, err = Rank(query, []*document.Section{later, earlier}, Options{MaxSections: 5, Epsilon: 1e-6})
	require.NoError(t, err)
	assert.Same(t, earlier, ranked[0].Section)
}

func TestRank_ExcludesUnusableSections(t *testing.T) {
	noEmb := section(0, 0, 1, nil)
	empty := section(0, 1, 1, unit(0))
	empty.Body = "  \n\t "
	ok := section(0, 2, 1, unit(0.4))

	ranked, err := Rank(query, []*document.Section{noEmb, empty, nil, ok}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Same(t, ok, ranked[0].Section)
	assert.Equal(t, 1, ranked[0].Rank)
}

func TestRank_FewerThanK(t *testing.T) {
	ranked, err := Rank(query, []*document.Section{section(0, 0, 1, unit(0.2)), section(1, 0, 1, unit(0.1))}, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
}

func TestRank_NoValidSections(t *testing.T) {
	ranked, err := Rank(query, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, ranked)

	ranked, err = Rank(query, []*document.Section{section(0, 0, 1, nil)}, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestRank_DimensionMismatch(t *testing.T) {
	_, err := Rank(query, []*document.Section{section(0, 0, 1, []float32{1, 0, 0})}, DefaultOptions())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRank_Diversify(t *testing.T) {
	// A.pdf dominates the scores; C.pdf's only section is the weakest.
	sections := []*document.Section{
		section(0, 0, 1, unit(0.05)),
		section(0, 1, 1, unit(0.1)),
		section(0, 2, 1, unit(0.15)),
		section(1, 0, 1, unit(0.8)),
		section(2, 0, 1, unit(1.0)),
	}

	plain, err := Rank(query, sections, Options{MaxSections: 3, Epsilon: 1e-9})
	require.NoError(t, err)
	for _, r := range plain {
		assert.Equal(t, 0, r.Section.DocIndex)
	}

	diverse, err := Rank(query, sections, Options{MaxSections: 3, Epsilon: 1e-9, Diversify: true})
	require.NoError(t, err)
	require.Len(t, diverse, 3)
	assert.Same(t, sections[0], diverse[0].Section)
	assert.Same(t, sections[3], diverse[1].Section)
	assert.Same(t, sections[4], diverse[2].Section)
	for i := 1; i < len(diverse); i++ {
		assert.LessOrEqual(t, diverse[i].Score, diverse[i-1].Score)
		assert.Equal(t, i+1, diverse[i].Rank)
	}
}

func TestRank_Deterministic(t *testing.T) {
	build := func() []*document.Section {
		return []*document.Section{
			section(0, 0, 1, unit(0.3)),
			section(1, 0, 1, unit(0.3)),
			section(0, 1, 2, unit(0.2)),
		}
	}
	first, err := Rank(query, build(), DefaultOptions())
	require.NoError(t, err)
	second, err := Rank(query, build(), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Section.DocIndex, second[i].Section.DocIndex)
		assert.Equal(t, first[i].Section.Position, second[i].Section.Position)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestSort_NearTieChainKeepsBestOnTop(t *testing.T) {
	// Each neighbour is within epsilon, the ends are not.
	low := section(0, 0, 1, nil)
	low.Score = 1 - 1.2e-9
	mid := section(1, 0, 1, nil)
	mid.Score = 1 - 0.6e-9
	best := section(2, 0, 1, nil)
	best.Score = 1.0

	sections := []*document.Section{low, mid, best}
	Sort(sections, 1e-9)

	assert.Same(t, mid, sections[0])
	assert.Same(t, best, sections[1])
	assert.Same(t, low, sections[2])
	for i := range sections {
		for j := i + 1; j < len(sections); j++ {
			assert.LessOrEqual(t, sections[j].Score, sections[i].Score+1e-9, "rank %d vs %d", i+1, j+1)
		}
	}
}

func TestRank_NearTieChainKeepsBestInTopK(t *testing.T) {
	sections := []*document.Section{
		section(0, 0, 1, []float32{1, 0}),
		section(1, 0, 1, []float32{1, 0}),
		section(2, 0, 1, []float32{1, 0}),
	}
	ranked, err := Rank(query, sections, Options{MaxSections: 1, Epsilon: 1e-9})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Same(t, sections[0], ranked[0].Section)

	// A single clear winner from a later document always leads.
	sections[2].Embedding = []float32{1, 0}
	sections[0].Embedding = unit(0.01)
	sections[1].Embedding = unit(0.02)
	ranked, err = Rank(query, sections, Options{MaxSections: 1, Epsilon: 1e-9})
	require.NoError(t, err)
	assert.Same(t, sections[2], ranked[0].Section)
}
