package segment

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docrank/internal/document"
)

func body(page int, text string) document.Block {
	return document.Block{Page: page, Text: text, FontSize: 11}
}

func heading(page int, text string, size float64) document.Block {
	return document.Block{Page: page, Text: text, FontSize: size, Bold: true}
}

func TestSegment_FontHeadings(t *testing.T) {
	doc := &document.Document{Filename: "guide.pdf", Blocks: []document.Block{
		heading(1, "Coastal Adventures", 18),
		body(1, "Kayaking tours leave the harbour every morning."),
		body(1, "Book a guide in advance during summer."),
		heading(2, "Nightlife", 18),
		body(2, "Bars in the old town stay open late."),
	}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 3)
	require.NoError(t, err)
	require.Len(t, sections, 2)

	assert.Equal(t, "Coastal Adventures", sections[0].Title)
	assert.Equal(t, 1, sections[0].Page)
	assert.Equal(t, "Kayaking tours leave the harbour every morning.\nBook a guide in advance during summer.", sections[0].Body)
	assert.Equal(t, 0, sections[0].Position)
	assert.Equal(t, 3, sections[0].DocIndex)
	assert.Equal(t, "guide.pdf", sections[0].Document)

	assert.Equal(t, "Nightlife", sections[1].Title)
	assert.Equal(t, 2, sections[1].Page)
	assert.Equal(t, 1, sections[1].Position)
	assert.Nil(t, sections[1].Embedding)
}

func TestSegment_SynthesizesTitleBeforeFirstHeading(t *testing.T) {
	doc := &document.Document{Filename: "a.pdf", Blocks: []document.Block{
		body(1, "Welcome to the region and its many towns"),
		body(1, "More introductory text follows here."),
		heading(2, "Where to Stay", 16),
		body(2, "Hotels near the station are convenient."),
	}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "Welcome to the region and its many towns", sections[0].Title)
	assert.Equal(t, 1, sections[0].Page)
	assert.Contains(t, sections[0].Body, "Welcome to the region")
	assert.Equal(t, "Where to Stay", sections[1].Title)
	assert.Equal(t, 2, sections[1].Page)
}

func TestSegment_NoHeadingsOneSectionPerPage(t *testing.T) {
	doc := &document.Document{Filename: "plain.pdf", Blocks: []document.Block{
		body(1, "this is a plain sentence of body text."),
		body(1, "and a second plain sentence on the page."),
		body(2, "   "),
		body(3, "another plain sentence on page three."),
	}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, 1, sections[0].Page)
	assert.Equal(t, "this is a plain sentence of body text.", sections[0].Title)
	assert.Equal(t, 3, sections[1].Page)
	assert.Equal(t, 1, sections[1].Position)
}

func TestSegment_ShortLineFallback(t *testing.T) {
	doc := &document.Document{Filename: "notes.txt", Blocks: []document.Block{
		{Page: 1, Text: "CULINARY EXPERIENCES"},
		{Page: 1, Text: "Try the local bouillabaisse in the old port."},
		{Page: 1, Text: "Wine Tasting Tours"},
		{Page: 1, Text: "Visit Provence vineyards for tastings."},
	}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "CULINARY EXPERIENCES", sections[0].Title)
	assert.Equal(t, "Wine Tasting Tours", sections[1].Title)
}

func TestSegment_ShortLineFallbackDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShortLines = false
	doc := &document.Document{Filename: "notes.txt", Blocks: []document.Block{
		{Page: 1, Text: "CULINARY EXPERIENCES"},
		{Page: 1, Text: "Try the local bouillabaisse in the old port."},
	}}

	sections, err := New(cfg, nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "CULINARY EXPERIENCES", sections[0].Title)
	assert.Equal(t, "CULINARY EXPERIENCES\nTry the local bouillabaisse in the old port.", sections[0].Body)
}

func TestSegment_HeadingWithoutBodyDropped(t *testing.T) {
	doc := &document.Document{Filename: "a.pdf", Blocks: []document.Block{
		heading(1, "Empty Chapter", 18),
		heading(1, "Second Heading", 16),
		body(1, "Body text that is long enough to dominate the font weights."),
		heading(2, "Trailing Heading", 18),
	}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Second Heading", sections[0].Title)
}

func TestSegment_MergesWrappedHeading(t *testing.T) {
	doc := &document.Document{Filename: "a.pdf", Blocks: []document.Block{
		heading(1, "Comprehensive Guide to", 18),
		heading(1, "Southern France", 18),
		body(1, "The south of France is known for its coastline and food."),
	}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Comprehensive Guide to Southern France", sections[0].Title)
}

func TestSegment_StructuralLevels(t *testing.T) {
	doc := &document.Document{Filename: "a.md", Blocks: []document.Block{
		{Page: 1, Text: "Packing list", Level: 2},
		{Page: 1, Text: "Bring sunscreen."},
	}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Packing list", sections[0].Title)
	assert.Equal(t, "Bring sunscreen.", sections[0].Body)
}

func TestSegment_TruncatesLongTitles(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor ", 10)
	doc := &document.Document{Filename: "a.pdf", Blocks: []document.Block{body(1, long)}}

	sections, err := New(DefaultConfig(), nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.LessOrEqual(t, utf8.RuneCountInString(sections[0].Title), 80)
	assert.True(t, strings.HasSuffix(sections[0].Title, "…"))
	assert.True(t, strings.HasPrefix(sections[0].Title, "lorem ipsum dolor"))
}

func TestSegment_MinBodyChars(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBodyChars = 30
	doc := &document.Document{Filename: "a.pdf", Blocks: []document.Block{
		heading(1, "Short", 18),
		body(1, "Too short."),
		heading(1, "Long", 18),
		body(1, "This body has comfortably more than thirty characters."),
	}}

	sections, err := New(cfg, nil).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Long", sections[0].Title)
	assert.Equal(t, 0, sections[0].Position)
}

func TestSegment_EmptyDocument(t *testing.T) {
	sections, err := New(DefaultConfig(), nil).Segment(&document.Document{Filename: "empty.pdf"}, 0)
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestSegment_Failures(t *testing.T) {
	s := New(DefaultConfig(), nil)

	_, err := s.Segment(nil, 0)
	assert.ErrorIs(t, err, ErrSegmentation)

	_, err = s.Segment(&document.Document{Filename: "bad.pdf", Blocks: []document.Block{{Page: 0, Text: "x"}}}, 0)
	assert.ErrorIs(t, err, ErrSegmentation)

	_, err = New(DefaultConfig(), shortDetector{}).Segment(&document.Document{Filename: "a.pdf", Blocks: []document.Block{body(1, "x"), body(1, "y")}}, 0)
	assert.ErrorIs(t, err, ErrSegmentation)

	_, err = New(DefaultConfig(), panicDetector{}).Segment(&document.Document{Filename: "a.pdf", Blocks: []document.Block{body(1, "x")}}, 0)
	assert.ErrorIs(t, err, ErrSegmentation)
}

func TestSegment_CustomDetector(t *testing.T) {
	doc := &document.Document{Filename: "a.txt", Blocks: []document.Block{
		{Page: 1, Text: "# one"},
		{Page: 1, Text: "alpha"},
		{Page: 1, Text: "# two"},
		{Page: 1, Text: "beta"},
	}}

	sections, err := New(DefaultConfig(), prefixDetector{}).Segment(doc, 0)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "# two", sections[1].Title)
	assert.Equal(t, "beta", sections[1].Body)
}

func TestIsShortHeadingLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"CULINARY EXPERIENCES", true},
		{"Things To Do", true},
		{"Nightlife", true},
		{"Ends with period.", false},
		{"• Bullet Point Item", false},
		{"Short", false},
		{"Comprehensive guide to the region", false},
		{"One Two Three Four Five Six Seven", false},
		{"12345678", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsShortHeadingLine(tt.line), tt.line)
	}
}

func TestFontHeuristic_BoldContrast(t *testing.T) {
	blocks := []document.Block{
		{Page: 1, Text: "Packing tips", Bold: true},
		{Page: 1, Text: "bring a light jacket for the cool evenings by the sea in late spring"},
		{Page: 1, Text: "Always bold and ending with a period.", Bold: true},
	}
	flags := NewFontHeuristic(1.15, false).Detect(blocks)
	assert.Equal(t, []bool{true, false, false}, flags)
}

type shortDetector struct{}

func (shortDetector) Detect([]document.Block) []bool { return []bool{false} }

type panicDetector struct{}

func (panicDetector) Detect([]document.Block) []bool { panic("boom") }

type prefixDetector struct{}

func (prefixDetector) Detect(blocks []document.Block) []bool {
	flags := make([]bool, len(blocks))
	for i, b := range blocks {
		flags[i] = strings.HasPrefix(b.Text, "#")
	}
	return flags
}
