package segment

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dgallion1/docrank/internal/document"
)

// HeadingDetector classifies each block of a document as heading or body.
// The returned slice has one entry per input block.
type HeadingDetector interface {
	Detect(blocks []document.Block) []bool
}

// FontHeuristic is the default detector. A block is a heading when the source
// format marks it as one, when its font is distinctly larger than the dominant
// body font, or when it is a short bold line in a non-bold body. Documents with
// no such signal fall back to the short-line heuristic when enabled.
type FontHeuristic struct {
	SizeRatio       float64 // Minimum font size relative to body font.
	MaxHeadingWords int     // Longer lines are never headings by font alone.
	ShortLines      bool    // Enable the short-line fallback.
}

// NewFontHeuristic returns a FontHeuristic with defaults applied.
func NewFontHeuristic(sizeRatio float64, shortLines bool) *FontHeuristic {
	if sizeRatio <= 1 {
		sizeRatio = 1.15
	}
	return &FontHeuristic{SizeRatio: sizeRatio, MaxHeadingWords: 20, ShortLines: shortLines}
}

func (h *FontHeuristic) Detect(blocks []document.Block) []bool {
	flags := make([]bool, len(blocks))
	bodySize, bodyBold := bodyFont(blocks)

	found := false
	for i, b := range blocks {
		if h.fontHeading(b, bodySize, bodyBold) {
			flags[i] = true
			found = true
		}
	}
	if found || !h.ShortLines {
		return flags
	}

	for i, b := range blocks {
		flags[i] = IsShortHeadingLine(b.Text)
	}
	return flags
}

func (h *FontHeuristic) fontHeading(b document.Block, bodySize float64, bodyBold bool) bool {
	if b.Level > 0 {
		return true
	}
	words := len(strings.Fields(b.Text))
	if words == 0 || words > h.MaxHeadingWords {
		return false
	}
	if b.FontSize > 0 && bodySize > 0 && b.FontSize >= bodySize*h.SizeRatio {
		return true
	}
	return b.Bold && !bodyBold && words <= 12 && !strings.HasSuffix(b.Text, ".")
}

// bodyFont returns the font size carrying the most characters and whether most
// characters are bold. Ties go to the smaller size.
func bodyFont(blocks []document.Block) (float64, bool) {
	weights := make(map[float64]int)
	total, bold := 0, 0
	for _, b := range blocks {
		n := utf8.RuneCountInString(b.Text)
		total += n
		if b.Bold {
			bold += n
		}
		if b.FontSize > 0 {
			weights[math.Round(b.FontSize*10)/10] += n
		}
	}

	size, best := 0.0, -1
	for s, n := range weights {
		if n > best || (n == best && s < size) {
			size, best = s, n
		}
	}
	return size, total > 0 && bold*2 > total
}

// IsShortHeadingLine reports whether a line looks like a heading on text alone:
// at most 6 words, more than 5 characters, all caps or title case, no trailing
// period and not a bullet.
func IsShortHeadingLine(line string) bool {
	line = strings.TrimSpace(line)
	if len(strings.Fields(line)) > 6 || utf8.RuneCountInString(line) <= 5 {
		return false
	}
	if strings.HasSuffix(line, ".") || isBullet(line) {
		return false
	}
	if !strings.ContainsFunc(line, unicode.IsLetter) {
		return false
	}
	// Casers carry transform state and are not shared across goroutines.
	return cases.Upper(language.Und).String(line) == line || cases.Title(language.Und).String(line) == line
}

func isBullet(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	switch r {
	case '•', '●', '▪', '◦', '-', '*', '–':
		return true
	}
	return false
}
