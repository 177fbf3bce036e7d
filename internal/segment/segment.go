// Package segment turns a document's block sequence into titled sections.
package segment

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docrank/internal/chunker"
	"github.com/dgallion1/docrank/internal/document"
)

// ErrSegmentation is returned when a document's blocks cannot be turned into sections.
// Callers treat the document as contributing zero sections.
var ErrSegmentation = errors.New("segmentation failed")

// Config controls section assembly.
type Config struct {
	HeadingSizeRatio float64
	TitleMaxChars    int
	MinBodyChars     int
	ShortLines       bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeadingSizeRatio: 1.15,
		TitleMaxChars:    80,
		ShortLines:       true,
	}
}

// Segmenter groups body blocks under the headings found by its detector.
type Segmenter struct {
	cfg      Config
	detector HeadingDetector
}

// New creates a Segmenter. A nil detector selects the FontHeuristic built from cfg.
func New(cfg Config, detector HeadingDetector) *Segmenter {
	if cfg.TitleMaxChars <= 0 {
		cfg.TitleMaxChars = 80
	}
	if detector == nil {
		detector = NewFontHeuristic(cfg.HeadingSizeRatio, cfg.ShortLines)
	}
	return &Segmenter{cfg: cfg, detector: detector}
}

// Segment returns the document's sections in reading order. docIndex is the
// document's position in its instruction and is stamped on every section.
func (s *Segmenter) Segment(doc *document.Document, docIndex int) (sections []*document.Section, err error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrSegmentation)
	}
	defer func() {
		if rec := recover(); rec != nil {
			sections = nil
			err = fmt.Errorf("%w: %s: %v", ErrSegmentation, doc.Filename, rec)
		}
	}()

	var blocks []document.Block
	for _, b := range doc.Blocks {
		b.Text = strings.TrimSpace(b.Text)
		if b.Text == "" {
			continue
		}
		if b.Page < 1 {
			return nil, fmt.Errorf("%w: %s: block with invalid page %d", ErrSegmentation, doc.Filename, b.Page)
		}
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		return nil, nil
	}

	flags := s.detector.Detect(blocks)
	if len(flags) != len(blocks) {
		return nil, fmt.Errorf("%w: %s: detector returned %d flags for %d blocks",
			ErrSegmentation, doc.Filename, len(flags), len(blocks))
	}

	b := &builder{seg: s, doc: doc.Filename, docIndex: docIndex}
	if !anyTrue(flags) {
		b.byPage(blocks)
	} else {
		b.byHeading(blocks, flags)
	}
	return b.sections, nil
}

// builder accumulates the section currently being filled.
type builder struct {
	seg      *Segmenter
	doc      string
	docIndex int
	sections []*document.Section

	title   string
	heading *document.Block
	page    int
	lines   []string
}

func (b *builder) byHeading(blocks []document.Block, flags []bool) {
	for i := range blocks {
		blk := blocks[i]
		if flags[i] {
			// A heading wrapped over several lines arrives as consecutive
			// heading blocks in the same font.
			if b.heading != nil && len(b.lines) == 0 && sameHeadingFont(*b.heading, blk) {
				b.title += " " + blk.Text
				continue
			}
			b.flush()
			b.title, b.page, b.heading = blk.Text, blk.Page, &blocks[i]
			continue
		}
		if b.title == "" {
			b.title, b.page = synthesizeTitle(blk.Text), blk.Page
		}
		b.lines = append(b.lines, blk.Text)
	}
	b.flush()
}

// byPage emits one section per page for documents without detectable headings.
func (b *builder) byPage(blocks []document.Block) {
	page := &document.Document{Blocks: blocks}
	for _, blks := range page.Pages() {
		b.title, b.page = synthesizeTitle(blks[0].Text), blks[0].Page
		for _, blk := range blks {
			b.lines = append(b.lines, blk.Text)
		}
		b.flush()
	}
}

func (b *builder) flush() {
	defer func() {
		b.title, b.heading, b.page, b.lines = "", nil, 0, nil
	}()

	body := strings.Join(b.lines, "\n")
	if strings.TrimSpace(body) == "" {
		return
	}
	if minChars := b.seg.cfg.MinBodyChars; minChars > 0 && utf8.RuneCountInString(strings.Join(strings.Fields(body), " ")) < minChars {
		return
	}

	b.sections = append(b.sections, &document.Section{
		DocIndex: b.docIndex,
		Position: len(b.sections),
		Document: b.doc,
		Title:    truncateTitle(b.title, b.seg.cfg.TitleMaxChars),
		Page:     b.page,
		Body:     body,
	})
}

func sameHeadingFont(a, c document.Block) bool {
	return a.Page == c.Page && a.Level == c.Level && a.Bold == c.Bold && a.FontSize == c.FontSize
}

// synthesizeTitle labels a section that has no heading with its first line.
func synthesizeTitle(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.Join(strings.Fields(text), " ")
}

// truncateTitle limits a title to max runes, ending with an ellipsis when cut.
func truncateTitle(title string, max int) string {
	title = strings.Join(strings.Fields(title), " ")
	if utf8.RuneCountInString(title) <= max {
		return title
	}
	cut := chunker.Truncate(title, max-1)
	cut = strings.TrimRight(cut, " ,;:-")
	return cut + "…"
}

func anyTrue(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}
