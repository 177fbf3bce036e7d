package parser

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/dgallion1/docrank/internal/document"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files. It reads glyph layout through the Go library
// and falls back to pdftotext (no font data) if that fails.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*document.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	blocks, err := extractPDFBlocks(data)
	if err != nil && p.FallbackPdftotext {
		blocks, err = extractPdftotextBlocks(data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	return &document.Document{Filename: filename, Blocks: blocks}, nil
}

// glyph is a single positioned run of text as reported by the PDF library.
type glyph struct {
	font string
	size float64
	x, y float64
	w    float64
	s    string
}

// extractPDFBlocks returns one block per visual line. The PDF library panics
// on some malformed inputs, so panics surface as errors.
func extractPDFBlocks(data []byte) (blocks []document.Block, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			blocks = nil
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		glyphs := make([]glyph, 0, len(content.Text))
		for _, t := range content.Text {
			glyphs = append(glyphs, glyph{font: t.Font, size: t.FontSize, x: t.X, y: t.Y, w: t.W, s: t.S})
		}
		blocks = append(blocks, linesToBlocks(i, glyphs)...)
	}
	return blocks, nil
}

// linesToBlocks groups glyphs sharing a baseline into lines, keeping drawing order.
func linesToBlocks(page int, glyphs []glyph) []document.Block {
	var blocks []document.Block
	var line []glyph

	flush := func() {
		if len(line) == 0 {
			return
		}
		if b, ok := lineBlock(page, line); ok {
			blocks = append(blocks, b)
		}
		line = line[:0]
	}

	for _, g := range glyphs {
		if len(line) > 0 {
			prev := line[len(line)-1]
			tol := math.Max(prev.size, g.size) * 0.3
			if tol < 1 {
				tol = 1
			}
			if math.Abs(g.y-prev.y) > tol {
				flush()
			}
		}
		line = append(line, g)
	}
	flush()
	return blocks
}

// lineBlock joins a line's glyphs and computes its dominant font by character count.
func lineBlock(page int, line []glyph) (document.Block, bool) {
	var sb strings.Builder
	weights := make(map[float64]int)
	boldChars, totalChars := 0, 0

	for i, g := range line {
		if i > 0 {
			prev := line[i-1]
			gap := g.x - (prev.x + prev.w)
			if prev.w > 0 && gap > 0.25*g.size && !strings.HasSuffix(prev.s, " ") && !strings.HasPrefix(g.s, " ") {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.s)

		n := len([]rune(strings.TrimSpace(g.s)))
		if n == 0 {
			continue
		}
		weights[roundSize(g.size)] += n
		totalChars += n
		if isBoldFont(g.font) {
			boldChars += n
		}
	}

	text := normalizeText(sb.String())
	if text == "" {
		return document.Block{}, false
	}

	var size float64
	best := -1
	for s, n := range weights {
		if n > best || (n == best && s > size) {
			size, best = s, n
		}
	}

	return document.Block{
		Page:     page,
		Text:     text,
		FontSize: size,
		Bold:     totalChars > 0 && boldChars*2 > totalChars,
	}, true
}

func isBoldFont(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "bold") || strings.Contains(lower, "black") || strings.Contains(lower, "heavy")
}

// roundSize buckets font sizes to a tenth of a point so rendering jitter
// does not split one font into several.
func roundSize(s float64) float64 {
	return math.Round(s*10) / 10
}

func extractPdftotextBlocks(data []byte) ([]document.Block, error) {
	tmp, err := os.CreateTemp("", "docrank-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	cmd := exec.Command("pdftotext", "-layout", tmpPath, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return plainTextBlocks(string(out)), nil
}

// plainTextBlocks turns form-feed separated page text into line blocks.
func plainTextBlocks(text string) []document.Block {
	var blocks []document.Block
	for i, page := range strings.Split(text, "\f") {
		for _, line := range strings.Split(page, "\n") {
			line = normalizeText(line)
			if line == "" {
				continue
			}
			blocks = append(blocks, document.Block{Page: i + 1, Text: line})
		}
	}
	return blocks
}
