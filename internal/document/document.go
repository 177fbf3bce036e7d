package document

import "strings"

// Block is one line or paragraph of extracted text with its layout metadata.
type Block struct {
	Page     int     // 1-based source page
	Text     string  // Normalized text content
	FontSize float64 // Dominant font size in points (0 if unknown)
	Bold     bool    // Set when the dominant font is a bold face
	Level    int     // Structural heading level from the source format (0 for none)
}

// Document is the raw block sequence of a single input file.
type Document struct {
	Filename string
	Blocks   []Block
}

// Pages groups the document's non-empty blocks by page, preserving order.
func (d *Document) Pages() [][]Block {
	var pages [][]Block
	lastPage := -1
	for _, b := range d.Blocks {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		if b.Page != lastPage || len(pages) == 0 {
			pages = append(pages, nil)
			lastPage = b.Page
		}
		pages[len(pages)-1] = append(pages[len(pages)-1], b)
	}
	return pages
}

// Section is a contiguous titled span of document text, the unit of ranking.
type Section struct {
	DocIndex  int       // Position of the owning document in the instruction's document list
	Position  int       // Order of the section within its document
	Document  string    // Owning document filename
	Title     string    // Heading text or synthesized label
	Page      int       // Page of the section's first block
	Body      string    // Accumulated body text
	Embedding []float32 // Nil until encoded
	Score     float64   // Relevance score, set by ranking
}

// HasBody reports whether the section carries any non-whitespace body text.
func (s *Section) HasBody() bool {
	return strings.TrimSpace(s.Body) != ""
}

// RankedSection is a selected section with its rank and refined excerpt.
type RankedSection struct {
	Section *Section
	Rank    int
	Score   float64
	Excerpt string
}
