package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/docrank/internal/document"
)

// TextParser handles plain text files. Every non-blank line becomes a block;
// form feeds start a new page.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*document.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	doc := &document.Document{Filename: filename}
	page := 1

	add := func(line string) {
		if t := normalizeText(line); t != "" {
			doc.Blocks = append(doc.Blocks, document.Block{Page: page, Text: t})
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		for {
			before, after, found := strings.Cut(line, "\f")
			if !found {
				break
			}
			add(before)
			page++
			line = after
		}
		add(line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}
