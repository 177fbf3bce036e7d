package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/dgallion1/docrank/internal/document"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark. Headings carry their
// level as a structural hint; everything lands on page 1.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*document.Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(src))

	doc := &document.Document{Filename: filename}
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := normalizeText(string(node.Text(src)))
			if title != "" {
				doc.Blocks = append(doc.Blocks, document.Block{Page: 1, Text: title, Level: node.Level})
			}
		case *ast.ThematicBreak, *ast.HTMLBlock:
			// No prose content.
		default:
			for _, para := range strings.Split(extractText(n, src), "\n\n") {
				if t := normalizeText(para); t != "" {
					doc.Blocks = append(doc.Blocks, document.Block{Page: 1, Text: t})
				}
			}
		}
	}
	return doc, nil
}

// extractText gets the text content of a goldmark AST node.
func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && !n.HasChildren() {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		} else {
			// Nested blocks (list items) become their own paragraphs.
			if c.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(extractText(c, src))
		}
	}
	return strings.TrimSpace(buf.String())
}
