package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docrank/internal/document"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML files. h1-h6 become heading blocks; prose elements
// and figure captions become body blocks.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*document.Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &document.Document{Filename: filename}
	add := func(text string, level int) {
		if t := normalizeText(text); t != "" {
			doc.Blocks = append(doc.Blocks, document.Block{Page: 1, Text: t, Level: level})
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				add(textContent(n), level)
				return
			}
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "img", "svg":
				return
			case "table":
				// Only the caption of a table is prose.
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.ElementNode && c.Data == "caption" {
						add(textContent(c), 0)
					}
				}
				return
			case "p", "li", "blockquote", "figcaption", "pre":
				add(textContent(n), 0)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findBody(root); body != nil {
		walk(body)
	} else {
		walk(root)
	}
	return doc, nil
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
