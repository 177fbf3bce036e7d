package parser

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeText folds compatibility characters (ligatures, full-width forms)
// and collapses runs of whitespace.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
