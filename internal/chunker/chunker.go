package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Config controls how a section body is cut into candidate spans.
type Config struct {
	SentencesPerSpan int // Sentences grouped into one span window.
	MaxSpanTokens    int // Spans above this size are split on word boundaries.
	MinSpanChars     int // Spans shorter than this merge into their predecessor.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SentencesPerSpan: 2,
		MaxSpanTokens:    200,
		MinSpanChars:     20,
	}
}

// Spans cuts text into contiguous spans in document order. Sentence windows are
// preferred; text with a single sentence falls back to paragraph and then line
// boundaries.
func Spans(text string, cfg Config) []string {
	if cfg.SentencesPerSpan <= 0 {
		cfg.SentencesPerSpan = 2
	}
	if cfg.MaxSpanTokens <= 0 {
		cfg.MaxSpanTokens = 200
	}
	if cfg.MinSpanChars < 0 {
		cfg.MinSpanChars = 0
	}

	var units []string
	if sentences := SplitSentences(text); len(sentences) > 1 {
		units = windows(sentences, cfg.SentencesPerSpan)
	} else {
		units = SplitParagraphs(text)
		if len(units) <= 1 {
			units = splitLines(text)
		}
	}

	var result []string
	for _, u := range mergeShort(units, cfg.MinSpanChars) {
		if EstimateTokens(u) > cfg.MaxSpanTokens {
			result = append(result, splitWords(u, cfg.MaxSpanTokens)...)
			continue
		}
		result = append(result, u)
	}
	return result
}

// windows joins consecutive sentences into non-overlapping groups of n.
func windows(sentences []string, n int) []string {
	var result []string
	for i := 0; i < len(sentences); i += n {
		end := i + n
		if end > len(sentences) {
			end = len(sentences)
		}
		result = append(result, strings.Join(sentences[i:end], " "))
	}
	return result
}

// mergeShort folds spans shorter than minChars into the preceding span.
func mergeShort(units []string, minChars int) []string {
	var result []string
	for _, u := range units {
		if len(result) > 0 && utf8.RuneCountInString(u) < minChars {
			result[len(result)-1] += " " + u
			continue
		}
		result = append(result, u)
	}
	return result
}

// SplitParagraphs splits on blank lines and collapses whitespace inside each paragraph.
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var result []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = collapse(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

func splitLines(text string) []string {
	var result []string
	for _, l := range strings.Split(text, "\n") {
		if l = collapse(l); l != "" {
			result = append(result, l)
		}
	}
	return result
}

// SplitSentences cuts text after '.', '!' or '?' when followed by whitespace.
// Line breaks inside a sentence are treated as spaces.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := collapse(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	if s := collapse(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// splitWords breaks an oversized span into pieces of roughly targetTokens.
func splitWords(text string, targetTokens int) []string {
	words := strings.Fields(text)
	// Approximate: 1.33 tokens per word.
	perPiece := int(float64(targetTokens) / 1.33)
	if perPiece < 1 {
		perPiece = 1
	}

	var result []string
	for i := 0; i < len(words); i += perPiece {
		end := i + perPiece
		if end > len(words) {
			end = len(words)
		}
		result = append(result, strings.Join(words[i:end], " "))
	}
	return result
}

// Truncate shortens text to at most maxChars runes, cutting at the last word
// boundary when one exists in the second half of the window.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)[:maxChars]
	cut := len(runes)
	for i := len(runes) - 1; i > maxChars/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
