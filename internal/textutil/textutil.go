// Package textutil normalizes raw item text before analysis and storage.
//
// Hacker News bodies arrive as HTML fragments with entity-escaped text.
// StripHTML reduces them to plain text; NormalizeConcepts canonicalizes the
// concept strings the analysis backend returns so they are stored in one
// consistent form and never re-derived later.
package textutil

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML removes markup and entities from an HTML fragment, returning
// plain text with normalized whitespace. Paragraph and line-break tags become
// single spaces so adjacent words do not fuse.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}

	// <p> and <br> carry word boundaries; make them explicit before parsing.
	replacer := strings.NewReplacer(
		"<p>", " ", "<P>", " ",
		"</p>", " ", "</P>", " ",
		"<br>", " ", "<br/>", " ", "<br />", " ",
	)
	s = replacer.Replace(s)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		// Fall back to entity unescaping only; malformed markup stays as-is.
		return collapseWhitespace(html.UnescapeString(s))
	}

	return collapseWhitespace(doc.Text())
}

// NormalizeConcepts canonicalizes concept strings: lowercase, underscores
// replaced with spaces, whitespace collapsed, empties and duplicates dropped.
// Order of first appearance is preserved.
func NormalizeConcepts(concepts []string) []string {
	if len(concepts) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(concepts))
	out := make([]string, 0, len(concepts))
	for _, c := range concepts {
		c = strings.ToLower(c)
		c = strings.ReplaceAll(c, "_", " ")
		c = collapseWhitespace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Truncate cuts s to at most max runes. Used to bound embedding input.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
