// Package htmltext cleans editor HTML for export and extracts plain text for
// search indexing.
package htmltext

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ugc    = newUGCPolicy()
	strict = bluemonday.StrictPolicy()
)

func newUGCPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").OnElements("table", "tr", "td", "th", "span", "p", "pre", "code")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	p.AllowElements("u", "s", "mark")
	return p
}

// Sanitize keeps formatting markup and drops scripts, handlers and unsafe URLs.
func Sanitize(input string) string {
	if input == "" {
		return ""
	}
	return ugc.Sanitize(input)
}

// PlainText strips all markup and collapses whitespace.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	// Block boundaries become spaces so adjacent paragraphs do not fuse.
	spaced := strings.NewReplacer("</p>", "</p> ", "<br>", " ", "<br/>", " ", "</li>", "</li> ", "</h1>", "</h1> ", "</h2>", "</h2> ", "</h3>", "</h3> ").Replace(input)
	text := html.UnescapeString(strict.Sanitize(spaced))
	return strings.Join(strings.Fields(text), " ")
}

// Snippet returns at most max runes of the plain text of input.
func Snippet(input string, max int) string {
	text := PlainText(input)
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
