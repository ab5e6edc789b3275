// Package extract pulls candidate article bodies out of HTML pages.
//
// Extraction is layered: content-container selectors first, paragraph
// fallback second. Every candidate is plain text, filtered by a minimum
// length and truncated to a maximum length, both counted in characters.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultContainers are the selectors conventionally used by news sites for
// article bodies.
const DefaultContainers = "article, .article, .story, .news-item"

// DefaultFallback is tried when no container yields a candidate.
const DefaultFallback = "p"

// Options tunes Articles.
type Options struct {
	Containers string // selector group for the first pass
	Fallback   string // selector group for the second pass
	MinLength  int    // candidates must be strictly longer than this
	MaxLength  int    // candidates are truncated to this many characters
	Limit      int    // maximum number of candidates returned
}

func (o *Options) defaults() {
	if o.Containers == "" {
		o.Containers = DefaultContainers
	}
	if o.Fallback == "" {
		o.Fallback = DefaultFallback
	}
	if o.MinLength <= 0 {
		o.MinLength = 100
	}
	if o.MaxLength <= 0 {
		o.MaxLength = 1000
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
}

// Articles parses body and returns up to opts.Limit candidate article texts.
// An empty slice with a nil error means the page parsed but nothing qualified.
func Articles(body []byte, opts Options) ([]string, error) {
	opts.defaults()

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}

	out := candidates(doc, opts.Containers, opts)
	if len(out) == 0 {
		out = candidates(doc, opts.Fallback, opts)
	}
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func candidates(doc *html.Node, group string, opts Options) []string {
	var out []string
	for _, n := range Select(doc, group) {
		text := Text(n)
		if utf8.RuneCountInString(text) > opts.MinLength {
			out = append(out, Truncate(text, opts.MaxLength))
		}
	}
	return out
}

// Text returns the concatenated text content of n with leading and trailing
// whitespace removed. Script, style and template bodies are skipped.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// Truncate cuts s to at most max characters.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
