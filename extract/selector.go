package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// Select returns the element nodes under root matching a selector group such
// as "article, .article, div.story". Results are in document order and each
// node appears once even when several selectors match it.
//
// Supported per selector (a subset of CSS):
//   - tag: "article", "p"
//   - .class: ".story"
//   - #id: "#main"
//   - tag.class, tag#id
//   - tag[attr], tag[attr=val]
//   - descendant combinator: "main .story"
func Select(root *html.Node, group string) []*html.Node {
	var chains [][]simpleSelector
	for _, sel := range strings.Split(group, ",") {
		parts := strings.Fields(sel)
		if len(parts) == 0 {
			continue
		}
		chain := make([]simpleSelector, len(parts))
		for i, p := range parts {
			chain[i] = parseSimpleSelector(p)
		}
		chains = append(chains, chain)
	}
	if len(chains) == 0 {
		return nil
	}

	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for _, chain := range chains {
			if matchesChain(n, chain) {
				results = append(results, n)
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

// matchesChain reports whether n matches the last selector of chain and has
// ancestors matching the preceding ones, in order.
func matchesChain(n *html.Node, chain []simpleSelector) bool {
	last := len(chain) - 1
	if !matchesSelector(n, chain[last]) {
		return false
	}
	i := last - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if matchesSelector(p, chain[i]) {
			i--
		}
	}
	return i < 0
}

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			s.attrKey = attrPart[:eqIdx]
			s.attrVal = strings.Trim(attrPart[eqIdx+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}
	s.tag = strings.ToLower(sel)
	return s
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		val, ok := lookupAttr(n, s.attrKey)
		if !ok {
			return false
		}
		if s.attrVal != "" && val != s.attrVal {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
