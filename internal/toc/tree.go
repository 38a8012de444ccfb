package toc

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
)

// entry is one node of the table of contents. Entries live in a flat arena
// and refer to each other by index; index 0 is the synthetic root.
type entry struct {
	heading  heading
	number   string
	depth    int
	children []int
}

type tree struct {
	entries []entry
}

// numberingState tracks hierarchical numbering. The first heading is depth
// 1 whatever its level, and skipped levels collapse so an h2 followed by an
// h4 nests the h4 directly under the h2.
type numberingState struct {
	counters [6]int
	// open holds the heading level of each open depth.
	open []int
}

// next returns the number string ("1.2.") and the effective depth of a
// heading at level.
func (n *numberingState) next(level int) (string, int) {
	for len(n.open) > 0 && n.open[len(n.open)-1] >= level {
		n.open = n.open[:len(n.open)-1]
	}
	n.open = append(n.open, level)
	depth := len(n.open)

	for i := depth; i < len(n.counters); i++ {
		n.counters[i] = 0
	}
	n.counters[depth-1]++

	parts := make([]string, depth)
	for i := range depth {
		parts[i] = strconv.Itoa(n.counters[i])
	}
	return strings.Join(parts, ".") + ".", depth
}

// build arranges headings into a tree using the numbering depth. An entry's
// parent is the closest earlier entry one level shallower.
func build(headings []heading) *tree {
	t := &tree{entries: []entry{{}}}
	var numbering numberingState
	// stack[d] is the index of the last entry at depth d.
	stack := []int{0}
	for _, h := range headings {
		num, depth := numbering.next(h.level)
		idx := len(t.entries)
		t.entries = append(t.entries, entry{heading: h, number: num, depth: depth})

		stack = stack[:min(depth, len(stack))]
		parent := stack[len(stack)-1]
		t.entries[parent].children = append(t.entries[parent].children, idx)
		stack = append(stack, idx)
	}
	return t
}

// render returns the <nav> element, or nil for an empty tree.
func (t *tree) render(title string) *html.Node {
	if len(t.entries[0].children) == 0 {
		return nil
	}
	nav := dom.NewElement("nav", html.Attribute{Key: "class", Val: "toc"})
	if title != "" {
		h := dom.NewElement("p", html.Attribute{Key: "class", Val: "toc-title"})
		h.AppendChild(dom.NewText(title))
		nav.AppendChild(h)
	}
	nav.AppendChild(t.list(0))
	return nav
}

func (t *tree) list(parent int) *html.Node {
	ul := dom.NewElement("ul")
	for _, idx := range t.entries[parent].children {
		e := t.entries[idx]
		li := dom.NewElement("li")
		a := dom.NewElement("a", html.Attribute{Key: "href", Val: "#" + e.heading.id})
		a.AppendChild(dom.NewText(e.number + " " + e.heading.text))
		li.AppendChild(a)
		if len(e.children) > 0 {
			li.AppendChild(t.list(idx))
		}
		ul.AppendChild(li)
	}
	return ul
}
