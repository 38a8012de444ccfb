package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Walk visits n and its descendants in document order. Returning false from
// fn skips the node's subtree. The next sibling is captured before fn runs,
// so fn may replace or remove the node it is given.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}

// Find returns the first node in document order matching pred, or nil.
func Find(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindAll returns every node in document order matching pred.
func FindAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		if pred(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Elements returns every element named tag under root.
func Elements(root *html.Node, tag string) []*html.Node {
	return FindAll(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	})
}

// TextNodes collects the text nodes under root. Subtrees whose root element
// satisfies skip are not entered.
func TextNodes(root *html.Node, skip func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		switch n.Type {
		case html.TextNode:
			out = append(out, n)
		case html.ElementNode:
			if skip != nil && skip(n) {
				return false
			}
		}
		return true
	})
	return out
}

// IsElement reports whether n is an element with one of the given names.
func IsElement(n *html.Node, names ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, name := range names {
		if n.Data == name {
			return true
		}
	}
	return false
}

// HasAncestor reports whether some proper ancestor of n satisfies pred.
func HasAncestor(n *html.Node, pred func(*html.Node) bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if pred(p) {
			return true
		}
	}
	return false
}

// TextContent concatenates the text of n's subtree.
func TextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// MergeAdjacentText joins runs of sibling text nodes under root and drops
// empty ones.
func MergeAdjacentText(root *html.Node) {
	Walk(root, func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type != html.TextNode {
				c = next
				continue
			}
			for next != nil && next.Type == html.TextNode {
				c.Data += next.Data
				after := next.NextSibling
				n.RemoveChild(next)
				next = after
			}
			if c.Data == "" {
				n.RemoveChild(c)
			}
			c = next
		}
		return true
	})
}

// Attr returns the value of the attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries the attribute key.
func HasAttr(n *html.Node, key string) bool {
	_, ok := Attr(n, key)
	return ok
}

// SetAttr sets or replaces the attribute key on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes the attribute key from n.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}
