// Package dom wraps golang.org/x/net/html with the small set of tree
// operations the filters share: fragment parsing and rendering, cloning,
// verbatim-aware text walks and in-place node replacement.
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse parses an HTML fragment in a <body> context and returns a document
// node holding the fragment's top-level nodes. Full documents are accepted
// too; their <body> children become the fragment.
func Parse(content string) (*html.Node, error) {
	trimmed := strings.ToLower(strings.TrimSpace(content))
	if strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html") {
		doc, err := html.Parse(strings.NewReader(content))
		if err != nil {
			return nil, err
		}
		container := &html.Node{Type: html.DocumentNode}
		if body := Find(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body }); body != nil {
			moveChildren(body, container)
		}
		return container, nil
	}

	context := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Body,
		Data:     "body",
	}
	nodes, err := html.ParseFragment(strings.NewReader(content), context)
	if err != nil {
		return nil, err
	}

	container := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	return container, nil
}

// Render serializes the children of root. The root itself is never
// rendered so a Parse/Render round trip adds no wrapper elements.
func Render(root *html.Node) (string, error) {
	var buf strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Clone deep-copies n and its subtree. The copy is detached.
func Clone(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(Clone(child))
	}
	return c
}

func moveChildren(from, to *html.Node) {
	for c := from.FirstChild; c != nil; {
		next := c.NextSibling
		from.RemoveChild(c)
		to.AppendChild(c)
		c = next
	}
}

// ReplaceChildren swaps every child of dst for the children of src.
func ReplaceChildren(dst, src *html.Node) {
	for c := dst.FirstChild; c != nil; {
		next := c.NextSibling
		dst.RemoveChild(c)
		c = next
	}
	moveChildren(src, dst)
}

// NewText returns a detached text node.
func NewText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// NewElement returns a detached element node.
func NewElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(tag)),
		Data:     tag,
		Attr:     attrs,
	}
}

// ReplaceWith puts nodes where n was and detaches n.
func ReplaceWith(n *html.Node, nodes ...*html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for _, r := range nodes {
		parent.InsertBefore(r, n)
	}
	parent.RemoveChild(n)
}

// Unwrap replaces n with its own children.
func Unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
		c = next
	}
	parent.RemoveChild(n)
}

// Remove detaches n from its parent, if any.
func Remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
