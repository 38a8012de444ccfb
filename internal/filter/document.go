package filter

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
)

// Document is the value threaded through a pipeline. Before the markup
// converter runs it holds raw text; afterwards it holds a DOM fragment.
type Document struct {
	text string
	root *html.Node
}

// NewText wraps raw markup text.
func NewText(text string) *Document {
	return &Document{text: text}
}

// NewTree wraps a parsed fragment root (a document node as returned by
// dom.Parse).
func NewTree(root *html.Node) *Document {
	return &Document{root: root}
}

// ParseHTML parses rendered HTML into a tree Document.
func ParseHTML(content string) (*Document, error) {
	root, err := dom.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return NewTree(root), nil
}

// IsTree reports whether the document has been converted to a DOM.
func (d *Document) IsTree() bool { return d.root != nil }

// Text returns the raw text of a text document.
func (d *Document) Text() string { return d.text }

// Root returns the fragment root of a tree document, or nil.
func (d *Document) Root() *html.Node { return d.root }

// Clone returns an independent copy. Tree documents are deep-copied so a
// filter running on the copy cannot affect the original.
func (d *Document) Clone() *Document {
	if d.root == nil {
		return &Document{text: d.text}
	}
	return &Document{root: dom.Clone(d.root)}
}

// HTML serializes a tree document. Text documents are returned as is.
func (d *Document) HTML() (string, error) {
	if d.root == nil {
		return d.text, nil
	}
	return dom.Render(d.root)
}
