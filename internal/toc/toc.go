// Package toc gives headings stable anchors and builds a numbered table of
// contents from them. It runs on sanitized HTML, so every id it writes
// carries the sanitizer's user-content- prefix.
package toc

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/filter"
	"github.com/alnah/go-markref/internal/sanitize"
)

// Depth defaults.
const (
	DefaultMinDepth = 1
	DefaultMaxDepth = 3
)

// Placeholders replaced by the table of contents when they are the whole
// text of a paragraph. Markdown turns [[_TOC_]] into [[<em>TOC</em>]], so
// the text content to look for is [[TOC]].
var placeholders = map[string]struct{}{
	"[[_TOC_]]": {},
	"[[TOC]]":   {},
	"[TOC]":     {},
}

// Filter anchors headings between MinDepth and MaxDepth and stores the
// rendered table of contents in the Result under filter.ResultTOC. A
// paragraph holding only [[_TOC_]] or [TOC] is replaced by the table.
type Filter struct {
	MinDepth int
	MaxDepth int
	// Title, when set, is rendered above the list.
	Title string
}

var _ filter.Filter = (*Filter)(nil)

// Name implements filter.Filter.
func (f *Filter) Name() string { return "toc" }

// Requires implements filter.Filter.
func (f *Filter) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (f *Filter) Call(ctx context.Context, doc *filter.Document, _ *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(f.Name(), doc); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := doc.Root()

	headings := f.anchor(root)
	tree := build(headings)
	nav := tree.render(f.Title)
	if nav == nil {
		removePlaceholders(root)
		return doc, nil
	}

	fragment, err := dom.Render(wrap(nav))
	if err != nil {
		return nil, err
	}
	res.Set(filter.ResultTOC, fragment)

	for _, p := range findPlaceholders(root) {
		dom.ReplaceWith(p, dom.Clone(nav))
	}
	return doc, nil
}

func (f *Filter) depths() (lo, hi int) {
	lo, hi = f.MinDepth, f.MaxDepth
	if lo < 1 || lo > 6 {
		lo = DefaultMinDepth
	}
	if hi < 1 || hi > 6 {
		hi = DefaultMaxDepth
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// heading is one anchored heading.
type heading struct {
	level int
	id    string
	text  string
}

// anchor makes sure every heading has a unique prefixed id and an anchor
// link, and returns the headings within the depth range.
func (f *Filter) anchor(root *html.Node) []heading {
	lo, hi := f.depths()
	used := make(map[string]int)
	for _, n := range dom.FindAll(root, func(n *html.Node) bool { return n.Type == html.ElementNode }) {
		if v, ok := dom.Attr(n, "id"); ok && !isHeading(n) {
			used[v]++
		}
	}

	var out []heading
	for _, h := range dom.FindAll(root, isHeading) {
		text := strings.TrimSpace(dom.TextContent(h))
		id, _ := dom.Attr(h, "id")
		if id == "" {
			id = sanitize.IDPrefix + slug(text)
		}
		id = unique(id, used)
		dom.SetAttr(h, "id", id)
		if !hasAnchor(h) {
			a := dom.NewElement("a",
				html.Attribute{Key: "class", Val: "anchor"},
				html.Attribute{Key: "href", Val: "#" + id},
				html.Attribute{Key: "aria-hidden", Val: "true"},
			)
			h.InsertBefore(a, h.FirstChild)
		}

		level := int(h.Data[1] - '0')
		if level >= lo && level <= hi && text != "" {
			out = append(out, heading{level: level, id: id, text: text})
		}
	}
	return out
}

func isHeading(n *html.Node) bool {
	return dom.IsElement(n, "h1", "h2", "h3", "h4", "h5", "h6")
}

func hasAnchor(h *html.Node) bool {
	c := h.FirstChild
	if !dom.IsElement(c, "a") {
		return false
	}
	class, _ := dom.Attr(c, "class")
	return class == "anchor"
}

// unique appends -1, -2, ... to ids already in use.
func unique(id string, used map[string]int) string {
	n, taken := used[id]
	used[id] = n + 1
	if !taken {
		return id
	}
	for {
		candidate := id + "-" + strconv.Itoa(n)
		if _, clash := used[candidate]; !clash {
			used[candidate] = 1
			return candidate
		}
		n++
	}
}

// slug lower-cases text, keeps letters, digits, '-' and '_' and turns
// spaces into '-'.
func slug(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "section"
	}
	return b.String()
}

func findPlaceholders(root *html.Node) []*html.Node {
	return dom.FindAll(root, func(n *html.Node) bool {
		if !dom.IsElement(n, "p") {
			return false
		}
		_, ok := placeholders[strings.TrimSpace(dom.TextContent(n))]
		return ok
	})
}

func removePlaceholders(root *html.Node) {
	for _, p := range findPlaceholders(root) {
		dom.Remove(p)
	}
}

func wrap(n *html.Node) *html.Node {
	root := &html.Node{Type: html.DocumentNode}
	root.AppendChild(dom.Clone(n))
	return root
}
