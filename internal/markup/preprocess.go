package markup

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/filter"
)

// Highlight placeholders use Unicode Private Use Area characters.
// These are guaranteed to not conflict with any standard characters
// and will pass through Goldmark unchanged (no WithUnsafe needed).
// HighlightFilter converts them to <mark> elements after conversion.
const (
	MarkStartPlaceholder = "\uE000" // U+E000: Private Use Area start
	MarkEndPlaceholder   = "\uE001" // U+E001: Private Use Area end
)

// Precompiled regex patterns for performance.
var (
	// Line ending normalization
	crlfOrCR = regexp.MustCompile(`\r\n?`)

	// Highlight syntax ==text==
	highlightPattern = regexp.MustCompile(`==([^=\n]+?)==`)

	// Placeholder pairs inside a single text node
	placeholderPair = regexp.MustCompile(MarkStartPlaceholder + `(.*?)` + MarkEndPlaceholder)
)

// NormalizeFilter normalizes line endings and strips NUL bytes, which
// CommonMark replaces with U+FFFD anyway.
type NormalizeFilter struct{}

// Name implements filter.Filter.
func (NormalizeFilter) Name() string { return "normalize" }

// Requires implements filter.Filter.
func (NormalizeFilter) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (f NormalizeFilter) Call(ctx context.Context, doc *filter.Document, _ *filter.Context, _ *filter.Result) (*filter.Document, error) {
	if err := filter.RequireText(f.Name(), doc); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return doc, nil
	}
	text := crlfOrCR.ReplaceAllString(doc.Text(), "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return filter.NewText(text), nil
}

// HighlightPreFilter rewrites ==text== outside fenced code into
// placeholder markers. The markers are turned into <mark> elements by
// HighlightFilter after conversion, so the converter never needs to pass
// raw HTML through.
type HighlightPreFilter struct{}

// Name implements filter.Filter.
func (HighlightPreFilter) Name() string { return "highlight-pre" }

// Requires implements filter.Filter.
func (HighlightPreFilter) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (f HighlightPreFilter) Call(_ context.Context, doc *filter.Document, _ *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireText(f.Name(), doc); err != nil {
		return nil, err
	}
	text := doc.Text()
	if !strings.Contains(text, "==") {
		return doc, nil
	}
	found := false
	text = MapProse(text, func(prose string) string {
		return highlightPattern.ReplaceAllStringFunc(prose, func(m string) string {
			found = true
			return MarkStartPlaceholder + m[2:len(m)-2] + MarkEndPlaceholder
		})
	})
	if found {
		res.Set(filter.ResultHighlights, true)
	}
	return filter.NewText(text), nil
}

// HighlightFilter finishes the ==highlight== feature on the DOM. Pairs
// inside a text node become <mark> elements; pairs inside code are put back
// as the original == syntax; anything unpaired is dropped.
type HighlightFilter struct{}

// Name implements filter.Filter.
func (HighlightFilter) Name() string { return "highlight" }

// Requires implements filter.Filter.
func (HighlightFilter) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (f HighlightFilter) Call(_ context.Context, doc *filter.Document, _ *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(f.Name(), doc); err != nil {
		return nil, err
	}
	if !res.Bool(filter.ResultHighlights) {
		return doc, nil
	}

	for _, n := range dom.TextNodes(doc.Root(), nil) {
		if !strings.ContainsAny(n.Data, MarkStartPlaceholder+MarkEndPlaceholder) {
			continue
		}
		if dom.HasAncestor(n, isCode) {
			n.Data = strings.NewReplacer(MarkStartPlaceholder, "==", MarkEndPlaceholder, "==").Replace(n.Data)
			continue
		}
		markText(n)
	}

	for _, attrNode := range dom.FindAll(doc.Root(), func(n *html.Node) bool { return n.Type == html.ElementNode }) {
		for i, a := range attrNode.Attr {
			attrNode.Attr[i].Val = stripPlaceholders(a.Val)
		}
	}
	return doc, nil
}

func isCode(n *html.Node) bool {
	return dom.IsElement(n, "code", "pre")
}

func markText(n *html.Node) {
	text := n.Data
	locs := placeholderPair.FindAllStringSubmatchIndex(text, -1)
	var nodes []*html.Node
	last := 0
	for _, loc := range locs {
		if loc[0] > last {
			nodes = append(nodes, dom.NewText(stripPlaceholders(text[last:loc[0]])))
		}
		mark := dom.NewElement("mark")
		mark.AppendChild(dom.NewText(stripPlaceholders(text[loc[2]:loc[3]])))
		nodes = append(nodes, mark)
		last = loc[1]
	}
	if last < len(text) {
		nodes = append(nodes, dom.NewText(stripPlaceholders(text[last:])))
	}
	dom.ReplaceWith(n, nodes...)
}

func stripPlaceholders(s string) string {
	return strings.NewReplacer(MarkStartPlaceholder, "", MarkEndPlaceholder, "").Replace(s)
}
