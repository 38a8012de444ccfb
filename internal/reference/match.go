package reference

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/escape"
	"github.com/alnah/go-markref/internal/filter"
)

// linkPass selects which anchors a link pass rewrites.
type linkPass int

const (
	// passShortHref: [Issue](#123), the href is short syntax.
	passShortHref linkPass = iota + 1
	// passBareURL: an instance URL whose text is the URL itself.
	passBareURL
	// passLabeledURL: an instance URL with author-chosen text.
	passLabeledURL
)

// MatchFilter plants provisional markers for every reference it finds. It
// never looks entities up.
//
// For each type, in registry order, four passes run over the document:
// short syntax in text, short-syntax hrefs, bare instance URLs and labeled
// instance URLs. A node rewritten by one pass is a marker and is skipped by
// every later pass.
type MatchFilter struct {
	Registry *Registry
	// Types limits matching; empty means every type.
	Types []entity.Type
}

var _ filter.Filter = (*MatchFilter)(nil)

// Name implements filter.Filter.
func (f *MatchFilter) Name() string { return "reference" }

// Requires implements filter.Filter.
func (f *MatchFilter) Requires() []filter.Key { return []filter.Key{filter.KeyProject} }

// Call implements filter.Filter.
func (f *MatchFilter) Call(ctx context.Context, doc *filter.Document, fc *filter.Context, _ *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(f.Name(), doc); err != nil {
		return nil, err
	}
	if f.Registry == nil {
		return nil, ErrMissingCollaborator
	}
	root := doc.Root()
	for _, m := range f.Registry.Matchers(f.Types...) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.matchText(root, m, fc)
		for _, pass := range []linkPass{passShortHref, passBareURL, passLabeledURL} {
			f.matchLinks(root, m, fc, pass)
		}
	}
	return doc, nil
}

// verbatim elements never have their text rewritten.
func verbatim(n *html.Node) bool {
	if dom.IsElement(n, "code", "pre", "a", "style", "script", "kbd", "samp") {
		return true
	}
	return dom.IsElement(n, "span") && dom.HasAttr(n, escape.MarkerAttr)
}

func (f *MatchFilter) skipper(fc *filter.Context) func(*html.Node) bool {
	if !fc.IgnoreBlockquotes {
		return verbatim
	}
	return func(n *html.Node) bool {
		return verbatim(n) || dom.IsElement(n, "blockquote")
	}
}

func (f *MatchFilter) matchText(root *html.Node, m *Matcher, fc *filter.Context) {
	for _, n := range dom.TextNodes(root, f.skipper(fc)) {
		if m.Sigil != "" && !strings.Contains(n.Data, m.Sigil) {
			continue
		}
		spans := m.findAll(n.Data)
		if len(spans) == 0 {
			continue
		}

		text := n.Data
		var nodes []*html.Node
		last := 0
		for _, s := range spans {
			raw := text[s.start:s.end]
			ref, ok := resolveScope(m, fc, s.scope, s.key, raw)
			if !ok {
				continue
			}
			if s.start > last {
				nodes = append(nodes, dom.NewText(text[last:s.start]))
			}
			nodes = append(nodes, newMarker(ref, ""))
			last = s.end
		}
		if len(nodes) == 0 {
			continue
		}
		if last < len(text) {
			nodes = append(nodes, dom.NewText(text[last:]))
		}
		dom.ReplaceWith(n, nodes...)
	}
}

func (f *MatchFilter) matchLinks(root *html.Node, m *Matcher, fc *filter.Context, pass linkPass) {
	for _, a := range dom.Elements(root, "a") {
		if IsMarker(a) || a.Parent == nil || dom.HasAttr(a, escape.MarkerAttr) {
			continue
		}
		if fc.IgnoreBlockquotes && dom.HasAncestor(a, func(n *html.Node) bool { return dom.IsElement(n, "blockquote") }) {
			continue
		}
		if dom.Find(a, func(n *html.Node) bool { return dom.IsElement(n, "img") }) != nil {
			continue
		}
		href, ok := dom.Attr(a, "href")
		if !ok {
			continue
		}
		href = strings.TrimSpace(href)
		text := strings.TrimSpace(dom.TextContent(a))
		if href == "" || text == "" {
			continue
		}

		var scope, key string
		label := ""
		switch pass {
		case passShortHref:
			scope, key, ok = m.matchExact(href)
			if !ok {
				if unescaped, err := url.PathUnescape(href); err == nil && unescaped != href {
					scope, key, ok = m.matchExact(unescaped)
				}
			}
			if ok && text != href {
				label = text
			}
		case passBareURL:
			if text != href {
				continue
			}
			scope, key, ok = m.matchLink(href)
		case passLabeledURL:
			if text == href {
				continue
			}
			scope, key, ok = m.matchLink(href)
			label = text
		}
		if !ok {
			continue
		}

		ref, ok := resolveScope(m, fc, scope, key, text)
		if !ok {
			continue
		}
		dom.ReplaceWith(a, newMarker(ref, label))
	}
}

// resolveScope turns a match into a Reference, filling in the rendering
// scope when the reference is unqualified.
func resolveScope(m *Matcher, fc *filter.Context, scopePath, key, raw string) (Reference, bool) {
	ref := Reference{Type: m.Type, Key: key, Raw: raw}
	switch m.scopeKind {
	case entity.ScopeGlobal:
		ref.Scope = entity.GlobalScope()
	case entity.ScopeProject:
		if scopePath == "" {
			ref.Scope = fc.ProjectScope()
		} else {
			ref.Scope = entity.ProjectScope(scopePath)
			ref.CrossScope = scopePath != fc.Project
		}
	case entity.ScopeGroup:
		current := fc.GroupScope()
		if scopePath == "" {
			ref.Scope = current
		} else {
			ref.Scope = entity.GroupScope(scopePath)
			ref.CrossScope = scopePath != current.Path
		}
	}
	if ref.Scope.IsZero() {
		return Reference{}, false
	}
	return ref, true
}
