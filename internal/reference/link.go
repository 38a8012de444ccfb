package reference

import (
	"context"
	"fmt"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/filter"
)

// Linker turns markers the Redactor let through into real links. Markers
// still provisional are left alone, so a Linker that runs without a
// Redactor links nothing.
type Linker struct {
	URLs entity.URLBuilder
}

var _ filter.Filter = (*Linker)(nil)

// Name implements filter.Filter.
func (l *Linker) Name() string { return "reference-link" }

// Requires implements filter.Filter.
func (l *Linker) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (l *Linker) Call(ctx context.Context, doc *filter.Document, fc *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(l.Name(), doc); err != nil {
		return nil, err
	}
	if l.URLs == nil {
		return nil, fmt.Errorf("%w: url builder", ErrMissingCollaborator)
	}
	resolution, err := resolutionFrom(res)
	if err != nil {
		return nil, err
	}
	opts := entity.URLOptions{OnlyPath: fc.OnlyPath}
	for _, n := range Markers(doc.Root()) {
		if state, _ := dom.Attr(n, AttrState); state == StateProvisional {
			continue
		}
		occ, ok := OccurrenceOf(n)
		if !ok {
			continue
		}
		e, ok := resolution.Lookup(ctx, occ.Ref)
		if !ok {
			continue
		}
		l.link(n, occ, e, opts)
	}
	return doc, nil
}

func (l *Linker) link(n *html.Node, occ Occurrence, e entity.Entity, opts entity.URLOptions) {
	dom.SetAttr(n, "href", l.URLs.URLFor(e, opts))
	if title := e.Title(); title != "" {
		dom.SetAttr(n, "title", title)
	}
	label := occ.LinkLabel
	if label == "" {
		label = occ.Ref.Short()
	}
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	n.AppendChild(dom.NewText(label))
	dom.SetAttr(n, AttrState, StateLinked)
}

// Resolved pairs a visible reference with its entity.
type Resolved struct {
	Ref    Reference
	Entity entity.Entity
}

// Visible lists the references that survived redaction under the roots, in
// document order.
func Visible(ctx context.Context, resolution *Resolution, roots ...*html.Node) []Resolved {
	var out []Resolved
	for _, n := range Markers(roots...) {
		if state, _ := dom.Attr(n, AttrState); state == StateProvisional {
			continue
		}
		occ, ok := OccurrenceOf(n)
		if !ok {
			continue
		}
		if e, ok := resolution.Lookup(ctx, occ.Ref); ok {
			out = append(out, Resolved{Ref: occ.Ref, Entity: e})
		}
	}
	return out
}
