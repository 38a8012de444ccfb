package reference

import (
	"context"
	"fmt"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/filter"
)

// Redactor decides, for every marker, whether the current viewer may see
// the referenced entity. Denied, unresolved and malformed markers are
// replaced by their original text. Running it twice changes nothing the
// second time, and markers are judged independently of each other.
//
// The Redactor must run before a document is shown. Wrap it with
// filter.AsCritical so a timeout aborts the render.
type Redactor struct {
	Oracle entity.Oracle
}

var _ filter.Filter = (*Redactor)(nil)

// Name implements filter.Filter.
func (r *Redactor) Name() string { return "reference-redact" }

// Requires implements filter.Filter.
func (r *Redactor) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (r *Redactor) Call(ctx context.Context, doc *filter.Document, fc *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(r.Name(), doc); err != nil {
		return nil, err
	}
	resolution, err := resolutionFrom(res)
	if err != nil {
		return nil, err
	}
	if _, err := r.Redact(ctx, fc, resolution, doc.Root()); err != nil {
		return nil, err
	}
	return doc, nil
}

// Redact processes every marker under the roots and returns how many were
// degraded.
func (r *Redactor) Redact(ctx context.Context, fc *filter.Context, resolution *Resolution, roots ...*html.Node) (int, error) {
	if r.Oracle == nil && !fc.SkipRedaction {
		return 0, fmt.Errorf("%w: permission oracle", ErrMissingCollaborator)
	}

	degraded := 0
	for _, n := range Markers(roots...) {
		if err := ctx.Err(); err != nil {
			return degraded, err
		}
		occ, ok := OccurrenceOf(n)
		if !ok {
			degrade(n)
			degraded++
			continue
		}
		e, ok := resolution.Lookup(ctx, occ.Ref)
		if !ok || (!fc.SkipRedaction && !r.visible(ctx, fc, occ.Ref, e)) {
			degrade(n)
			degraded++
			continue
		}
		if state, _ := dom.Attr(n, AttrState); state != StateLinked {
			dom.SetAttr(n, AttrState, StateVisible)
		}
	}
	return degraded, nil
}

// visible is the viewer check. A cross-scope reference also needs read
// access to the foreign scope.
func (r *Redactor) visible(ctx context.Context, fc *filter.Context, ref Reference, e entity.Entity) bool {
	if ref.CrossScope && !canRead(ctx, r.Oracle, fc, "viewer", fc.CurrentUser, ref.Scope) {
		return false
	}
	return r.Oracle.Allowed(ctx, fc.CurrentUser, entity.ReadAbility(ref.Type), e)
}
