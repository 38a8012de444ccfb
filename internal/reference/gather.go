package reference

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/filter"
)

// group identifies one batched lookup.
type group struct {
	Type  entity.Type
	Scope entity.Scope
}

// batch is the lookup of one group. It runs at most once.
type batch struct {
	keys []string
	// skipped groups are never looked up: the author could not have
	// referenced the scope, or the type was filtered out.
	skipped bool

	once  sync.Once
	found map[string]entity.Entity
}

// Resolution holds the gathered occurrences of a document and resolves
// them one group at a time. In lazy mode a group is fetched the first time
// one of its references is looked up, so groups nobody reads are never
// fetched.
type Resolution struct {
	store  entity.Store
	logger logrus.FieldLogger

	occurrences []Occurrence
	order       []group
	batches     map[group]*batch

	mu    sync.Mutex
	calls int
}

// Lookup returns the entity ref resolved to. The second result is false for
// unresolved references: unknown group, skipped group, failed batch or
// missing key.
func (r *Resolution) Lookup(ctx context.Context, ref Reference) (entity.Entity, bool) {
	b, ok := r.batches[group{Type: ref.Type, Scope: ref.Scope}]
	if !ok || b.skipped {
		return nil, false
	}
	r.load(ctx, group{Type: ref.Type, Scope: ref.Scope}, b)
	e, ok := b.found[ref.Key]
	return e, ok && e != nil
}

// LoadAll fetches every group that has not been fetched yet.
func (r *Resolution) LoadAll(ctx context.Context) {
	for _, g := range r.order {
		if b := r.batches[g]; !b.skipped {
			r.load(ctx, g, b)
		}
	}
}

func (r *Resolution) load(ctx context.Context, g group, b *batch) {
	b.once.Do(func() {
		r.mu.Lock()
		r.calls++
		r.mu.Unlock()

		found, err := r.store.FindMany(ctx, g.Type, g.Scope, b.keys)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"type":  g.Type.String(),
				"scope": g.Scope.String(),
			}).WithError(err).Warn("reference lookup failed, leaving group unresolved")
			found = nil
		}
		b.found = found
	})
}

// Calls reports how many batched lookups were issued.
func (r *Resolution) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Groups reports the number of distinct (type, scope) groups.
func (r *Resolution) Groups() int { return len(r.order) }

// Occurrences returns the gathered occurrences in document order.
func (r *Resolution) Occurrences() []Occurrence { return r.occurrences }

// ByType groups the occurrences by reference type, keeping document order
// inside each type.
func (r *Resolution) ByType() map[entity.Type][]Occurrence {
	out := make(map[entity.Type][]Occurrence)
	for _, o := range r.occurrences {
		out[o.Ref.Type] = append(out[o.Ref.Type], o)
	}
	return out
}

// Gatherer collects the markers of a document and prepares one batched
// lookup per (type, scope).
type Gatherer struct {
	Store  entity.Store
	Oracle entity.Oracle
	Logger logrus.FieldLogger
	// Lazy defers every lookup until a reference is read.
	Lazy bool
}

var _ filter.Filter = (*Gatherer)(nil)

// Name implements filter.Filter.
func (g *Gatherer) Name() string { return "reference-gather" }

// Requires implements filter.Filter.
func (g *Gatherer) Requires() []filter.Key { return nil }

// Call implements filter.Filter. The Resolution is stored in the Result
// under filter.ResultReferences.
func (g *Gatherer) Call(ctx context.Context, doc *filter.Document, fc *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(g.Name(), doc); err != nil {
		return nil, err
	}
	r, err := g.Gather(ctx, fc, doc.Root())
	if err != nil {
		return nil, err
	}
	res.Set(filter.ResultReferences, r)
	return doc, nil
}

// Gather walks the roots once and groups their markers. Malformed markers
// are left for the Redactor to degrade.
func (g *Gatherer) Gather(ctx context.Context, fc *filter.Context, roots ...*html.Node) (*Resolution, error) {
	if g.Store == nil {
		return nil, fmt.Errorf("%w: entity store", ErrMissingCollaborator)
	}
	logger := g.Logger
	if logger == nil {
		logger = filter.DiscardLogger()
	}

	r := &Resolution{
		store:   g.Store,
		logger:  logger,
		batches: make(map[group]*batch),
	}
	seen := make(map[group]map[string]struct{})

	for _, n := range Markers(roots...) {
		occ, ok := OccurrenceOf(n)
		if !ok {
			continue
		}
		r.occurrences = append(r.occurrences, occ)

		key := group{Type: occ.Ref.Type, Scope: occ.Ref.Scope}
		b, ok := r.batches[key]
		if !ok {
			b = &batch{skipped: !g.wanted(ctx, fc, occ.Ref)}
			r.batches[key] = b
			r.order = append(r.order, key)
			seen[key] = make(map[string]struct{})
		}
		if _, dup := seen[key][occ.Ref.Key]; !dup {
			seen[key][occ.Ref.Key] = struct{}{}
			b.keys = append(b.keys, occ.Ref.Key)
		}
	}
	for _, b := range r.batches {
		sort.Strings(b.keys)
	}

	if !g.Lazy {
		r.LoadAll(ctx)
	}
	return r, nil
}

// wanted decides whether a group is looked up at all: the reference filter
// must admit the type, and the author must be able to read a foreign scope.
func (g *Gatherer) wanted(ctx context.Context, fc *filter.Context, ref Reference) bool {
	if fc.ReferenceFilter.Valid() && fc.ReferenceFilter != ref.Type {
		return false
	}
	if !ref.CrossScope || fc.Author == nil || g.Oracle == nil {
		return true
	}
	return canRead(ctx, g.Oracle, fc, "author", fc.Author, ref.Scope)
}

// canRead answers a scope-level read check once per render.
func canRead(ctx context.Context, o entity.Oracle, fc *filter.Context, who string, actor entity.Actor, scope entity.Scope) bool {
	name := ""
	if actor != nil {
		name = actor.Username()
	}
	key := "can-read|" + who + "|" + name + "|" + scope.String()
	v := fc.Memo().Fetch(key, func() any {
		return o.AllowedScope(ctx, actor, entity.ReadScopeAbility(scope), scope)
	})
	allowed, _ := v.(bool)
	return allowed
}

// resolutionFrom returns the Resolution stored by the Gatherer.
func resolutionFrom(res *filter.Result) (*Resolution, error) {
	v, ok := res.Get(filter.ResultReferences)
	if !ok {
		return nil, ErrMissingResolution
	}
	r, ok := v.(*Resolution)
	if !ok || r == nil {
		return nil, ErrMissingResolution
	}
	return r, nil
}
