package filter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alnah/go-markref/internal/entity"
)

// Key names a Context option a filter can require.
type Key int

// Recognized context keys.
const (
	KeyCurrentUser Key = iota + 1
	KeyAuthor
	KeyProject
	KeyGroup
	KeyReferenceFilter
)

func (k Key) String() string {
	switch k {
	case KeyCurrentUser:
		return "current_user"
	case KeyAuthor:
		return "author"
	case KeyProject:
		return "project_scope"
	case KeyGroup:
		return "group_scope"
	case KeyReferenceFilter:
		return "reference_filter"
	}
	return fmt.Sprintf("key(%d)", int(k))
}

// Context is the per-render configuration shared by every filter. Build it
// with NewContext; it is read-only afterwards except for the Memo, which is
// scoped to this one render.
type Context struct {
	CurrentUser       entity.Actor
	Author            entity.Actor
	Project           string
	Group             string
	OnlyPath          bool
	IgnoreBlockquotes bool
	SkipRedaction     bool
	// ReferenceFilter restricts gathering to a single type when non-zero.
	ReferenceFilter entity.Type

	memo *Memo
}

// Option customizes a Context.
type Option func(*Context)

// WithCurrentUser sets the viewer.
func WithCurrentUser(a entity.Actor) Option { return func(c *Context) { c.CurrentUser = a } }

// WithAuthor sets the author of the content being rendered.
func WithAuthor(a entity.Actor) Option { return func(c *Context) { c.Author = a } }

// WithProject sets the project the content belongs to.
func WithProject(path string) Option {
	return func(c *Context) { c.Project = strings.Trim(path, "/") }
}

// WithGroup sets the group the content belongs to.
func WithGroup(path string) Option {
	return func(c *Context) { c.Group = strings.Trim(path, "/") }
}

// WithOnlyPath makes generated links host-relative.
func WithOnlyPath(v bool) Option { return func(c *Context) { c.OnlyPath = v } }

// WithIgnoreBlockquotes stops references from being matched inside quotes.
func WithIgnoreBlockquotes(v bool) Option { return func(c *Context) { c.IgnoreBlockquotes = v } }

// WithSkipRedaction disables viewer permission checks. Unresolved
// references still degrade to text.
func WithSkipRedaction(v bool) Option { return func(c *Context) { c.SkipRedaction = v } }

// WithReferenceFilter limits gathering to one reference type.
func WithReferenceFilter(t entity.Type) Option { return func(c *Context) { c.ReferenceFilter = t } }

// NewContext builds a Context from options.
func NewContext(opts ...Option) *Context {
	c := &Context{memo: newMemo()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Has reports whether the option named by k is present.
func (c *Context) Has(k Key) bool {
	switch k {
	case KeyCurrentUser:
		return c.CurrentUser != nil
	case KeyAuthor:
		return c.Author != nil
	case KeyProject:
		return c.Project != ""
	case KeyGroup:
		return c.Group != ""
	case KeyReferenceFilter:
		return c.ReferenceFilter.Valid()
	}
	return false
}

// ProjectScope returns the project as an entity scope.
func (c *Context) ProjectScope() entity.Scope {
	return entity.ProjectScope(c.Project)
}

// GroupScope returns the rendering group. Without an explicit group the
// project's namespace is used.
func (c *Context) GroupScope() entity.Scope {
	if c.Group != "" {
		return entity.GroupScope(c.Group)
	}
	if i := strings.LastIndex(c.Project, "/"); i > 0 {
		return entity.GroupScope(c.Project[:i])
	}
	return entity.Scope{Kind: entity.ScopeGroup}
}

// Memo returns the render-scoped cache.
func (c *Context) Memo() *Memo {
	if c.memo == nil {
		c.memo = newMemo()
	}
	return c.memo
}

// Memo caches values for the lifetime of one render. It is safe for
// concurrent use because a timed-out filter may still be running while the
// pipeline moves on.
type Memo struct {
	mu     sync.Mutex
	values map[string]any
}

func newMemo() *Memo {
	return &Memo{values: make(map[string]any)}
}

// Fetch returns the cached value for key, computing it with fn on a miss.
func (m *Memo) Fetch(key string, fn func() any) any {
	m.mu.Lock()
	if v, ok := m.values[key]; ok {
		m.mu.Unlock()
		return v
	}
	m.mu.Unlock()

	v := fn()

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.values[key]; ok {
		return prev
	}
	m.values[key] = v
	return v
}

// Len reports the number of cached entries.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
