// Package store is an in-memory entity store and permission oracle loaded
// from a YAML fixture. It backs the CLI and the tests; a real deployment
// plugs its own entity.Store and entity.Oracle into the renderer.
//
// Fixture layout:
//
//	users:    [{username: alice, name: Alice, admin: false}]
//	groups:   [{path: acme, public: false, members: [alice]}]
//	projects: [{path: acme/web, public: true, members: [bob]}]
//	entities:
//	  - {type: issue, scope: acme/web, key: "1", title: Crash, confidential: true, readers: [alice]}
//	  - {type: epic, scope: acme, key: "3", title: Roadmap}
//
// Project members inherit nothing from their group: membership is listed
// where it applies.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/yamlutil"
)

// ErrInvalidFixture is returned for fixtures that reference unknown types
// or scopes.
var ErrInvalidFixture = errors.New("invalid store fixture")

// Fixture is the YAML document a Memory is loaded from.
type Fixture struct {
	Users    []UserFixture   `yaml:"users"`
	Groups   []ScopeFixture  `yaml:"groups"`
	Projects []ScopeFixture  `yaml:"projects"`
	Entities []EntityFixture `yaml:"entities"`
}

// UserFixture describes an account.
type UserFixture struct {
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
	Admin    bool   `yaml:"admin"`
}

// ScopeFixture describes a group or project.
type ScopeFixture struct {
	Path    string   `yaml:"path"`
	Public  bool     `yaml:"public"`
	Members []string `yaml:"members"`
}

// EntityFixture describes one referenceable entity. Scope is a project
// path, or a group path for epics; users take their scope from users.
type EntityFixture struct {
	Type         string   `yaml:"type"`
	Scope        string   `yaml:"scope"`
	Key          string   `yaml:"key"`
	Title        string   `yaml:"title"`
	Confidential bool     `yaml:"confidential"`
	Readers      []string `yaml:"readers"`
}

type scopeInfo struct {
	public  bool
	members map[string]struct{}
}

type record struct {
	entity.Record
	confidential bool
	readers      map[string]struct{}
}

type lookupKey struct {
	t     entity.Type
	scope entity.Scope
	key   string
}

// Memory implements entity.Store and entity.Oracle. It is safe for
// concurrent use once loaded.
type Memory struct {
	mu       sync.RWMutex
	entities map[lookupKey]*record
	scopes   map[entity.Scope]*scopeInfo
	admins   map[string]struct{}

	calls atomic.Int64
}

var (
	_ entity.Store  = (*Memory)(nil)
	_ entity.Oracle = (*Memory)(nil)
)

// New returns an empty store.
func New() *Memory {
	return &Memory{
		entities: make(map[lookupKey]*record),
		scopes:   make(map[entity.Scope]*scopeInfo),
		admins:   make(map[string]struct{}),
	}
}

// Load reads a fixture file.
func Load(path string) (*Memory, error) {
	var f Fixture
	if err := yamlutil.ReadFileStrict(path, &f); err != nil {
		return nil, fmt.Errorf("loading store fixture: %w", err)
	}
	return FromFixture(f)
}

// Parse decodes a fixture from YAML bytes.
func Parse(data []byte) (*Memory, error) {
	var f Fixture
	if err := yamlutil.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parsing store fixture: %w", err)
	}
	return FromFixture(f)
}

// FromFixture builds a store from an already decoded fixture.
func FromFixture(f Fixture) (*Memory, error) {
	m := New()
	for _, u := range f.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("%w: user without username", ErrInvalidFixture)
		}
		if u.Admin {
			m.admins[u.Username] = struct{}{}
		}
		m.add(&record{Record: entity.Record{
			Kind: entity.TypeUser, In: entity.GlobalScope(), ID: u.Username, Name: u.Name,
		}})
	}
	for _, g := range f.Groups {
		m.AddScope(entity.GroupScope(g.Path), g.Public, g.Members...)
	}
	for _, p := range f.Projects {
		m.AddScope(entity.ProjectScope(p.Path), p.Public, p.Members...)
	}
	for _, e := range f.Entities {
		t, err := entity.ParseType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
		}
		if t == entity.TypeUser {
			return nil, fmt.Errorf("%w: users belong under users:", ErrInvalidFixture)
		}
		scope := entity.ProjectScope(e.Scope)
		if t == entity.TypeEpic {
			scope = entity.GroupScope(e.Scope)
		}
		if _, ok := m.scopes[scope]; !ok {
			return nil, fmt.Errorf("%w: %s %q is in unknown scope %s", ErrInvalidFixture, t, e.Key, scope)
		}
		m.AddEntity(&entity.Record{Kind: t, In: scope, ID: e.Key, Name: e.Title}, e.Confidential, e.Readers...)
	}
	return m, nil
}

// AddScope registers a project or group.
func (m *Memory) AddScope(s entity.Scope, public bool, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := &scopeInfo{public: public, members: make(map[string]struct{}, len(members))}
	for _, u := range members {
		info.members[u] = struct{}{}
	}
	m.scopes[s] = info
}

// AddEntity registers an entity. Confidential entities are visible to
// their readers and admins only, on top of the scope check.
func (m *Memory) AddEntity(r *entity.Record, confidential bool, readers ...string) {
	rec := &record{Record: *r, confidential: confidential, readers: make(map[string]struct{}, len(readers))}
	for _, u := range readers {
		rec.readers[u] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(rec)
}

func (m *Memory) add(r *record) {
	m.entities[lookupKey{t: r.Kind, scope: r.In, key: r.ID}] = r
}

// FindMany implements entity.Store. Every call counts, whatever its size.
func (m *Memory) FindMany(ctx context.Context, t entity.Type, scope entity.Scope, keys []string) (map[string]entity.Entity, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]entity.Entity, len(keys))
	for _, k := range keys {
		if r, ok := m.entities[lookupKey{t: t, scope: scope, key: k}]; ok {
			out[k] = r
		}
	}
	return out, nil
}

// Calls reports how many FindMany calls were made.
func (m *Memory) Calls() int { return int(m.calls.Load()) }

// AllowedScope implements entity.Oracle. The global scope is readable by
// everyone; other scopes need to be public or list the actor as a member.
func (m *Memory) AllowedScope(_ context.Context, actor entity.Actor, _ entity.Ability, s entity.Scope) bool {
	if s.Kind == entity.ScopeGlobal {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canReadScope(actor, s)
}

func (m *Memory) canReadScope(actor entity.Actor, s entity.Scope) bool {
	info, ok := m.scopes[s]
	if !ok {
		return false
	}
	if info.public || m.isAdmin(actor) {
		return true
	}
	if actor == nil {
		return false
	}
	_, member := info.members[actor.Username()]
	return member
}

func (m *Memory) isAdmin(actor entity.Actor) bool {
	if actor == nil {
		return false
	}
	_, ok := m.admins[actor.Username()]
	return ok
}

// Allowed implements entity.Oracle.
func (m *Memory) Allowed(_ context.Context, actor entity.Actor, ability entity.Ability, e entity.Entity) bool {
	if e == nil || ability != entity.ReadAbility(e.Type()) {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e.Type() == entity.TypeUser {
		return true
	}
	if !m.canReadScope(actor, e.Scope()) {
		return false
	}
	r, ok := m.entities[lookupKey{t: e.Type(), scope: e.Scope(), key: e.Key()}]
	if !ok || !r.confidential || m.isAdmin(actor) {
		return ok
	}
	if actor == nil {
		return false
	}
	_, reader := r.readers[actor.Username()]
	return reader
}

// Scopes lists the registered scopes, mainly for diagnostics.
func (m *Memory) Scopes() []entity.Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.Scope, 0, len(m.scopes))
	for s := range m.scopes {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b entity.Scope) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}
