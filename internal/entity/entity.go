// Package entity defines the domain objects that sigil references point at
// and the collaborator interfaces used to look them up and authorize them.
//
// The reference pipeline never talks to storage, permissions or routing
// directly: it goes through Store, Oracle and URLBuilder. Implementations
// live outside the core (see internal/store for the in-memory one).
package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned by ParseType for names outside the registry.
var ErrUnknownType = errors.New("unknown reference type")

// Type is the closed set of entity kinds that can be referenced.
type Type int

// Reference types, in the order their matchers run.
const (
	TypeUser Type = iota + 1
	TypeIssue
	TypeMergeRequest
	TypeSnippet
	TypeLabel
	TypeMilestone
	TypeCommit
	TypeEpic
)

var typeNames = [...]string{
	TypeUser:         "user",
	TypeIssue:        "issue",
	TypeMergeRequest: "merge_request",
	TypeSnippet:      "snippet",
	TypeLabel:        "label",
	TypeMilestone:    "milestone",
	TypeCommit:       "commit",
	TypeEpic:         "epic",
}

// Types returns every reference type in matcher order.
func Types() []Type {
	return []Type{
		TypeUser, TypeIssue, TypeMergeRequest, TypeSnippet,
		TypeLabel, TypeMilestone, TypeCommit, TypeEpic,
	}
}

// String returns the snake_case name used in markup attributes and config.
func (t Type) String() string {
	if t < TypeUser || t > TypeEpic {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// Valid reports whether t is part of the registry.
func (t Type) Valid() bool {
	return t >= TypeUser && t <= TypeEpic
}

// ParseType converts a type name back to its Type.
func ParseType(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range Types() {
		if typeNames[t] == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// ScopeKind distinguishes where an entity lives.
type ScopeKind int

// Scope kinds.
const (
	ScopeGlobal ScopeKind = iota
	ScopeProject
	ScopeGroup
)

// Scope is the namespace an entity belongs to. Users are global; issues,
// labels and friends belong to a project; epics belong to a group.
type Scope struct {
	Kind ScopeKind
	Path string
}

// GlobalScope is the scope of instance-wide entities such as users.
func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

// ProjectScope returns the scope for a project path like "group/project".
func ProjectScope(path string) Scope { return Scope{Kind: ScopeProject, Path: path} }

// GroupScope returns the scope for a group path like "group/subgroup".
func GroupScope(path string) Scope { return Scope{Kind: ScopeGroup, Path: path} }

// IsZero reports whether the scope carries no path and is not global.
func (s Scope) IsZero() bool {
	return s.Kind != ScopeGlobal && s.Path == ""
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeProject:
		return "project:" + s.Path
	case ScopeGroup:
		return "group:" + s.Path
	default:
		return "global"
	}
}

// ParseScope reverses Scope.String. It is used to read scopes back from
// marker attributes.
func ParseScope(s string) (Scope, bool) {
	switch {
	case s == "global":
		return GlobalScope(), true
	case strings.HasPrefix(s, "project:") && len(s) > len("project:"):
		return ProjectScope(strings.TrimPrefix(s, "project:")), true
	case strings.HasPrefix(s, "group:") && len(s) > len("group:"):
		return GroupScope(strings.TrimPrefix(s, "group:")), true
	}
	return Scope{}, false
}

// Actor identifies a user for permission checks. A nil Actor is anonymous.
type Actor interface {
	Username() string
}

// User is the plain Actor implementation.
type User struct {
	Name string
}

// Username implements Actor.
func (u User) Username() string { return u.Name }

// Entity is a resolved reference target.
type Entity interface {
	Type() Type
	Scope() Scope
	// Key is the identifier the reference was typed with: an iid, a name,
	// a commit sha or a username.
	Key() string
	Title() string
}

// Ability names a capability checked by an Oracle.
type Ability string

// Scope-level abilities.
const (
	AbilityReadProject Ability = "read_project"
	AbilityReadGroup   Ability = "read_group"
)

// ReadAbility is the ability required to see an entity of type t.
func ReadAbility(t Type) Ability {
	return Ability("read_" + t.String())
}

// ReadScopeAbility is the ability required to read anything inside s.
func ReadScopeAbility(s Scope) Ability {
	if s.Kind == ScopeGroup {
		return AbilityReadGroup
	}
	return AbilityReadProject
}

// Store resolves entities in bulk. One call covers every key of one type in
// one scope; missing keys are simply absent from the returned map.
type Store interface {
	FindMany(ctx context.Context, t Type, scope Scope, keys []string) (map[string]Entity, error)
}

// Oracle answers permission questions.
type Oracle interface {
	Allowed(ctx context.Context, actor Actor, ability Ability, e Entity) bool
	AllowedScope(ctx context.Context, actor Actor, ability Ability, s Scope) bool
}

// URLOptions tunes URLBuilder output.
type URLOptions struct {
	OnlyPath bool
}

// URLBuilder produces the href of a resolved reference.
type URLBuilder interface {
	URLFor(e Entity, opts URLOptions) string
}
