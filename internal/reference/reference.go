// Package reference finds sigil references (#1, @alice, ~bug, ...) in a
// rendered document, resolves them in batches and redacts the ones the
// viewer may not see.
//
// Rendering and resolution are split. MatchFilter runs when markup is
// rendered and only plants provisional markers: anchors without href that
// record what was typed. Gatherer, Redactor and Linker run at display time
// against the current viewer:
//
//	render:      ... -> sanitize -> MatchFilter
//	postprocess: Gatherer -> Redactor -> Linker
//
// A marker is either degraded back to its original text or linked; nothing
// else can leave the postprocess pipeline.
package reference

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/entity"
)

// Sentinel errors.
var (
	// ErrMissingResolution means a step that needs resolved references ran
	// before the Gatherer.
	ErrMissingResolution = errors.New("references were not gathered")
	// ErrMissingCollaborator means a filter was built without its store,
	// oracle or URL builder.
	ErrMissingCollaborator = errors.New("missing collaborator")
)

// Marker attributes.
const (
	AttrType       = "data-reference-type"
	AttrScope      = "data-scope"
	AttrKey        = "data-key"
	AttrOriginal   = "data-original"
	AttrCrossScope = "data-cross-scope"
	AttrLinkLabel  = "data-link-label"
	AttrState      = "data-reference-state"
)

// Marker states.
const (
	StateProvisional = "provisional"
	StateVisible     = "visible"
	StateLinked      = "linked"
)

// Reference describes what was typed. It never changes after the matcher
// creates it.
type Reference struct {
	Type  entity.Type
	Scope entity.Scope
	Key   string
	// Raw is the visible text the reference was matched from. Degraded
	// markers become this text.
	Raw        string
	CrossScope bool
}

// Short returns the canonical short syntax of r, qualified when the
// reference is cross-scope.
func (r Reference) Short() string {
	qualifier := ""
	if r.CrossScope {
		qualifier = r.Scope.Path
	}
	key := r.Key
	switch r.Type {
	case entity.TypeUser:
		return "@" + key
	case entity.TypeLabel, entity.TypeMilestone:
		if strings.ContainsAny(key, " \t\"") || !namePatternRE.MatchString(key) {
			key = strconv.Quote(key)
		}
	case entity.TypeCommit:
		if len(key) > 8 {
			key = key[:8]
		}
		if qualifier != "" {
			return qualifier + "@" + key
		}
		return key
	}
	return qualifier + sigilOf(r.Type) + key
}

func sigilOf(t entity.Type) string {
	switch t {
	case entity.TypeUser:
		return "@"
	case entity.TypeIssue:
		return "#"
	case entity.TypeMergeRequest:
		return "!"
	case entity.TypeSnippet:
		return "$"
	case entity.TypeLabel:
		return "~"
	case entity.TypeMilestone:
		return "%"
	case entity.TypeEpic:
		return "&"
	}
	return ""
}

// Occurrence is one marker in a document bound to its Reference.
type Occurrence struct {
	Node      *html.Node
	Ref       Reference
	LinkLabel string
}

// IsMarker reports whether n is a reference marker.
func IsMarker(n *html.Node) bool {
	return dom.IsElement(n, "a") && dom.HasAttr(n, AttrType)
}

// OccurrenceOf reads the marker n. ok is false when n is not a well-formed
// marker; callers degrade such nodes.
func OccurrenceOf(n *html.Node) (Occurrence, bool) {
	if !IsMarker(n) {
		return Occurrence{}, false
	}
	typeName, _ := dom.Attr(n, AttrType)
	t, err := entity.ParseType(typeName)
	if err != nil {
		return Occurrence{}, false
	}
	scopeAttr, _ := dom.Attr(n, AttrScope)
	scope, ok := entity.ParseScope(scopeAttr)
	if !ok {
		return Occurrence{}, false
	}
	key, _ := dom.Attr(n, AttrKey)
	if key == "" {
		return Occurrence{}, false
	}
	raw, ok := dom.Attr(n, AttrOriginal)
	if !ok {
		raw = dom.TextContent(n)
	}
	cross, _ := dom.Attr(n, AttrCrossScope)
	label, _ := dom.Attr(n, AttrLinkLabel)
	return Occurrence{
		Node: n,
		Ref: Reference{
			Type:       t,
			Scope:      scope,
			Key:        key,
			Raw:        raw,
			CrossScope: cross == "true",
		},
		LinkLabel: label,
	}, true
}

// Markers returns every marker under the roots in document order.
func Markers(roots ...*html.Node) []*html.Node {
	var out []*html.Node
	for _, root := range roots {
		out = append(out, dom.FindAll(root, IsMarker)...)
	}
	return out
}

// newMarker builds the provisional anchor for ref. The body is the raw
// text so an unprocessed marker still reads correctly.
func newMarker(ref Reference, linkLabel string) *html.Node {
	a := dom.NewElement("a",
		html.Attribute{Key: "class", Val: "gfm gfm-" + ref.Type.String()},
		html.Attribute{Key: AttrType, Val: ref.Type.String()},
		html.Attribute{Key: AttrScope, Val: ref.Scope.String()},
		html.Attribute{Key: AttrKey, Val: ref.Key},
		html.Attribute{Key: AttrOriginal, Val: ref.Raw},
		html.Attribute{Key: AttrCrossScope, Val: strconv.FormatBool(ref.CrossScope)},
	)
	if linkLabel != "" {
		dom.SetAttr(a, AttrLinkLabel, linkLabel)
	}
	dom.SetAttr(a, AttrState, StateProvisional)
	a.AppendChild(dom.NewText(ref.Raw))
	return a
}

// degrade replaces a marker with its original text.
func degrade(n *html.Node) {
	raw, ok := dom.Attr(n, AttrOriginal)
	if !ok {
		raw = dom.TextContent(n)
	}
	dom.ReplaceWith(n, dom.NewText(raw))
}
