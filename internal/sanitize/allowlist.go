// Package sanitize is the allowlist engine. An AllowList is a declarative
// table of elements, attributes, URL protocols and CSS properties plus an
// ordered list of transformers. Customizations only add or remove entries;
// script and style elements and the javascript:, data: and vbscript:
// protocols can never be admitted.
package sanitize

import (
	"slices"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

var (
	forbiddenElements  = []string{"script", "style"}
	forbiddenProtocols = []string{"javascript", "data", "vbscript"}
)

// TransformFunc mutates or strips nodes of an already filtered tree.
type TransformFunc func(root *html.Node)

// Transformer is a named TransformFunc. Names make AddTransformer
// idempotent: adding a name twice keeps one entry.
type Transformer struct {
	Name  string
	Apply TransformFunc
}

type elementRule struct {
	attrs     map[string]struct{}
	protocols map[string]map[string]struct{}
}

// AllowList is the allowlist table. Values returned by Base and Customize
// are never mutated afterwards and may be shared between goroutines.
type AllowList struct {
	elements     map[string]*elementRule
	styles       map[string]struct{}
	transformers []Transformer
}

// Customization edits a copy of an AllowList.
type Customization func(*AllowList)

// Base returns the default table used for user content.
func Base() *AllowList {
	a := &AllowList{
		elements: make(map[string]*elementRule),
		styles:   make(map[string]struct{}),
	}

	a.allowElements("h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr", "div", "span", "section",
		"em", "strong", "b", "i", "u", "s", "del", "ins", "mark",
		"sub", "sup", "kbd", "samp", "var", "abbr", "small", "q",
		"blockquote", "pre", "code",
		"ul", "ol", "li", "dl", "dt", "dd",
		"details", "summary",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
		"a", "img", "input")

	for _, h := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		a.allowAttrs(h, "id")
	}
	a.allowAttrs("a", "href", "title", "id", "name", "target", "rel", "class", "role", "data-escaped-char")
	a.allowAttrs("img", "src", "alt", "title", "width", "height")
	a.allowAttrs("abbr", "title")
	a.allowAttrs("q", "cite")
	a.allowAttrs("blockquote", "cite")
	a.allowAttrs("pre", "class", "tabindex")
	a.allowAttrs("code", "class", "data-lang")
	a.allowAttrs("span", "class", "data-escaped-char")
	a.allowAttrs("section", "class", "role")
	a.allowAttrs("sup", "id")
	a.allowAttrs("li", "id")
	a.allowAttrs("ol", "start")
	a.allowAttrs("th", "align", "style", "colspan", "rowspan")
	a.allowAttrs("td", "align", "style", "colspan", "rowspan")
	a.allowAttrs("input", "type", "checked", "disabled")
	a.allowAttrs("details", "open")

	a.allowProtocols("a", "href", "http", "https", "mailto", "ftp", "irc", "ircs")
	a.allowProtocols("img", "src", "http", "https")
	a.allowProtocols("q", "cite", "http", "https")
	a.allowProtocols("blockquote", "cite", "http", "https")

	a.allowStyles("text-align")

	a.addTransformer(Transformer{Name: "table-cell-style", Apply: tableCellStyle})
	a.addTransformer(Transformer{Name: "protocols", Apply: a.protocolFilter})
	a.addTransformer(Transformer{Name: "code-language", Apply: codeLanguage})
	a.addTransformer(Transformer{Name: "id-prefix", Apply: idPrefix})
	a.addTransformer(Transformer{Name: "link-rel", Apply: linkRel})
	return a
}

// Customize returns a copy of a with the customizations applied in order.
func (a *AllowList) Customize(cs ...Customization) *AllowList {
	c := a.clone()
	for _, fn := range cs {
		fn(c)
	}
	// The protocol transformer is bound to the table that owns it.
	c.addTransformer(Transformer{Name: "protocols", Apply: c.protocolFilter})
	return c
}

// AllowElements admits elements. Forbidden elements are ignored.
func AllowElements(names ...string) Customization {
	return func(a *AllowList) { a.allowElements(names...) }
}

// RemoveElements drops elements and their attribute rules.
func RemoveElements(names ...string) Customization {
	return func(a *AllowList) {
		for _, n := range names {
			delete(a.elements, strings.ToLower(n))
		}
	}
}

// AllowAttributes admits attributes on an element, admitting the element
// too.
func AllowAttributes(element string, attrs ...string) Customization {
	return func(a *AllowList) { a.allowAttrs(element, attrs...) }
}

// RemoveAttributes drops attributes from an element.
func RemoveAttributes(element string, attrs ...string) Customization {
	return func(a *AllowList) {
		rule, ok := a.elements[strings.ToLower(element)]
		if !ok {
			return
		}
		for _, at := range attrs {
			at = strings.ToLower(at)
			delete(rule.attrs, at)
			delete(rule.protocols, at)
		}
	}
}

// AllowProtocols admits URL schemes for element.attr. Forbidden schemes are
// ignored.
func AllowProtocols(element, attr string, protocols ...string) Customization {
	return func(a *AllowList) { a.allowProtocols(element, attr, protocols...) }
}

// AllowStyles admits CSS properties in style attributes.
func AllowStyles(props ...string) Customization {
	return func(a *AllowList) { a.allowStyles(props...) }
}

// AddTransformer appends t, or replaces the transformer with the same name
// in place.
func AddTransformer(t Transformer) Customization {
	return func(a *AllowList) { a.addTransformer(t) }
}

func (a *AllowList) allowElements(names ...string) {
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || slices.Contains(forbiddenElements, n) {
			continue
		}
		if _, ok := a.elements[n]; !ok {
			a.elements[n] = &elementRule{
				attrs:     make(map[string]struct{}),
				protocols: make(map[string]map[string]struct{}),
			}
		}
	}
}

func (a *AllowList) allowAttrs(element string, attrs ...string) {
	element = strings.ToLower(element)
	a.allowElements(element)
	rule, ok := a.elements[element]
	if !ok {
		return
	}
	for _, at := range attrs {
		at = strings.ToLower(strings.TrimSpace(at))
		if at == "" || strings.HasPrefix(at, "on") {
			continue
		}
		rule.attrs[at] = struct{}{}
	}
}

func (a *AllowList) allowProtocols(element, attr string, protocols ...string) {
	a.allowAttrs(element, attr)
	rule, ok := a.elements[strings.ToLower(element)]
	if !ok {
		return
	}
	attr = strings.ToLower(attr)
	set := rule.protocols[attr]
	if set == nil {
		set = make(map[string]struct{})
		rule.protocols[attr] = set
	}
	for _, p := range protocols {
		p = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(p)), ":")
		if p == "" || slices.Contains(forbiddenProtocols, p) {
			continue
		}
		set[p] = struct{}{}
	}
}

func (a *AllowList) allowStyles(props ...string) {
	for _, p := range props {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			a.styles[p] = struct{}{}
		}
	}
}

func (a *AllowList) addTransformer(t Transformer) {
	if t.Apply == nil {
		return
	}
	for i := range a.transformers {
		if a.transformers[i].Name == t.Name {
			a.transformers[i] = t
			return
		}
	}
	a.transformers = append(a.transformers, t)
}

func (a *AllowList) clone() *AllowList {
	c := &AllowList{
		elements:     make(map[string]*elementRule, len(a.elements)),
		styles:       make(map[string]struct{}, len(a.styles)),
		transformers: slices.Clone(a.transformers),
	}
	for name, rule := range a.elements {
		r := &elementRule{
			attrs:     make(map[string]struct{}, len(rule.attrs)),
			protocols: make(map[string]map[string]struct{}, len(rule.protocols)),
		}
		for at := range rule.attrs {
			r.attrs[at] = struct{}{}
		}
		for at, set := range rule.protocols {
			s := make(map[string]struct{}, len(set))
			for p := range set {
				s[p] = struct{}{}
			}
			r.protocols[at] = s
		}
		c.elements[name] = r
	}
	for s := range a.styles {
		c.styles[s] = struct{}{}
	}
	return c
}

// Allows reports whether element is admitted.
func (a *AllowList) Allows(element string) bool {
	_, ok := a.elements[strings.ToLower(element)]
	return ok
}

// ElementRule is the exported view of one element entry.
type ElementRule struct {
	Attributes []string
	Protocols  map[string][]string
}

// Table is a sorted snapshot of an AllowList, used to compare tables.
type Table struct {
	Elements     map[string]ElementRule
	Styles       []string
	Transformers []string
}

// Table returns a snapshot of the allowlist.
func (a *AllowList) Table() Table {
	t := Table{Elements: make(map[string]ElementRule, len(a.elements))}
	for name, rule := range a.elements {
		er := ElementRule{Attributes: sortedKeys(rule.attrs)}
		if len(rule.protocols) > 0 {
			er.Protocols = make(map[string][]string, len(rule.protocols))
			for at, set := range rule.protocols {
				er.Protocols[at] = sortedKeys(set)
			}
		}
		t.Elements[name] = er
	}
	t.Styles = sortedKeys(a.styles)
	for _, tr := range a.transformers {
		t.Transformers = append(t.Transformers, tr.Name)
	}
	return t
}

// protocolsFor returns the schemes admitted for element.attr, or nil when
// the attribute carries no protocol rule.
func (a *AllowList) protocolsFor(element, attr string) map[string]struct{} {
	rule, ok := a.elements[element]
	if !ok {
		return nil
	}
	return rule.protocols[attr]
}

// schemes is the union of every admitted protocol.
func (a *AllowList) schemes() []string {
	set := make(map[string]struct{})
	for _, rule := range a.elements {
		for _, ps := range rule.protocols {
			for p := range ps {
				set[p] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
