package reference

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alnah/go-markref/internal/entity"
)

const (
	pathSegment = `[A-Za-z0-9_][A-Za-z0-9_.-]*`
	projectPath = pathSegment + `(?:/` + pathSegment + `)+`
	groupPath   = pathSegment + `(?:/` + pathSegment + `)*`
	namePattern = `[A-Za-z0-9_][A-Za-z0-9_.-]*`
	numberKey   = `(?P<key>[0-9]+)\b`
)

var namePatternRE = regexp.MustCompile(`^` + namePattern + `$`)

// Matcher recognizes the references of one type. Short patterns name their
// groups scope, key and quoted; link patterns name scope and key.
type Matcher struct {
	Type  entity.Type
	Sigil string

	short *regexp.Regexp
	exact *regexp.Regexp
	link  *regexp.Regexp

	scopeKind entity.ScopeKind
	// names are free-form keys whose trailing punctuation belongs to the
	// sentence, not the reference.
	names bool
	// hex keys must contain a letter so plain numbers are not commits.
	hex bool
}

// Registry maps every entity.Type to its Matcher. It is built once and is
// read-only afterwards.
type Registry struct {
	matchers [entity.TypeEpic + 1]*Matcher
}

// NewRegistry builds the matchers. baseURL is the instance root used to
// recognize links pointing back at entities; when empty, only the short
// syntax and short-syntax hrefs are recognized.
func NewRegistry(baseURL string) *Registry {
	base := ""
	if baseURL != "" {
		base = regexp.QuoteMeta(strings.TrimRight(baseURL, "/"))
	}
	project := func(seg, key string) string {
		if base == "" {
			return ""
		}
		return `^` + base + `/(?P<scope>` + projectPath + `)/-/` + seg + `/(?P<key>` + key + `)/?(?:[?#].*)?$`
	}

	r := &Registry{}
	r.add(&Matcher{
		Type: entity.TypeUser, Sigil: "@", scopeKind: entity.ScopeGlobal, names: true,
		short: regexp.MustCompile(`@(?P<key>` + namePattern + `)`),
	}, "")
	r.add(&Matcher{
		Type: entity.TypeIssue, Sigil: "#", scopeKind: entity.ScopeProject,
		short: regexp.MustCompile(`(?:(?P<scope>` + projectPath + `))?#` + numberKey),
	}, project("issues", `[0-9]+`))
	r.add(&Matcher{
		Type: entity.TypeMergeRequest, Sigil: "!", scopeKind: entity.ScopeProject,
		short: regexp.MustCompile(`(?:(?P<scope>` + projectPath + `))?!` + numberKey),
	}, project("merge_requests", `[0-9]+`))
	r.add(&Matcher{
		Type: entity.TypeSnippet, Sigil: "$", scopeKind: entity.ScopeProject,
		short: regexp.MustCompile(`(?:(?P<scope>` + projectPath + `))?\$` + numberKey),
	}, project("snippets", `[0-9]+`))
	r.add(&Matcher{
		Type: entity.TypeLabel, Sigil: "~", scopeKind: entity.ScopeProject, names: true,
		short: regexp.MustCompile(`(?:(?P<scope>` + projectPath + `))?~(?:"(?P<quoted>[^"\n]+)"|(?P<key>` + namePattern + `))`),
	}, project("labels", `[^/?#]+`))
	r.add(&Matcher{
		Type: entity.TypeMilestone, Sigil: "%", scopeKind: entity.ScopeProject, names: true,
		short: regexp.MustCompile(`(?:(?P<scope>` + projectPath + `))?%(?:"(?P<quoted>[^"\n]+)"|(?P<key>` + namePattern + `))`),
	}, project("milestones", `[^/?#]+`))
	r.add(&Matcher{
		Type: entity.TypeCommit, Sigil: "", scopeKind: entity.ScopeProject, hex: true,
		short: regexp.MustCompile(`(?:(?P<scope>` + projectPath + `)@)?(?P<key>[0-9a-f]{7,40})\b`),
	}, project("commit", `[0-9a-f]{7,40}`))

	epicLink := ""
	if base != "" {
		epicLink = `^` + base + `/groups/(?P<scope>` + groupPath + `)/-/epics/(?P<key>[0-9]+)/?(?:[?#].*)?$`
	}
	r.add(&Matcher{
		Type: entity.TypeEpic, Sigil: "&", scopeKind: entity.ScopeGroup,
		short: regexp.MustCompile(`(?:(?P<scope>` + groupPath + `))?&` + numberKey),
	}, epicLink)
	return r
}

func (r *Registry) add(m *Matcher, link string) {
	m.exact = regexp.MustCompile(`^(?:` + m.short.String() + `)$`)
	if link != "" {
		m.link = regexp.MustCompile(link)
	}
	r.matchers[m.Type] = m
}

// Matcher returns the matcher for t, or nil for an invalid type.
func (r *Registry) Matcher(t entity.Type) *Matcher {
	if !t.Valid() {
		return nil
	}
	return r.matchers[t]
}

// Matchers returns the matchers of types in registry order. With no types
// every matcher is returned.
func (r *Registry) Matchers(types ...entity.Type) []*Matcher {
	if len(types) == 0 {
		types = entity.Types()
	}
	out := make([]*Matcher, 0, len(types))
	for _, t := range types {
		if m := r.Matcher(t); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// span is one short-syntax match inside a string.
type span struct {
	start, end int
	scope      string
	key        string
}

// findAll returns the short-syntax matches of text, left to right.
func (m *Matcher) findAll(text string) []span {
	var out []span
	pos := 0
	for pos < len(text) {
		loc := m.short.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		s, ok := m.spanAt(text, pos, loc)
		if !ok {
			_, size := utf8.DecodeRuneInString(text[pos+loc[0]:])
			pos += loc[0] + size
			continue
		}
		out = append(out, s)
		pos = s.end
	}
	return out
}

func (m *Matcher) spanAt(text string, offset int, loc []int) (span, bool) {
	s := span{start: offset + loc[0], end: offset + loc[1]}
	if s.start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:s.start])
		if isWordRune(prev) || prev == '/' || prev == '.' {
			return span{}, false
		}
	}
	s.scope, s.key = m.groups(text[offset:], loc)
	if m.names && !m.quoted(text[offset:], loc) {
		trimmed := strings.TrimRight(s.key, ".-")
		if trimmed == "" {
			return span{}, false
		}
		s.end -= len(s.key) - len(trimmed)
		s.key = trimmed
	}
	if m.hex && !strings.ContainsAny(s.key, "abcdef") {
		return span{}, false
	}
	return s, s.key != ""
}

func (m *Matcher) groups(text string, loc []int) (scope, key string) {
	for i, name := range m.short.SubexpNames() {
		if loc[2*i] < 0 {
			continue
		}
		switch name {
		case "scope":
			scope = text[loc[2*i]:loc[2*i+1]]
		case "key", "quoted":
			key = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return scope, key
}

func (m *Matcher) quoted(text string, loc []int) bool {
	i := m.short.SubexpIndex("quoted")
	return i > 0 && loc[2*i] >= 0
}

// matchExact reports whether s is exactly one short reference.
func (m *Matcher) matchExact(s string) (scope, key string, ok bool) {
	loc := m.exact.FindStringSubmatchIndex(s)
	if loc == nil {
		return "", "", false
	}
	scope, key = m.groups(s, loc)
	return scope, key, key != ""
}

// matchLink reports whether href has the canonical URL shape of the type.
func (m *Matcher) matchLink(href string) (scope, key string, ok bool) {
	if m.link == nil {
		return "", "", false
	}
	sub := m.link.FindStringSubmatch(href)
	if sub == nil {
		return "", "", false
	}
	for i, name := range m.link.SubexpNames() {
		switch name {
		case "scope":
			scope = sub[i]
		case "key":
			key = sub[i]
		}
	}
	if k, err := url.PathUnescape(key); err == nil {
		key = k
	}
	return scope, key, key != ""
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
