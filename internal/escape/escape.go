// Package escape lets authors type a reference sigil literally.
//
// A backslash-escaped trigger character (\#, \@, \~ ...) is turned into a
// token before markup conversion:
//
//	\#123  ->  cmliteral-\#-cmliteral123
//
// The converter treats the token as plain text. After conversion the
// PostFilter either wraps the character in an inert <span
// data-escaped-char> (so reference matchers cannot see it) or, inside code,
// restores the original backslash form. No token survives the post-pass.
//
// Occurrences of the keyword typed by the author are broken with a zero
// width non-joiner before tokenizing, so they can neither pair with a token
// nor reach the output.
package escape

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/filter"
	"github.com/alnah/go-markref/internal/markup"
)

// LiteralKeyword wraps every token. It contains no character that any
// supported markup dialect treats specially.
const LiteralKeyword = "cmliteral"

// MarkerAttr marks the inert span produced for an escaped character.
const MarkerAttr = "data-escaped-char"

// TriggerChars are the characters that start a reference.
const TriggerChars = `@#!~%^&$`

// neutralKeyword renders like LiteralKeyword but does not contain it.
const neutralKeyword = "c\u200cmliteral"

var (
	// escapedTrigger matches a run of backslashes followed by a trigger.
	// Only an odd run escapes the trigger; "\\#" is a literal backslash
	// followed by a live "#".
	escapedTrigger = regexp.MustCompile(`(\\+)([` + regexp.QuoteMeta(TriggerChars) + `])`)

	// textToken matches a complete token in a text node. The payload is the
	// bare character, or the backslash form when the converter kept it.
	textToken = regexp.MustCompile(LiteralKeyword + `-(\\?[` + regexp.QuoteMeta(TriggerChars) + `])-` + LiteralKeyword)

	// attrToken matches a token inside an attribute value, where the
	// converter may have percent-encoded the payload.
	attrToken = regexp.MustCompile(LiteralKeyword + `-(.{1,6}?)-` + LiteralKeyword)

	// orphanOpen and orphanClose catch halves that lost their partner.
	orphanOpen  = regexp.MustCompile(LiteralKeyword + `-(\\?[` + regexp.QuoteMeta(TriggerChars) + `])?`)
	orphanClose = regexp.MustCompile(`-` + LiteralKeyword)
)

// Tokenize rewrites escaped trigger characters in markup text into tokens.
// Fenced code is left alone: backslashes there are already literal. The
// second return value reports whether the text needs the post-pass: a
// token was produced or a typed keyword was neutralized.
func Tokenize(text string) (string, bool) {
	found := strings.Contains(text, LiteralKeyword)
	if found {
		text = neutralize(text)
	}
	if !strings.Contains(text, `\`) {
		return text, found
	}
	out := markup.MapProse(text, func(prose string) string {
		return escapedTrigger.ReplaceAllStringFunc(prose, func(m string) string {
			slashes := len(m) - 1
			if slashes%2 == 0 {
				return m
			}
			found = true
			char := m[slashes:]
			return m[:slashes-1] + LiteralKeyword + `-\` + char + `-` + LiteralKeyword
		})
	})
	return out, found
}

// PreFilter is the text half of the protocol. It records
// filter.ResultEscapedLiterals so the post-pass can skip documents without
// tokens.
type PreFilter struct{}

// Name implements filter.Filter.
func (PreFilter) Name() string { return "escape-pre" }

// Requires implements filter.Filter.
func (PreFilter) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (f PreFilter) Call(_ context.Context, doc *filter.Document, _ *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireText(f.Name(), doc); err != nil {
		return nil, err
	}
	text, found := Tokenize(doc.Text())
	if !found {
		return doc, nil
	}
	res.Set(filter.ResultEscapedLiterals, true)
	return filter.NewText(text), nil
}

// PostFilter is the DOM half of the protocol.
type PostFilter struct{}

// Name implements filter.Filter.
func (PostFilter) Name() string { return "escape-post" }

// Requires implements filter.Filter.
func (PostFilter) Requires() []filter.Key { return nil }

// Call implements filter.Filter. Without tokens it only neutralizes
// keywords the converter produced itself, from character references such
// as "&#99;mliteral".
func (f PostFilter) Call(_ context.Context, doc *filter.Document, _ *filter.Context, res *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(f.Name(), doc); err != nil {
		return nil, err
	}
	if !res.Bool(filter.ResultEscapedLiterals) {
		neutralizeTree(doc.Root())
		return doc, nil
	}
	Resolve(doc.Root())
	return doc, nil
}

// neutralize breaks every LiteralKeyword in s.
func neutralize(s string) string {
	return strings.ReplaceAll(s, LiteralKeyword, neutralKeyword)
}

func neutralizeTree(root *html.Node) {
	dom.Walk(root, func(n *html.Node) bool {
		switch n.Type {
		case html.TextNode:
			n.Data = neutralize(n.Data)
		case html.ElementNode:
			for i, a := range n.Attr {
				n.Attr[i].Val = neutralize(a.Val)
			}
		}
		return true
	})
}

// Resolve consumes every token under root.
func Resolve(root *html.Node) {
	for _, n := range dom.TextNodes(root, nil) {
		if !strings.Contains(n.Data, LiteralKeyword) {
			continue
		}
		if dom.HasAncestor(n, isVerbatim) {
			n.Data = restoreVerbatim(n.Data)
			continue
		}
		resolveText(n)
	}

	dom.Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		escaped := false
		for i, a := range n.Attr {
			if strings.Contains(a.Val, LiteralKeyword) {
				escaped = escaped || attrToken.MatchString(a.Val) || orphanOpen.MatchString(a.Val)
				n.Attr[i].Val = stripAttr(a.Val)
			}
		}
		// The element keeps the mark so link matchers leave it alone.
		if escaped && !dom.HasAttr(n, MarkerAttr) {
			n.Attr = append(n.Attr, html.Attribute{Key: MarkerAttr})
		}
		return true
	})

	dom.MergeAdjacentText(root)
}

func isVerbatim(n *html.Node) bool {
	return dom.IsElement(n, "code", "pre", "kbd", "samp")
}

// restoreVerbatim puts the backslash form back inside code, whatever the
// converter did with it.
func restoreVerbatim(s string) string {
	s = textToken.ReplaceAllStringFunc(s, func(m string) string {
		return backslashed(textToken.FindStringSubmatch(m)[1])
	})
	s = orphanOpen.ReplaceAllStringFunc(s, func(m string) string {
		if sub := orphanOpen.FindStringSubmatch(m); sub[1] != "" {
			return backslashed(sub[1])
		}
		return ""
	})
	return neutralize(orphanClose.ReplaceAllString(s, ""))
}

func backslashed(payload string) string {
	if strings.HasPrefix(payload, `\`) {
		return payload
	}
	return `\` + payload
}

// resolveText splits a text node around its tokens. A payload that still
// carries its backslash means the converter treated it as ordinary text, so
// the backslash is restored in front of the character. Either way the
// character becomes an inert span.
func resolveText(n *html.Node) {
	text := n.Data
	var nodes []*html.Node
	var pending strings.Builder

	emit := func(payload string) {
		if rest, ok := strings.CutPrefix(payload, `\`); ok {
			pending.WriteString(`\`)
			payload = rest
		}
		if pending.Len() > 0 {
			nodes = append(nodes, dom.NewText(pending.String()))
			pending.Reset()
		}
		nodes = append(nodes, inertSpan(payload))
	}

	last := 0
	for _, loc := range textToken.FindAllStringSubmatchIndex(text, -1) {
		scrubOrphans(text[last:loc[0]], &pending, emit)
		emit(text[loc[2]:loc[3]])
		last = loc[1]
	}
	scrubOrphans(text[last:], &pending, emit)

	if pending.Len() > 0 {
		nodes = append(nodes, dom.NewText(pending.String()))
	}
	dom.ReplaceWith(n, nodes...)
}

// scrubOrphans copies s into pending, degrading unpaired token halves. An
// orphaned opening half still protects its character. Typed keywords were
// neutralized before conversion, so any half left here came from a token.
func scrubOrphans(s string, pending *strings.Builder, emit func(string)) {
	s = orphanClose.ReplaceAllString(s, "")
	last := 0
	for _, loc := range orphanOpen.FindAllStringSubmatchIndex(s, -1) {
		pending.WriteString(neutralize(s[last:loc[0]]))
		if loc[2] >= 0 {
			emit(s[loc[2]:loc[3]])
		}
		last = loc[1]
	}
	pending.WriteString(neutralize(s[last:]))
}

func inertSpan(char string) *html.Node {
	span := dom.NewElement("span", html.Attribute{Key: MarkerAttr, Val: ""})
	span.AppendChild(dom.NewText(char))
	return span
}

// stripAttr removes token wrappers from an attribute value. Attributes
// cannot hold markup, so the payload is kept as text.
func stripAttr(s string) string {
	s = attrToken.ReplaceAllString(s, "$1")
	s = orphanOpen.ReplaceAllString(s, "$1")
	s = orphanClose.ReplaceAllString(s, "")
	return neutralize(s)
}
