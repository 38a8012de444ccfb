package sanitize

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
)

// IDPrefix is prepended to user-supplied ids and names so they cannot
// clobber globals of the page that embeds the HTML.
const IDPrefix = "user-content-"

var (
	cellAlign     = regexp.MustCompile(`^(left|center|right)$`)
	cellStyle     = regexp.MustCompile(`^\s*text-align\s*:\s*(left|center|right)\s*;?\s*$`)
	languageClass = regexp.MustCompile(`^language-[\w+#.-]+$`)
	languageName  = regexp.MustCompile(`^[\w+#.-]+$`)
	highlightTok  = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	schemePrefix  = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]*):`)
)

// urlAttributes are checked by the protocol transformer and the final scrub.
var urlAttributes = []string{
	"href", "src", "cite", "action", "formaction", "poster",
	"background", "longdesc", "usemap", "xlink:href", "srcset",
}

func eachElement(root *html.Node, fn func(n *html.Node) bool) {
	dom.Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		return fn(n)
	})
}

// tableCellStyle limits table cell styling to a text-align keyword.
func tableCellStyle(root *html.Node) {
	eachElement(root, func(n *html.Node) bool {
		if !dom.IsElement(n, "td", "th") {
			return true
		}
		if v, ok := dom.Attr(n, "align"); ok && !cellAlign.MatchString(strings.ToLower(v)) {
			dom.RemoveAttr(n, "align")
		}
		if v, ok := dom.Attr(n, "style"); ok {
			m := cellStyle.FindStringSubmatch(strings.ToLower(v))
			if m == nil {
				dom.RemoveAttr(n, "style")
			} else {
				dom.SetAttr(n, "style", "text-align: "+m[1])
			}
		}
		return true
	})
}

// protocolFilter enforces the per element.attribute protocol rules, which
// are finer than the policy-wide scheme list. Relative URLs are kept.
func (a *AllowList) protocolFilter(root *html.Node) {
	eachElement(root, func(n *html.Node) bool {
		for _, attr := range urlAttributes {
			v, ok := dom.Attr(n, attr)
			if !ok {
				continue
			}
			scheme := schemeOf(v)
			if scheme == "" {
				continue
			}
			if _, allowed := a.protocolsFor(n.Data, attr)[scheme]; !allowed {
				dom.RemoveAttr(n, attr)
			}
		}
		return true
	})
}

// schemeOf returns the lower-cased scheme of a URL, or "" for relative
// URLs. Whitespace and control characters browsers ignore are dropped
// first.
func schemeOf(v string) string {
	clean := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return -1
		}
		return r
	}, v)
	m := schemePrefix.FindStringSubmatch(clean)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// codeLanguage keeps only language classes on code blocks and highlighter
// token classes on spans.
func codeLanguage(root *html.Node) {
	eachElement(root, func(n *html.Node) bool {
		switch {
		case dom.IsElement(n, "code"):
			filterClasses(n, languageClass.MatchString)
			if v, ok := dom.Attr(n, "data-lang"); ok && !languageName.MatchString(v) {
				dom.RemoveAttr(n, "data-lang")
			}
		case dom.IsElement(n, "pre"):
			filterClasses(n, func(c string) bool {
				return c == "chroma" || c == "code" || languageClass.MatchString(c)
			})
			if v, ok := dom.Attr(n, "tabindex"); ok && v != "0" {
				dom.RemoveAttr(n, "tabindex")
			}
		case dom.IsElement(n, "span"):
			filterClasses(n, highlightTok.MatchString)
		case dom.IsElement(n, "a"):
			// Reference classes are only ever set by the matchers.
			filterClasses(n, func(c string) bool {
				return highlightTok.MatchString(c) && c != "gfm" && !strings.HasPrefix(c, "gfm-")
			})
		case dom.IsElement(n, "input"):
			if v, _ := dom.Attr(n, "type"); v != "checkbox" {
				dom.Remove(n)
				return false
			}
		}
		return true
	})
}

func filterClasses(n *html.Node, keep func(string) bool) {
	v, ok := dom.Attr(n, "class")
	if !ok {
		return
	}
	var kept []string
	for _, c := range strings.Fields(v) {
		if keep(c) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		dom.RemoveAttr(n, "class")
		return
	}
	dom.SetAttr(n, "class", strings.Join(kept, " "))
}

// idPrefix prefixes ids and names, and fragment links that point at a
// prefixed target.
func idPrefix(root *html.Node) {
	targets := make(map[string]struct{})
	eachElement(root, func(n *html.Node) bool {
		for _, attr := range []string{"id", "name"} {
			v, ok := dom.Attr(n, attr)
			if !ok {
				continue
			}
			targets[strings.TrimPrefix(v, IDPrefix)] = struct{}{}
			if !strings.HasPrefix(v, IDPrefix) {
				dom.SetAttr(n, attr, IDPrefix+v)
			}
		}
		return true
	})
	if len(targets) == 0 {
		return
	}
	eachElement(root, func(n *html.Node) bool {
		if !dom.IsElement(n, "a") {
			return true
		}
		href, _ := dom.Attr(n, "href")
		frag, ok := strings.CutPrefix(href, "#")
		if !ok || strings.HasPrefix(frag, IDPrefix) {
			return true
		}
		if _, ok := targets[frag]; ok {
			dom.SetAttr(n, "href", "#"+IDPrefix+frag)
		}
		return true
	})
}

// linkRel isolates links that open a new browsing context.
func linkRel(root *html.Node) {
	eachElement(root, func(n *html.Node) bool {
		if !dom.IsElement(n, "a") {
			return true
		}
		target, ok := dom.Attr(n, "target")
		if !ok {
			return true
		}
		switch target {
		case "_blank":
			v, _ := dom.Attr(n, "rel")
			rel := strings.Fields(v)
			for _, want := range []string{"noopener", "noreferrer"} {
				if !slices.Contains(rel, want) {
					rel = append(rel, want)
				}
			}
			dom.SetAttr(n, "rel", strings.Join(rel, " "))
		case "_self", "_parent", "_top":
		default:
			dom.RemoveAttr(n, "target")
		}
		return true
	})
}

// scrubUnsafe always runs last. It removes forbidden elements, event
// handler attributes and URLs with a forbidden scheme, whatever the table
// and transformers did.
func scrubUnsafe(root *html.Node) {
	eachElement(root, func(n *html.Node) bool {
		if slices.Contains(forbiddenElements, strings.ToLower(n.Data)) {
			dom.Remove(n)
			return false
		}
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			key := strings.ToLower(a.Key)
			if strings.HasPrefix(key, "on") {
				continue
			}
			if slices.Contains(urlAttributes, key) && unsafeURL(a.Val) {
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
		return true
	})
}

func unsafeURL(v string) bool {
	if slices.Contains(forbiddenProtocols, schemeOf(v)) {
		return true
	}
	// srcset carries several URLs.
	for _, part := range strings.Split(v, ",") {
		if slices.Contains(forbiddenProtocols, schemeOf(strings.TrimSpace(part))) {
			return true
		}
	}
	return false
}
