package sanitize

import (
	"context"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/alnah/go-markref/internal/dom"
	"github.com/alnah/go-markref/internal/filter"
)

// FallbackHTML replaces the document when sanitization does not finish in
// time. It is a fixed string: a half-cleaned tree is never emitted.
const FallbackHTML = "<p>Rendering aborted due to complexity issues.</p>"

// DefaultTimeout bounds one sanitization pass.
const DefaultTimeout = 10 * time.Second

// Sanitizer is a compiled AllowList. It is safe for concurrent use.
type Sanitizer struct {
	list   *AllowList
	policy *bluemonday.Policy
}

// New compiles list. A nil list means Base().
func New(list *AllowList) *Sanitizer {
	if list == nil {
		list = Base()
	}
	return &Sanitizer{list: list, policy: compile(list)}
}

// AllowList returns the table the sanitizer was built from.
func (s *Sanitizer) AllowList() *AllowList { return s.list }

// compile turns the structural part of the table into a bluemonday policy.
// Per attribute protocol rules and value-level checks are enforced by the
// transformers afterwards.
func compile(a *AllowList) *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(true)
	if schemes := a.schemes(); len(schemes) > 0 {
		p.AllowURLSchemes(schemes...)
	}

	for name, rule := range a.elements {
		p.AllowElements(name)
		if attrs := sortedKeys(rule.attrs); len(attrs) > 0 {
			p.AllowAttrs(attrs...).OnElements(name)
		}
	}
	if styles := sortedKeys(a.styles); len(styles) > 0 {
		p.AllowStyles(styles...).Globally()
	}
	return p
}

// Clean sanitizes the children of root in place: structural filtering,
// then the table's transformers in order, then the fixed unsafe scrub.
func (s *Sanitizer) Clean(root *html.Node) error {
	fragment, err := dom.Render(root)
	if err != nil {
		return fmt.Errorf("render for sanitize: %w", err)
	}
	cleaned, err := dom.Parse(s.policy.Sanitize(fragment))
	if err != nil {
		return fmt.Errorf("parse sanitized html: %w", err)
	}
	dom.ReplaceChildren(root, cleaned)

	for _, t := range s.list.transformers {
		t.Apply(root)
	}
	scrubUnsafe(root)
	return nil
}

// CleanHTML sanitizes an HTML fragment.
func (s *Sanitizer) CleanHTML(fragment string) (string, error) {
	root, err := dom.Parse(fragment)
	if err != nil {
		return "", err
	}
	if err := s.Clean(root); err != nil {
		return "", err
	}
	return dom.Render(root)
}

// Filter is the sanitization pipeline step.
type Filter struct {
	Sanitizer *Sanitizer
}

// Name implements filter.Filter.
func (f *Filter) Name() string { return "sanitize" }

// Requires implements filter.Filter.
func (f *Filter) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (f *Filter) Call(_ context.Context, doc *filter.Document, _ *filter.Context, _ *filter.Result) (*filter.Document, error) {
	if err := filter.RequireTree(f.Name(), doc); err != nil {
		return nil, err
	}
	if err := f.Sanitizer.Clean(doc.Root()); err != nil {
		return nil, err
	}
	return doc, nil
}

// NewFilter returns the sanitization step bounded by timeout. On timeout
// the document is replaced by FallbackHTML. A non-positive timeout means
// DefaultTimeout.
func NewFilter(s *Sanitizer, timeout time.Duration, logger logrus.FieldLogger) filter.Filter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return filter.WithTimeout(&Filter{Sanitizer: s}, timeout,
		filter.OnTimeout(filter.FixedHTML(FallbackHTML)),
		filter.TimeoutLogger(logger),
	)
}
