package markref

import (
	"fmt"
	"time"

	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/filter"
	"github.com/alnah/go-markref/internal/markup"
	"github.com/alnah/go-markref/internal/sanitize"
	"github.com/alnah/go-markref/internal/toc"
)

// Collaborator types. Library users implement Store, Oracle and URLBuilder
// to plug the renderer into their own data.
type (
	ReferenceType = entity.Type
	Actor         = entity.Actor
	User          = entity.User
	Entity        = entity.Entity
	Record        = entity.Record
	Scope         = entity.Scope
	Ability       = entity.Ability
	Store         = entity.Store
	Oracle        = entity.Oracle
	URLBuilder    = entity.URLBuilder
	URLOptions    = entity.URLOptions
	Converter     = markup.Converter
	AllowList     = sanitize.AllowList
	Customization = sanitize.Customization
)

// Reference types.
const (
	ReferenceUser         = entity.TypeUser
	ReferenceIssue        = entity.TypeIssue
	ReferenceMergeRequest = entity.TypeMergeRequest
	ReferenceSnippet      = entity.TypeSnippet
	ReferenceLabel        = entity.TypeLabel
	ReferenceMilestone    = entity.TypeMilestone
	ReferenceCommit       = entity.TypeCommit
	ReferenceEpic         = entity.TypeEpic
)

// ParseReferenceType converts a type name such as "merge_request".
func ParseReferenceType(name string) (ReferenceType, error) {
	return entity.ParseType(name)
}

// ReferenceTypes lists every reference type in matching order.
func ReferenceTypes() []ReferenceType {
	return entity.Types()
}

// BaseAllowList returns the default sanitization table. Derive custom
// tables from it with Customize.
func BaseAllowList() *AllowList {
	return sanitize.Base()
}

// RenderContext describes one render: where the text lives and who is
// looking at it.
type RenderContext struct {
	// Project is the "group/project" path local references resolve in.
	// Rendering requires it.
	Project string
	// Group is the group epics resolve in. Defaults to the project's
	// namespace.
	Group string
	// CurrentUser is the viewer. Nil means anonymous.
	CurrentUser Actor
	// Author wrote the text. Cross-scope references the author cannot
	// read are never resolved.
	Author Actor
	// OnlyPath makes links relative to the instance root.
	OnlyPath bool
	// IgnoreBlockquotes leaves references inside blockquotes alone.
	IgnoreBlockquotes bool
	// SkipRedaction trusts every resolved reference. Only set it for
	// output nobody but the author will see.
	SkipRedaction bool
	// Only restricts postprocessing to one reference type; other markers
	// degrade to text. Zero means every type.
	Only ReferenceType
}

// filterContext converts the public RenderContext to the pipeline context.
func (c RenderContext) filterContext() *filter.Context {
	opts := []filter.Option{
		filter.WithOnlyPath(c.OnlyPath),
		filter.WithIgnoreBlockquotes(c.IgnoreBlockquotes),
		filter.WithSkipRedaction(c.SkipRedaction),
	}
	if c.Project != "" {
		opts = append(opts, filter.WithProject(c.Project))
	}
	if c.Group != "" {
		opts = append(opts, filter.WithGroup(c.Group))
	}
	if c.CurrentUser != nil {
		opts = append(opts, filter.WithCurrentUser(c.CurrentUser))
	}
	if c.Author != nil {
		opts = append(opts, filter.WithAuthor(c.Author))
	}
	if c.Only != 0 {
		opts = append(opts, filter.WithReferenceFilter(c.Only))
	}
	return filter.NewContext(opts...)
}

// Result is the output of a render or postprocess run.
type Result struct {
	HTML string
	// TOC is the table of contents fragment, empty unless WithTOC is set
	// and the document has headings.
	TOC string
	// Truncated is true when a recoverable step timed out and its
	// fallback was used.
	Truncated bool
}

// Reference is a reference the viewer is allowed to see.
type Reference struct {
	Type ReferenceType
	// Scope is the project or group path, empty for users.
	Scope string
	Key   string
	// Text is what was typed.
	Text  string
	Title string
	URL   string
}

// Timeouts bounds individual pipeline steps. Zero fields use the defaults.
type Timeouts struct {
	// Filter bounds conversion, reference matching, linking and the
	// table of contents.
	Filter time.Duration
	// Sanitize bounds sanitization. On timeout the document is replaced
	// by a fixed notice.
	Sanitize time.Duration
	// Redact bounds gathering and redaction. On timeout the render
	// fails.
	Redact time.Duration
}

// Default step timeouts.
const (
	DefaultFilterTimeout   = 5 * time.Second
	DefaultSanitizeTimeout = sanitize.DefaultTimeout
	DefaultRedactTimeout   = 10 * time.Second
)

func (t Timeouts) withDefaults() Timeouts {
	if t.Filter == 0 {
		t.Filter = DefaultFilterTimeout
	}
	if t.Sanitize == 0 {
		t.Sanitize = DefaultSanitizeTimeout
	}
	if t.Redact == 0 {
		t.Redact = DefaultRedactTimeout
	}
	return t
}

// TOC configures the table of contents.
type TOC struct {
	Title    string
	MinDepth int // 0 means toc.DefaultMinDepth
	MaxDepth int // 0 means toc.DefaultMaxDepth
}

// Validate checks the depth range. A nil TOC is valid.
func (t *TOC) Validate() error {
	if t == nil {
		return nil
	}
	lo, hi := t.depths()
	if lo < 1 || lo > 6 || hi < 1 || hi > 6 {
		return fmt.Errorf("%w: depths must be between 1 and 6, got %d..%d", ErrInvalidTOCDepth, lo, hi)
	}
	if lo > hi {
		return fmt.Errorf("%w: minDepth %d is above maxDepth %d", ErrInvalidTOCDepth, lo, hi)
	}
	return nil
}

func (t *TOC) depths() (lo, hi int) {
	lo, hi = t.MinDepth, t.MaxDepth
	if lo == 0 {
		lo = toc.DefaultMinDepth
	}
	if hi == 0 {
		hi = toc.DefaultMaxDepth
	}
	return lo, hi
}

// AllowList customizations. Each returns a Customization for
// AllowList.Customize; entries the base table forbids are ignored.
var (
	AllowElements    = sanitize.AllowElements
	RemoveElements   = sanitize.RemoveElements
	AllowAttributes  = sanitize.AllowAttributes
	RemoveAttributes = sanitize.RemoveAttributes
	AllowProtocols   = sanitize.AllowProtocols
	AllowStyles      = sanitize.AllowStyles
)
