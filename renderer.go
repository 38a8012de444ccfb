package markref

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/escape"
	"github.com/alnah/go-markref/internal/filter"
	"github.com/alnah/go-markref/internal/markup"
	"github.com/alnah/go-markref/internal/reference"
	"github.com/alnah/go-markref/internal/sanitize"
	"github.com/alnah/go-markref/internal/toc"
)

// Renderer turns Markdown into sanitized HTML with reference markers, and
// resolves those markers for a given viewer. Create it with NewRenderer.
// A Renderer is safe for concurrent use.
//
// Rendering and postprocessing are separate so the output of Render can be
// cached once and postprocessed for every viewer.
type Renderer struct {
	cfg       rendererConfig
	logger    logrus.FieldLogger
	converter markup.Converter
	allowList *sanitize.AllowList
	urls      entity.URLBuilder
	store     entity.Store
	oracle    entity.Oracle

	render      *filter.Pipeline
	postprocess *filter.Pipeline
}

// NewRenderer creates a Renderer. Without WithStore and WithOracle it can
// only Render; Postprocess reports ErrMissingCollaborator.
func NewRenderer(opts ...Option) (*Renderer, error) {
	r := &Renderer{
		logger:    filter.DiscardLogger(),
		converter: markup.NewGoldmarkConverter(markup.WithRawHTML(true)),
		allowList: sanitize.Base(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cfg.timeouts = r.cfg.timeouts.withDefaults()

	if err := r.validate(); err != nil {
		return nil, err
	}
	if r.urls == nil {
		r.urls = &reference.PathURLBuilder{BaseURL: r.cfg.baseURL}
	}

	r.render = r.buildRenderPipeline()
	r.postprocess = r.buildPostprocessPipeline()
	return r, nil
}

func (r *Renderer) validate() error {
	if r.cfg.baseURL != "" {
		u, err := url.Parse(r.cfg.baseURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q (must be an absolute http or https URL)", ErrInvalidBaseURL, r.cfg.baseURL)
		}
	}
	for _, t := range r.cfg.types {
		if !t.Valid() {
			return fmt.Errorf("%w: %s", entity.ErrUnknownType, t)
		}
	}
	return r.cfg.toc.Validate()
}

// buildRenderPipeline assembles the first run:
//
//	normalize, escape, highlight, convert, unescape, mark, sanitize,
//	match references, table of contents
//
// Sanitization falls back to a fixed notice on timeout. Matching and the
// table of contents are cosmetic: they keep the previous document and add
// TruncatedNotice.
func (r *Renderer) buildRenderPipeline() *filter.Pipeline {
	t := r.cfg.timeouts
	steps := []filter.Filter{
		markup.NormalizeFilter{},
		escape.PreFilter{},
		markup.HighlightPreFilter{},
		filter.WithTimeout(&markup.ConvertFilter{Converter: r.converter}, t.Filter,
			filter.OnTimeout(filter.FixedHTML(sanitize.FallbackHTML)),
			filter.TimeoutLogger(r.logger),
		),
		escape.PostFilter{},
		markup.HighlightFilter{},
		sanitize.NewFilter(sanitize.New(r.allowList), t.Sanitize, r.logger),
		filter.WithTimeout(&reference.MatchFilter{
			Registry: reference.NewRegistry(r.cfg.baseURL),
			Types:    r.cfg.types,
		}, t.Filter, r.cosmetic()...),
	}
	if r.cfg.toc != nil {
		lo, hi := r.cfg.toc.depths()
		steps = append(steps, filter.WithTimeout(&toc.Filter{
			MinDepth: lo,
			MaxDepth: hi,
			Title:    r.cfg.toc.Title,
		}, t.Filter, r.cosmetic()...))
	}
	return filter.NewPipeline(r.logger, r.timed(steps)...)
}

// buildPostprocessPipeline assembles the second run: gather, redact, link.
// Gathering and redaction are critical; a timeout aborts instead of
// emitting unchecked references. Linking is cosmetic.
func (r *Renderer) buildPostprocessPipeline() *filter.Pipeline {
	t := r.cfg.timeouts
	steps := []filter.Filter{
		filter.WithTimeout(&reference.Gatherer{
			Store:  r.store,
			Oracle: r.oracle,
			Logger: r.logger,
			Lazy:   r.cfg.lazy,
		}, t.Redact, filter.AsCritical()),
		filter.WithTimeout(&reference.Redactor{Oracle: r.oracle}, t.Redact, filter.AsCritical()),
		filter.WithTimeout(&reference.Linker{URLs: r.urls}, t.Filter, r.cosmetic()...),
	}
	return filter.NewPipeline(r.logger, r.timed(steps)...)
}

// TruncatedNotice is appended to the document when a cosmetic step runs
// out of time.
const TruncatedNotice = "Render truncated: some references or the table of contents may be missing."

// cosmetic configures a recoverable step that keeps the previous document
// and flags it with TruncatedNotice on timeout.
func (r *Renderer) cosmetic() []filter.TimeoutOption {
	return []filter.TimeoutOption{
		filter.OnTimeout(filter.WithNotice(TruncatedNotice)),
		filter.TimeoutLogger(r.logger),
	}
}

func (r *Renderer) timed(steps []filter.Filter) []filter.Filter {
	if !r.cfg.timing {
		return steps
	}
	out := make([]filter.Filter, len(steps))
	for i, f := range steps {
		out[i] = filter.WithTiming(f, r.logger)
	}
	return out
}

// Render converts text to sanitized HTML. References are left as
// provisional markers: the output must go through Postprocess before it is
// shown to anyone.
//
// Recovers from internal panics to prevent crashes from propagating to
// callers.
func (r *Renderer) Render(ctx context.Context, text string, rc RenderContext) (result *Result, err error) {
	defer recoverRender(&err)

	if text == "" {
		return nil, ErrEmptyInput
	}
	res := filter.NewResult()
	doc, err := r.render.Run(ctx, filter.NewText(text), rc.filterContext(), res)
	if err != nil {
		return nil, renderError(err)
	}
	return resultOf(doc, res)
}

// Postprocess resolves the markers of rendered HTML for rc.CurrentUser.
// References the viewer may not see, or that do not exist, become their
// original text; the others become links.
func (r *Renderer) Postprocess(ctx context.Context, rendered string, rc RenderContext) (result *Result, err error) {
	defer recoverRender(&err)

	doc, res, err := r.runPostprocess(ctx, rendered, rc)
	if err != nil {
		return nil, err
	}
	return resultOf(doc, res)
}

// RenderAndPostprocess runs both passes for a single viewer.
func (r *Renderer) RenderAndPostprocess(ctx context.Context, text string, rc RenderContext) (*Result, error) {
	rendered, err := r.Render(ctx, text, rc)
	if err != nil {
		return nil, err
	}
	out, err := r.Postprocess(ctx, rendered.HTML, rc)
	if err != nil {
		return nil, err
	}
	out.TOC = rendered.TOC
	out.Truncated = out.Truncated || rendered.Truncated
	return out, nil
}

// References postprocesses rendered HTML and lists the references the
// viewer can see, in document order.
func (r *Renderer) References(ctx context.Context, rendered string, rc RenderContext) (refs []Reference, err error) {
	defer recoverRender(&err)

	doc, res, err := r.runPostprocess(ctx, rendered, rc)
	if err != nil {
		return nil, err
	}
	v, _ := res.Get(filter.ResultReferences)
	resolution, ok := v.(*reference.Resolution)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, reference.ErrMissingResolution)
	}

	opts := entity.URLOptions{OnlyPath: rc.OnlyPath}
	for _, rv := range reference.Visible(ctx, resolution, doc.Root()) {
		refs = append(refs, Reference{
			Type:  rv.Ref.Type,
			Scope: rv.Entity.Scope().Path,
			Key:   rv.Entity.Key(),
			Text:  rv.Ref.Raw,
			Title: rv.Entity.Title(),
			URL:   r.urls.URLFor(rv.Entity, opts),
		})
	}
	return refs, nil
}

func (r *Renderer) runPostprocess(ctx context.Context, rendered string, rc RenderContext) (*filter.Document, *filter.Result, error) {
	if rendered == "" {
		return nil, nil, ErrEmptyInput
	}
	doc, err := filter.ParseHTML(rendered)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	res := filter.NewResult()
	out, err := r.postprocess.Run(ctx, doc, rc.filterContext(), res)
	if err != nil {
		return nil, nil, renderError(err)
	}
	return out, res, nil
}

func resultOf(doc *filter.Document, res *filter.Result) (*Result, error) {
	out, err := doc.HTML()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return &Result{
		HTML:      out,
		TOC:       res.String(filter.ResultTOC),
		Truncated: res.Bool(filter.ResultTruncated),
	}, nil
}

// renderError tags pipeline errors with ErrRenderFailed. Cancellation is
// returned as is.
func renderError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRenderFailed, err)
}

func recoverRender(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: internal error: %v", ErrRenderFailed, r)
	}
}
