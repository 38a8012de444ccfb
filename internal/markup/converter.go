// Package markup holds the markup-to-HTML collaborator and the text-level
// passes that surround it: line normalization and the ==highlight==
// placeholder pair.
package markup

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"mvdan.cc/xurls/v2"

	"github.com/alnah/go-markref/internal/filter"
)

// ErrConversion indicates the markup converter failed.
var ErrConversion = errors.New("markup conversion failed")

// Converter turns markup text into an HTML fragment.
type Converter interface {
	ToHTML(ctx context.Context, content string) (string, error)
}

// GoldmarkOption customizes NewGoldmarkConverter.
type GoldmarkOption func(*goldmarkSettings)

type goldmarkSettings struct {
	rawHTML   bool
	hardWraps bool
}

// WithRawHTML lets inline HTML through the converter. Only enable it when
// the output is sanitized afterwards.
func WithRawHTML(v bool) GoldmarkOption {
	return func(s *goldmarkSettings) { s.rawHTML = v }
}

// WithHardWraps renders single newlines as <br>.
func WithHardWraps(v bool) GoldmarkOption {
	return func(s *goldmarkSettings) { s.hardWraps = v }
}

// GoldmarkConverter converts Markdown to HTML using goldmark (pure Go).
type GoldmarkConverter struct {
	md goldmark.Markdown
}

// NewGoldmarkConverter creates a GoldmarkConverter with GFM extensions and
// class-based syntax highlighting.
func NewGoldmarkConverter(opts ...GoldmarkOption) *GoldmarkConverter {
	settings := goldmarkSettings{hardWraps: true}
	for _, opt := range opts {
		opt(&settings)
	}

	rendererOpts := []renderer.Option{html.WithXHTML()}
	if settings.hardWraps {
		rendererOpts = append(rendererOpts, html.WithHardWraps())
	}
	if settings.rawHTML {
		rendererOpts = append(rendererOpts, html.WithUnsafe())
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			extension.Strikethrough,
			extension.TaskList,
			extension.NewLinkify(
				extension.WithLinkifyAllowedProtocols([][]byte{
					[]byte("http:"),
					[]byte("https:"),
				}),
				extension.WithLinkifyURLRegexp(xurls.Strict()),
			),
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(rendererOpts...),
	)
	return &GoldmarkConverter{md: md}
}

// ToHTML converts Markdown content to an HTML fragment.
// Supports context cancellation via goroutine + select pattern since
// Goldmark doesn't natively support context.
func (c *GoldmarkConverter) ToHTML(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		html string
		err  error
	}

	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		if err := c.md.Convert([]byte(content), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrConversion, err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.html, r.err
	}
}

// ConvertFilter is the pipeline step that turns a text Document into a
// tree Document.
type ConvertFilter struct {
	Converter Converter
}

// Name implements filter.Filter.
func (f *ConvertFilter) Name() string { return "markup" }

// Requires implements filter.Filter.
func (f *ConvertFilter) Requires() []filter.Key { return nil }

// Call implements filter.Filter.
func (f *ConvertFilter) Call(ctx context.Context, doc *filter.Document, _ *filter.Context, _ *filter.Result) (*filter.Document, error) {
	if err := filter.RequireText(f.Name(), doc); err != nil {
		return nil, err
	}
	out, err := f.Converter.ToHTML(ctx, doc.Text())
	if err != nil {
		return nil, err
	}
	return filter.ParseHTML(out)
}
