// Package filter implements the ordered filter pipeline: a Document (raw
// text, later a DOM fragment) is threaded through a list of Filters along
// with a read-only Context and a mutable Result side channel.
//
// Filters are composed explicitly. Deadlines and instrumentation are added
// by wrapping a Filter with WithTimeout and WithTiming when the pipeline is
// built; nothing is patched onto filters at runtime.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for pipeline execution.
var (
	ErrMissingContext  = errors.New("missing required context")
	ErrCriticalTimeout = errors.New("critical filter timed out")
	ErrFilterFailed    = errors.New("filter failed")
	ErrWrongDocument   = errors.New("filter received wrong document kind")
)

// Filter is one pipeline step.
type Filter interface {
	// Name identifies the filter in logs and errors.
	Name() string
	// Requires lists the Context keys that must be present.
	Requires() []Key
	// Call transforms doc. It may mutate doc in place and return it.
	Call(ctx context.Context, doc *Document, fc *Context, res *Result) (*Document, error)
}

// Func adapts a function to the Filter interface.
type Func struct {
	FilterName string
	Keys       []Key
	Fn         func(ctx context.Context, doc *Document, fc *Context, res *Result) (*Document, error)
}

// Name implements Filter.
func (f Func) Name() string { return f.FilterName }

// Requires implements Filter.
func (f Func) Requires() []Key { return f.Keys }

// Call implements Filter.
func (f Func) Call(ctx context.Context, doc *Document, fc *Context, res *Result) (*Document, error) {
	return f.Fn(ctx, doc, fc, res)
}

// RequireTree returns ErrWrongDocument unless doc holds a DOM.
func RequireTree(name string, doc *Document) error {
	if !doc.IsTree() {
		return fmt.Errorf("%w: %s needs HTML, got text", ErrWrongDocument, name)
	}
	return nil
}

// RequireText returns ErrWrongDocument unless doc holds raw text.
func RequireText(name string, doc *Document) error {
	if doc.IsTree() {
		return fmt.Errorf("%w: %s needs text, got HTML", ErrWrongDocument, name)
	}
	return nil
}

// Pipeline runs filters in order.
type Pipeline struct {
	filters []Filter
	logger  logrus.FieldLogger
}

// NewPipeline builds a pipeline from filters, in execution order.
func NewPipeline(logger logrus.FieldLogger, filters ...Filter) *Pipeline {
	if logger == nil {
		logger = discardLogger()
	}
	return &Pipeline{filters: filters, logger: logger}
}

// Filters returns the steps in execution order.
func (p *Pipeline) Filters() []Filter {
	return p.filters
}

// Validate checks that fc carries every key the filters require. It runs
// before any filter so a misconfigured render fails without side effects.
func (p *Pipeline) Validate(fc *Context) error {
	for _, f := range p.filters {
		for _, k := range f.Requires() {
			if !fc.Has(k) {
				return fmt.Errorf("%w: %s requires %s", ErrMissingContext, f.Name(), k)
			}
		}
	}
	return nil
}

// Run validates fc and executes every filter. A nil res is replaced by a
// fresh Result.
func (p *Pipeline) Run(ctx context.Context, doc *Document, fc *Context, res *Result) (*Document, error) {
	if fc == nil {
		fc = NewContext()
	}
	if res == nil {
		res = NewResult()
	}
	if err := p.Validate(fc); err != nil {
		return nil, err
	}

	for _, f := range p.filters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := f.Call(ctx, doc, fc, res)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		if out != nil {
			doc = out
		}
	}
	return doc, nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// DiscardLogger returns a logger that drops everything. Library code
// defaults to it so embedding programs stay quiet.
func DiscardLogger() logrus.FieldLogger {
	return discardLogger()
}
