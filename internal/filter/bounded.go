package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alnah/go-markref/internal/dom"
)

// Class decides what a timeout means for a filter.
type Class int

const (
	// Recoverable filters fall back to a safe document on timeout and the
	// pipeline continues.
	Recoverable Class = iota
	// Critical filters abort the render on timeout.
	Critical
)

func (c Class) String() string {
	if c == Critical {
		return "critical"
	}
	return "recoverable"
}

// Fallback produces the document used when a recoverable filter times out.
// prev is the document as it was before the filter started.
type Fallback func(prev *Document) (*Document, error)

// KeepPrevious continues with the document the filter was given.
func KeepPrevious() Fallback {
	return func(prev *Document) (*Document, error) { return prev, nil }
}

// FixedHTML replaces the document with a pre-vetted fragment. Use it when
// the previous document is not safe to emit either.
func FixedHTML(fragment string) Fallback {
	return func(*Document) (*Document, error) {
		return ParseHTML(fragment)
	}
}

// WithNotice keeps the previous document and appends a short notice.
func WithNotice(notice string) Fallback {
	return func(prev *Document) (*Document, error) {
		if !prev.IsTree() {
			return NewText(prev.Text() + "\n\n" + notice + "\n"), nil
		}
		p := dom.NewElement("p")
		dom.SetAttr(p, "class", "render-truncated")
		p.AppendChild(dom.NewText(notice))
		prev.Root().AppendChild(p)
		return prev, nil
	}
}

// TimeoutOption configures WithTimeout.
type TimeoutOption func(*timeoutFilter)

// AsCritical marks the wrapped filter critical.
func AsCritical() TimeoutOption {
	return func(t *timeoutFilter) { t.class = Critical }
}

// OnTimeout sets the fallback of a recoverable filter.
func OnTimeout(fb Fallback) TimeoutOption {
	return func(t *timeoutFilter) { t.fallback = fb }
}

// TimeoutLogger sets where recoverable timeouts are reported.
func TimeoutLogger(l logrus.FieldLogger) TimeoutOption {
	return func(t *timeoutFilter) {
		if l != nil {
			t.logger = l
		}
	}
}

type timeoutFilter struct {
	inner    Filter
	timeout  time.Duration
	class    Class
	fallback Fallback
	logger   logrus.FieldLogger
}

// WithTimeout bounds f by a wall-clock deadline. Filters are recoverable
// unless AsCritical is given.
//
// Recoverable filters run on a copy of the document and of the Result, so a
// filter that is still running after its deadline cannot touch what the
// pipeline continues with. A zero or negative timeout disables the bound.
func WithTimeout(f Filter, timeout time.Duration, opts ...TimeoutOption) Filter {
	t := &timeoutFilter{
		inner:    f,
		timeout:  timeout,
		class:    Recoverable,
		fallback: KeepPrevious(),
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *timeoutFilter) Name() string    { return t.inner.Name() }
func (t *timeoutFilter) Requires() []Key { return t.inner.Requires() }

type outcome struct {
	doc *Document
	err error
}

func (t *timeoutFilter) Call(ctx context.Context, doc *Document, fc *Context, res *Result) (*Document, error) {
	if t.timeout <= 0 {
		return t.inner.Call(ctx, doc, fc, res)
	}

	stepCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	work := doc
	if t.class == Recoverable {
		work = doc.Clone()
	}
	scratch := res.clone()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", ErrFilterFailed, r)}
			}
		}()
		out, err := t.inner.Call(stepCtx, work, fc, scratch)
		done <- outcome{doc: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return t.expired(doc, res)
			}
			return nil, o.err
		}
		res.Merge(scratch)
		if o.doc == nil {
			return work, nil
		}
		return o.doc, nil
	case <-stepCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return t.expired(doc, res)
	}
}

func (t *timeoutFilter) expired(prev *Document, res *Result) (*Document, error) {
	if t.class == Critical {
		return nil, fmt.Errorf("%w: %s exceeded %s", ErrCriticalTimeout, t.inner.Name(), t.timeout)
	}

	t.logger.WithFields(logrus.Fields{
		"filter":  t.inner.Name(),
		"timeout": t.timeout,
	}).Warn("filter timed out, using fallback")

	res.Set(ResultTruncated, true)
	return t.fallback(prev)
}

// WithTiming logs how long f takes at debug level.
func WithTiming(f Filter, logger logrus.FieldLogger) Filter {
	if logger == nil {
		return f
	}
	return &timingFilter{inner: f, logger: logger}
}

type timingFilter struct {
	inner  Filter
	logger logrus.FieldLogger
}

func (t *timingFilter) Name() string    { return t.inner.Name() }
func (t *timingFilter) Requires() []Key { return t.inner.Requires() }

func (t *timingFilter) Call(ctx context.Context, doc *Document, fc *Context, res *Result) (*Document, error) {
	start := time.Now()
	out, err := t.inner.Call(ctx, doc, fc, res)
	entry := t.logger.WithFields(logrus.Fields{
		"filter":   t.inner.Name(),
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Debug("filter failed")
		return out, err
	}
	entry.Debug("filter done")
	return out, nil
}
