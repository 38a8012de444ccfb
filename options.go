package markref

import (
	"github.com/sirupsen/logrus"

	"github.com/alnah/go-markref/internal/entity"
)

// Option configures a Renderer.
type Option func(*Renderer)

// rendererConfig holds the settings options write before the pipelines are
// built.
type rendererConfig struct {
	timeouts Timeouts
	baseURL  string
	types    []entity.Type
	lazy     bool
	timing   bool
	toc      *TOC
}

// WithTimeouts sets per-step deadlines. Zero fields keep their default.
// Panics if any field is negative (programmer error, similar to
// time.NewTicker).
func WithTimeouts(t Timeouts) Option {
	if t.Filter < 0 || t.Sanitize < 0 || t.Redact < 0 {
		panic("markref: WithTimeouts durations must not be negative")
	}
	return func(r *Renderer) {
		r.cfg.timeouts = t
	}
}

// WithLogger sets the logger used for timeouts, failed lookups and, with
// WithTiming, per-step durations. The default logger discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTiming logs the duration of every pipeline step at debug level.
func WithTiming(enabled bool) Option {
	return func(r *Renderer) {
		r.cfg.timing = enabled
	}
}

// WithAllowList replaces the sanitization table.
func WithAllowList(list *AllowList) Option {
	return func(r *Renderer) {
		if list != nil {
			r.allowList = list
		}
	}
}

// WithTOC enables heading anchors and the table of contents. Nil disables
// them.
func WithTOC(t *TOC) Option {
	return func(r *Renderer) {
		r.cfg.toc = t
	}
}

// WithURLBuilder sets how resolved references become hrefs. The default
// builds forge-style paths under the base URL.
func WithURLBuilder(b URLBuilder) Option {
	return func(r *Renderer) {
		r.urls = b
	}
}

// WithConverter replaces the Markdown converter.
func WithConverter(c Converter) Option {
	return func(r *Renderer) {
		if c != nil {
			r.converter = c
		}
	}
}

// WithStore sets the entity store used by postprocessing.
func WithStore(s Store) Option {
	return func(r *Renderer) {
		r.store = s
	}
}

// WithOracle sets the permission oracle used by postprocessing.
func WithOracle(o Oracle) Option {
	return func(r *Renderer) {
		r.oracle = o
	}
}

// WithBaseURL sets the instance root. Links pointing at it are recognized
// as references, and default hrefs are built under it.
func WithBaseURL(u string) Option {
	return func(r *Renderer) {
		r.cfg.baseURL = u
	}
}

// WithTypes limits which reference types are recognized. No types means
// all of them.
func WithTypes(types ...ReferenceType) Option {
	return func(r *Renderer) {
		r.cfg.types = append([]entity.Type(nil), types...)
	}
}

// WithLazy defers entity lookups until a reference is actually checked,
// so groups that are never read are never fetched.
func WithLazy(enabled bool) Option {
	return func(r *Renderer) {
		r.cfg.lazy = enabled
	}
}
