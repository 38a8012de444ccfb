package main

import (
	"io"
	"maps"
	"slices"

	"github.com/sirupsen/logrus"

	markref "github.com/alnah/go-markref"
	"github.com/alnah/go-markref/internal/config"
)

// newLogger builds the CLI logger: info by default, debug with
// --verbose, errors only with --quiet.
func newLogger(w io.Writer, f commonFlags) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case f.quiet:
		logger.SetLevel(logrus.ErrorLevel)
	case f.verbose:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// rendererOptions maps a validated config to renderer options.
func rendererOptions(cfg *config.Config, logger logrus.FieldLogger, timing bool) ([]markref.Option, error) {
	d, err := cfg.Timeouts.Durations()
	if err != nil {
		return nil, err
	}
	types, err := cfg.Render.ReferenceTypes()
	if err != nil {
		return nil, err
	}

	opts := []markref.Option{
		markref.WithLogger(logger),
		markref.WithTiming(timing),
		markref.WithTimeouts(markref.Timeouts{Filter: d.Filter, Sanitize: d.Sanitize, Redact: d.Redact}),
		markref.WithAllowList(allowListFrom(cfg.Sanitize)),
		markref.WithLazy(cfg.Render.Lazy),
	}
	if cfg.Render.BaseURL != "" {
		opts = append(opts, markref.WithBaseURL(cfg.Render.BaseURL))
	}
	if len(types) > 0 {
		opts = append(opts, markref.WithTypes(types...))
	}
	if cfg.TOC.Enabled {
		opts = append(opts, markref.WithTOC(&markref.TOC{
			Title:    cfg.TOC.Title,
			MinDepth: cfg.TOC.MinDepth,
			MaxDepth: cfg.TOC.MaxDepth,
		}))
	}
	return opts, nil
}

// allowListFrom derives the allowlist from the base table. Map keys are
// applied in sorted order so the table is deterministic.
func allowListFrom(s config.SanitizeConfig) *markref.AllowList {
	var cs []markref.Customization
	if len(s.AllowElements) > 0 {
		cs = append(cs, markref.AllowElements(s.AllowElements...))
	}
	if len(s.RemoveElements) > 0 {
		cs = append(cs, markref.RemoveElements(s.RemoveElements...))
	}
	for _, el := range slices.Sorted(maps.Keys(s.AllowAttributes)) {
		cs = append(cs, markref.AllowAttributes(el, s.AllowAttributes[el]...))
	}
	for _, el := range slices.Sorted(maps.Keys(s.RemoveAttributes)) {
		cs = append(cs, markref.RemoveAttributes(el, s.RemoveAttributes[el]...))
	}
	for _, key := range slices.Sorted(maps.Keys(s.AllowProtocols)) {
		// Keys were checked by config validation
		if el, attr, ok := config.SplitProtocolKey(key); ok {
			cs = append(cs, markref.AllowProtocols(el, attr, s.AllowProtocols[key]...))
		}
	}
	if len(s.AllowStyles) > 0 {
		cs = append(cs, markref.AllowStyles(s.AllowStyles...))
	}
	return markref.BaseAllowList().Customize(cs...)
}

// renderContext builds the per-document context. --user wins over
// MARKREF_USER; an empty name is the anonymous viewer.
func renderContext(cfg *config.Config, f contextFlags, env *envConfig) (markref.RenderContext, error) {
	rc := markref.RenderContext{
		Project:           cfg.Render.Project,
		Group:             cfg.Render.Group,
		OnlyPath:          cfg.Render.OnlyPath,
		IgnoreBlockquotes: cfg.Render.IgnoreBlockquotes,
	}

	user := f.user
	if user == "" {
		user = env.User
	}
	if user != "" {
		rc.CurrentUser = markref.User{Name: user}
	}
	if f.author != "" {
		rc.Author = markref.User{Name: f.author}
	}
	if f.only != "" {
		t, err := markref.ParseReferenceType(f.only)
		if err != nil {
			return markref.RenderContext{}, err
		}
		rc.Only = t
	}
	return rc, nil
}
