package main

import (
	"io"

	flag "github.com/spf13/pflag"
)

// commonFlags holds flags shared across commands.
type commonFlags struct {
	config  string
	quiet   bool
	verbose bool
}

// contextFlags holds the render context: where the text lives and who
// reads it.
type contextFlags struct {
	project           string
	group             string
	baseURL           string
	user              string
	author            string
	onlyPath          bool
	ignoreBlockquotes bool
	only              string
}

// pipelineFlags tune the renderer.
type pipelineFlags struct {
	store         string
	redactTimeout string
	toc           bool
	lazy          bool
}

// commandFlags holds all flags of render, postprocess and check.
type commandFlags struct {
	common      commonFlags
	context     contextFlags
	pipeline    pipelineFlags
	output      string
	workers     int
	postprocess bool
}

// addCommonFlags adds common flags to a FlagSet.
func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show debug logs and step timing")
}

// addContextFlags adds render context flags to a FlagSet.
func addContextFlags(fs *flag.FlagSet, f *contextFlags) {
	fs.StringVarP(&f.project, "project", "p", "", "project path local references resolve in (group/project)")
	fs.StringVar(&f.group, "group", "", "group epics resolve in (default: project namespace)")
	fs.StringVar(&f.baseURL, "base-url", "", "instance root URL")
	fs.StringVarP(&f.user, "user", "u", "", "viewer username (empty = anonymous)")
	fs.StringVar(&f.author, "author", "", "author username, limits cross-project references")
	fs.BoolVar(&f.onlyPath, "only-path", false, "emit host-relative links")
	fs.BoolVar(&f.ignoreBlockquotes, "ignore-blockquotes", false, "leave references inside blockquotes alone")
	fs.StringVar(&f.only, "only", "", "resolve a single reference type")
}

// addPipelineFlags adds renderer flags to a FlagSet.
func addPipelineFlags(fs *flag.FlagSet, f *pipelineFlags) {
	fs.StringVarP(&f.store, "store", "s", "", "entity store fixture (YAML)")
	fs.StringVar(&f.redactTimeout, "redact-timeout", "", "redaction deadline (e.g., 10s)")
	fs.BoolVar(&f.toc, "toc", false, "anchor headings and build a table of contents")
	fs.BoolVar(&f.lazy, "lazy", false, "look entities up only when a reference is checked")
}

// parseCommandFlags parses flags of the named command and returns the
// positional args.
func parseCommandFlags(name string, args []string, usage io.Writer) (*commandFlags, []string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(usage)
	f := &commandFlags{}

	fs.StringVarP(&f.output, "output", "o", "", "output directory (default: stdout)")
	fs.IntVarP(&f.workers, "workers", "w", 0, "parallel workers (0 = auto)")
	if name == cmdRender {
		fs.BoolVarP(&f.postprocess, "postprocess", "P", false, "also resolve references for --user")
	}

	addCommonFlags(fs, &f.common)
	addContextFlags(fs, &f.context)
	addPipelineFlags(fs, &f.pipeline)

	fs.Usage = func() { printCommandUsage(usage, name) }

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}
