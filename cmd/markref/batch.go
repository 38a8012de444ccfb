package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	markref "github.com/alnah/go-markref"
)

// File permission constants.
const (
	dirPermissions  = 0o750 // rwxr-x---: owner full, group read+execute
	filePermissions = 0o644 // rw-r--r--: owner read+write, others read
)

// Pool abstracts renderer pool operations for testability.
type Pool interface {
	Acquire(ctx context.Context) (*markref.Renderer, error)
	Release(*markref.Renderer)
	Size() int
}

// Compile-time interface implementation check.
var _ Pool = (*markref.RendererPool)(nil)

// jobFunc turns one input document into the command's output.
type jobFunc func(ctx context.Context, r *markref.Renderer, content string) (string, error)

// jobResult holds the outcome of a single input.
type jobResult struct {
	InputPath string
	Output    string
	Err       error
	Duration  time.Duration
}

// jobFor returns the job of the named command.
func jobFor(name string, f *commandFlags, rc markref.RenderContext) jobFunc {
	switch {
	case name == cmdPostprocess:
		return func(ctx context.Context, r *markref.Renderer, content string) (string, error) {
			res, err := r.Postprocess(ctx, content, rc)
			if err != nil {
				return "", err
			}
			return res.HTML, nil
		}
	case name == cmdCheck:
		return func(ctx context.Context, r *markref.Renderer, content string) (string, error) {
			rendered, err := r.Render(ctx, content, rc)
			if err != nil {
				return "", err
			}
			refs, err := r.References(ctx, rendered.HTML, rc)
			if err != nil {
				return "", err
			}
			return formatReferences(refs), nil
		}
	case f.postprocess:
		return func(ctx context.Context, r *markref.Renderer, content string) (string, error) {
			res, err := r.RenderAndPostprocess(ctx, content, rc)
			if err != nil {
				return "", err
			}
			return res.HTML, nil
		}
	default:
		return func(ctx context.Context, r *markref.Renderer, content string) (string, error) {
			res, err := r.Render(ctx, content, rc)
			if err != nil {
				return "", err
			}
			return res.HTML, nil
		}
	}
}

// formatReferences prints one tab-separated line per reference:
// text, type, title and URL.
func formatReferences(refs []markref.Reference) string {
	var b strings.Builder
	for _, ref := range refs {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", ref.Text, ref.Type, ref.Title, ref.URL)
	}
	return b.String()
}

// processBatch runs job over inputs concurrently, bounded by the pool
// size. Results keep input order; one failure does not stop the others.
func processBatch(ctx context.Context, pool Pool, inputs []input, job jobFunc) []jobResult {
	results := make([]jobResult, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pool.Size())
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = processOne(ctx, pool, in, job)
			return nil
		})
	}
	_ = g.Wait() // Workers never return errors
	return results
}

// processOne reads an input and runs job on a pooled renderer.
func processOne(ctx context.Context, pool Pool, in input, job jobFunc) (result jobResult) {
	start := time.Now()
	result.InputPath = in.Path
	defer func() { result.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}
	content, err := in.read()
	if err != nil {
		result.Err = err
		return result
	}

	r, err := pool.Acquire(ctx)
	if err != nil {
		result.Err = err
		return result
	}
	defer pool.Release(r)

	result.Output, result.Err = job(ctx, r, content)
	return result
}

// outputSink decides where results go: files in dir, or env.Stdout.
type outputSink struct {
	dir string
	ext string
	env *Environment
}

// pathFor maps an input path to its file in the output directory.
func (s outputSink) pathFor(inputPath string) string {
	name := "stdin"
	if inputPath != stdinPath {
		name = strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	}
	return filepath.Join(s.dir, name+s.ext)
}

// writeResults writes successful outputs in input order and logs every
// failure. Several inputs on stdout are separated by "==> path <==" headers.
// Returns the first failure, wrapped with the failure count.
func writeResults(results []jobResult, sink outputSink, logger logrus.FieldLogger) error {
	if sink.dir != "" {
		if err := os.MkdirAll(sink.dir, dirPermissions); err != nil {
			return fmt.Errorf("%w: creating output directory: %w", ErrWriteOutput, err)
		}
	}

	var failed int
	var firstErr error
	for _, r := range results {
		if r.Err == nil {
			r.Err = writeOne(r, sink, len(results) > 1)
		}
		fields := logrus.Fields{"path": r.InputPath, "duration": r.Duration.Round(time.Millisecond)}
		if r.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = r.Err
			}
			logger.WithFields(fields).WithError(r.Err).Error("failed")
			continue
		}
		if sink.dir != "" {
			fields["output"] = sink.pathFor(r.InputPath)
		}
		logger.WithFields(fields).Info("done")
	}

	if len(results) > 1 {
		logger.WithFields(logrus.Fields{
			"succeeded": len(results) - failed,
			"failed":    failed,
		}).Info("batch complete")
	}
	if firstErr == nil {
		return nil
	}
	if len(results) == 1 {
		return firstErr
	}
	return fmt.Errorf("%d of %d inputs failed: %w", failed, len(results), firstErr)
}

func writeOne(r jobResult, sink outputSink, headers bool) error {
	if sink.dir != "" {
		// #nosec G306 -- rendered output is meant to be readable
		if err := os.WriteFile(sink.pathFor(r.InputPath), []byte(r.Output), filePermissions); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteOutput, err)
		}
		return nil
	}

	var err error
	if headers {
		_, err = fmt.Fprintf(sink.env.Stdout, "==> %s <==\n", r.InputPath)
	}
	if err == nil {
		_, err = io.WriteString(sink.env.Stdout, ensureNewline(r.Output))
	}
	if err != nil {
		return errors.Join(ErrWriteOutput, err)
	}
	return nil
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
