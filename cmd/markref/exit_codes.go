package main

import (
	"context"
	"errors"
	"os"

	flag "github.com/spf13/pflag"

	markref "github.com/alnah/go-markref"
	"github.com/alnah/go-markref/internal/config"
	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/store"
	"github.com/alnah/go-markref/internal/yamlutil"
)

// Exit codes for the markref CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess = 0 // Every input processed
	ExitGeneral = 1 // General/unexpected error
	ExitUsage   = 2 // Invalid flags, config, or render context
	ExitIO      = 3 // File not found, permission denied
	ExitAborted = 4 // Render aborted by a critical step or a signal
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// I/O errors (exit 3)
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, ErrReadInput) ||
		errors.Is(err, ErrWriteOutput) ||
		errors.Is(err, ErrNoInput) {
		return ExitIO
	}

	// Usage/config/validation errors (exit 2)
	if errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrFieldTooLong) ||
		errors.Is(err, config.ErrInvalidValue) ||
		errors.Is(err, store.ErrInvalidFixture) ||
		errors.Is(err, yamlutil.ErrDecode) ||
		errors.Is(err, entity.ErrUnknownType) ||
		errors.Is(err, markref.ErrEmptyInput) ||
		errors.Is(err, markref.ErrInvalidBaseURL) ||
		errors.Is(err, markref.ErrInvalidTOCDepth) ||
		errors.Is(err, markref.ErrMissingContext) ||
		errors.Is(err, markref.ErrMissingCollaborator) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrInvalidWorkerCount) ||
		errors.Is(err, ErrInvalidTimeout) ||
		errors.Is(err, ErrInvalidFlags) ||
		errors.Is(err, flag.ErrHelp) {
		return ExitUsage
	}

	// Aborted renders (exit 4). Checked after usage errors, which the
	// renderer also reports as failed renders.
	if errors.Is(err, markref.ErrCriticalTimeout) ||
		errors.Is(err, markref.ErrRenderFailed) ||
		errors.Is(err, context.Canceled) {
		return ExitAborted
	}

	return ExitGeneral
}
