package markref

import (
	"errors"

	"github.com/alnah/go-markref/internal/filter"
	"github.com/alnah/go-markref/internal/reference"
)

// Sentinel errors for library operations.
var (
	ErrEmptyInput      = errors.New("input cannot be empty")
	ErrRenderFailed    = errors.New("render failed")
	ErrInvalidBaseURL  = errors.New("invalid base URL")
	ErrInvalidTOCDepth = errors.New("invalid TOC depth")
	ErrPoolClosed      = errors.New("renderer pool is closed")

	// Pipeline errors, re-exported so callers can test for them with
	// errors.Is.
	ErrMissingContext      = filter.ErrMissingContext
	ErrCriticalTimeout     = filter.ErrCriticalTimeout
	ErrMissingCollaborator = reference.ErrMissingCollaborator
)
