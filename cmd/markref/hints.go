package main

import (
	"errors"
	"strings"

	markref "github.com/alnah/go-markref"
	"github.com/alnah/go-markref/internal/config"
	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/hints"
)

// hintFor returns an actionable hint for err, or "" when none applies.
func hintFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, markref.ErrCriticalTimeout):
		return hints.ForCriticalTimeout(wordAfter(err.Error(), markref.ErrCriticalTimeout.Error()+": "))
	case errors.Is(err, markref.ErrMissingContext):
		return hints.ForMissingContext(wordAfter(err.Error(), " requires "))
	case errors.Is(err, markref.ErrMissingCollaborator):
		return hints.ForStoreFixture()
	case errors.Is(err, config.ErrConfigNotFound):
		return hints.ForConfigNotFound(triedPaths(err.Error()))
	case errors.Is(err, entity.ErrUnknownType):
		names := make([]string, 0, len(entity.Types()))
		for _, t := range entity.Types() {
			names = append(names, t.String())
		}
		return hints.ForReferenceType(names)
	case errors.Is(err, ErrNoInput):
		return hints.ForStdin()
	}
	return ""
}

// wordAfter returns the word following marker in msg.
func wordAfter(msg, marker string) string {
	_, rest, ok := strings.Cut(msg, marker)
	if !ok {
		return ""
	}
	if fields := strings.Fields(rest); len(fields) > 0 {
		return strings.TrimRight(fields[0], ":,")
	}
	return ""
}

// triedPaths extracts the searched locations of a config lookup.
func triedPaths(msg string) []string {
	_, list, ok := strings.Cut(msg, "tried ")
	if !ok {
		return nil
	}
	return strings.Split(list, ", ")
}
