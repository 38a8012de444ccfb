// Package hints provides actionable error hints for common failure scenarios.
// Hints are formatted consistently as "\n  hint: <text>" for appending to error messages.
package hints

import (
	"os"
	"path/filepath"
	"strings"
)

// ForCriticalTimeout returns a hint for a render aborted by a critical
// filter deadline.
func ForCriticalTimeout(filterName string) string {
	if filterName == "" {
		return format("raise the timeouts in the config or use --redact-timeout")
	}
	return format("raise the " + filterName + " timeout (timeouts.redact or --redact-timeout)")
}

// ForMissingContext returns a hint for a pipeline missing a required
// context value. key is the context key name from the error.
func ForMissingContext(key string) string {
	switch key {
	case "project_scope":
		return format("pass --project group/project or set render.project")
	case "current_user":
		return format("pass --user <username>")
	case "author":
		return format("pass --author <username>")
	}
	return ""
}

// ForConfigNotFound returns hints for config file not found errors.
// Suggests --config flag and creating a config in the user config directory.
func ForConfigNotFound(searchedPaths []string) string {
	hint := "use --config /path/to/file.yaml"

	// Find a user config path (inside a go-markref directory) to suggest
	for _, p := range searchedPaths {
		if filepath.Base(filepath.Dir(p)) == "go-markref" {
			hint += " or create " + p
			break
		}
	}

	return format(hint)
}

// ForStoreFixture returns a hint for postprocessing without an entity
// store.
func ForStoreFixture() string {
	return format("set store.fixture in the config or pass --store fixtures/store.yaml")
}

// ForReferenceType returns hints for unknown reference type names.
func ForReferenceType(available []string) string {
	if len(available) == 0 {
		return ""
	}
	return format("available: " + strings.Join(available, ", "))
}

// ForStdin returns a hint when no input was given and stdin is a terminal.
func ForStdin() string {
	if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		return format("pass files as arguments or pipe markup on stdin")
	}
	return ""
}

// format creates a single hint string with consistent formatting.
func format(hint string) string {
	if hint == "" {
		return ""
	}
	return "\n  hint: " + hint
}
