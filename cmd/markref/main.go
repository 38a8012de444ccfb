package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"slices"

	"go.uber.org/automaxprocs/maxprocs"
)

// Version is set at build time via ldflags. `go install` builds fall back
// to the module version recorded in the binary.
var Version = "dev"

func main() {
	// maxprocs.Set only fails on an invalid GOMAXPROCS, which the runtime
	// then ignores.
	logf := func(string, ...any) {}
	if slices.Contains(os.Args, "-v") || slices.Contains(os.Args, "--verbose") {
		logf = func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	}
	_, _ = maxprocs.Set(maxprocs.Logger(logf))

	ctx, stop := notifyContext(context.Background())
	code := runMain(ctx, os.Args, DefaultEnv())
	stop()
	os.Exit(code)
}

// runMain runs the CLI and converts the outcome to an exit code. Errors are
// printed to stderr with an actionable hint when one applies.
func runMain(ctx context.Context, args []string, env *Environment) int {
	err := run(ctx, args, env)
	if err != nil {
		fmt.Fprintf(env.Stderr, "error: %v%s\n", err, hintFor(err))
	}
	return exitCodeFor(err)
}

// version reports Version, or the main module version when built without
// ldflags.
func version() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
