package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage message.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: markref <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  render       Render markup to sanitized HTML with reference markers")
	fmt.Fprintln(w, "  postprocess  Resolve the reference markers of rendered HTML for a viewer")
	fmt.Fprintln(w, "  check        List the references a viewer can see")
	fmt.Fprintln(w, "  config       Print the effective configuration")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w, "  help         Show help for a command")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'markref help <command>' for details on a specific command.")
}

// printCommandUsage prints usage for render, postprocess or check.
func printCommandUsage(w io.Writer, name string) {
	switch name {
	case cmdRender:
		fmt.Fprintln(w, "Usage: markref render [input...] [flags]")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Render markup to sanitized HTML. References stay provisional markers")
		fmt.Fprintln(w, "unless --postprocess is given; the output is safe to cache.")
	case cmdPostprocess:
		fmt.Fprintln(w, "Usage: markref postprocess [input...] [flags]")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Resolve the markers of rendered HTML for --user. References the viewer")
		fmt.Fprintln(w, "cannot see, or that do not exist, become plain text.")
	case cmdCheck:
		fmt.Fprintln(w, "Usage: markref check [input...] [flags]")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Render markup and list the references --user can see, one per line:")
		fmt.Fprintln(w, "text, type, title and URL separated by tabs.")
	case cmdConfig:
		fmt.Fprintln(w, "Usage: markref config [flags]")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Print the configuration the other commands would use: defaults, then")
		fmt.Fprintln(w, "the config file, MARKREF_* variables and flags. Input/output flags")
		fmt.Fprintln(w, "are accepted and ignored.")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Arguments:")
	fmt.Fprintln(w, "  input    Files or directories (default: stdin)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Input/Output:")
	fmt.Fprintln(w, "  -o, --output <dir>         Output directory (default: stdout)")
	fmt.Fprintln(w, "  -c, --config <name>        Config file name or path")
	fmt.Fprintln(w, "  -w, --workers <n>          Parallel workers (0 = auto)")
	if name == cmdRender {
		fmt.Fprintln(w, "  -P, --postprocess          Also resolve references for --user")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Context:")
	fmt.Fprintln(w, "  -p, --project <path>       Project local references resolve in (group/project)")
	fmt.Fprintln(w, "      --group <path>         Group epics resolve in")
	fmt.Fprintln(w, "      --base-url <url>       Instance root URL")
	fmt.Fprintln(w, "  -u, --user <name>          Viewer username (empty = anonymous)")
	fmt.Fprintln(w, "      --author <name>        Author username")
	fmt.Fprintln(w, "      --only-path            Emit host-relative links")
	fmt.Fprintln(w, "      --ignore-blockquotes   Leave references inside blockquotes alone")
	fmt.Fprintln(w, "      --only <type>          Resolve a single reference type")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Pipeline:")
	fmt.Fprintln(w, "  -s, --store <path>         Entity store fixture (YAML)")
	fmt.Fprintln(w, "      --redact-timeout <d>   Redaction deadline (e.g., 10s)")
	fmt.Fprintln(w, "      --toc                  Anchor headings and build a table of contents")
	fmt.Fprintln(w, "      --lazy                 Look entities up only when checked")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output Control:")
	fmt.Fprintln(w, "  -q, --quiet                Only show errors")
	fmt.Fprintln(w, "  -v, --verbose              Show debug logs and step timing")
}

// runHelp prints help for a specific command.
func runHelp(args []string, env *Environment) error {
	if len(args) == 0 {
		printUsage(env.Stdout)
		return nil
	}

	switch args[0] {
	case cmdRender, cmdPostprocess, cmdCheck, cmdConfig:
		printCommandUsage(env.Stdout, args[0])
	case cmdVersion:
		fmt.Fprintln(env.Stdout, "Usage: markref version")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show version information.")
	case cmdHelp:
		fmt.Fprintln(env.Stdout, "Usage: markref help [command]")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show help for a command.")
	default:
		printUsage(env.Stderr)
		return fmt.Errorf("%w: %q", ErrUnknownCommand, args[0])
	}
	return nil
}
