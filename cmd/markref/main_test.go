package main

// Notes:
// - runMain: we test exit codes, hints and output end to end with an
//   injected Environment. Inputs come from strings or temp files; the
//   entity store is a YAML fixture written to a temp dir.
// - Default config lookup reads markref.yaml from the working directory;
//   the package directory has none, so tests without --config use defaults.
// These are acceptable gaps: we test observable behavior, not implementation details.

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testBaseURL = "https://git.example.com"

const fixtureYAML = `
users:
  - {username: alice, name: Alice}
  - {username: bob, name: Bob}
groups:
  - {path: acme, public: true}
projects:
  - {path: acme/web, public: true}
  - {path: acme/secret, public: false, members: [alice]}
entities:
  - {type: issue, scope: acme/web, key: "1", title: Crash}
  - {type: issue, scope: acme/web, key: "2", title: Leak, confidential: true, readers: [alice]}
  - {type: issue, scope: acme/secret, key: "7", title: Hidden}
`

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type testIO struct {
	env    *Environment
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestIO(stdin string, vars map[string]string) *testIO {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	return &testIO{
		env: &Environment{
			Stdin:  strings.NewReader(stdin),
			Stdout: stdout,
			Stderr: stderr,
			Getenv: func(k string) string { return vars[k] },
			Environ: func() []string {
				out := make([]string, 0, len(vars))
				for k, v := range vars {
					out = append(out, k+"="+v)
				}
				return out
			},
		},
		stdout: stdout,
		stderr: stderr,
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func fixturePath(t *testing.T) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "store.yaml", fixtureYAML)
}

// cli runs the binary's entry point with args after the program name.
func cli(t *testing.T, tio *testIO, args ...string) int {
	t.Helper()
	return runMain(context.Background(), append([]string{"markref"}, args...), tio.env)
}

// ---------------------------------------------------------------------------
// TestRunMain_ExitCodes - Dispatch and validation failures
// ---------------------------------------------------------------------------

func TestRunMain_ExitCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		stdin      string
		want       int
		wantStderr string
	}{
		{"no command", nil, "", ExitUsage, "Usage: markref"},
		{"unknown command", []string{"convert"}, "", ExitUsage, "unknown command"},
		{"help", []string{"help"}, "", ExitSuccess, ""},
		{"help render", []string{"help", "render"}, "", ExitSuccess, ""},
		{"help unknown", []string{"help", "nope"}, "", ExitUsage, "unknown command"},
		{"command help flag", []string{"render", "--help"}, "", ExitSuccess, "--redact-timeout"},
		{"bad flag", []string{"render", "--nope"}, "x", ExitUsage, "invalid flags"},
		{"negative workers", []string{"render", "-w", "-1"}, "x", ExitUsage, "invalid worker count"},
		{"bad redact timeout", []string{"render", "--redact-timeout", "soon"}, "x", ExitUsage, "invalid timeout"},
		{"bad reference type", []string{"render", "-p", "acme/web", "--only", "ticket"}, "x", ExitUsage, "hint: available: user, issue"},
		{"bad project", []string{"render", "-p", "web"}, "x", ExitUsage, "render.project"},
		{"bad base url", []string{"render", "--base-url", "ftp://x"}, "x", ExitUsage, "render.baseURL"},
		{"missing project", []string{"render"}, "See #1", ExitUsage, "hint: pass --project"},
		{"postprocess without store", []string{"postprocess", "-p", "acme/web"}, "<p>x</p>", ExitUsage, "hint: set store.fixture"},
		{"check without store", []string{"check", "-p", "acme/web"}, "x", ExitUsage, "entity store"},
		{"missing input file", []string{"render", "-p", "acme/web", "does-not-exist.md"}, "", ExitIO, "failed to read input"},
		{"empty stdin", []string{"render", "-p", "acme/web"}, "", ExitIO, "no input"},
		{"missing config", []string{"render", "-c", "./nowhere/markref.yaml"}, "x", ExitUsage, "hint: use --config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tio := newTestIO(tt.stdin, nil)
			if got := cli(t, tio, tt.args...); got != tt.want {
				t.Errorf("exit code = %d, want %d\nstderr:\n%s", got, tt.want, tio.stderr)
			}
			if tt.wantStderr != "" && !strings.Contains(tio.stderr.String(), tt.wantStderr) {
				t.Errorf("stderr should contain %q, got:\n%s", tt.wantStderr, tio.stderr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestRunMain_Version - Version output
// ---------------------------------------------------------------------------

func TestRunMain_Version(t *testing.T) {
	t.Parallel()

	tio := newTestIO("", nil)
	if code := cli(t, tio, "version"); code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if got, want := tio.stdout.String(), "markref "+version()+"\n"; got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// TestRun_Render - Cacheable first pass
// ---------------------------------------------------------------------------

func TestRun_Render(t *testing.T) {
	t.Parallel()

	tio := newTestIO("See #1 and **bold**.", nil)
	code := cli(t, tio, "render", "-q", "-p", "acme/web", "--base-url", testBaseURL)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}

	out := tio.stdout.String()
	for _, want := range []string{`data-reference-state="provisional"`, "<strong>bold</strong>"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout should contain %q, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "href=") {
		t.Errorf("render output must not carry links before postprocessing:\n%s", out)
	}
	if tio.stderr.Len() != 0 {
		t.Errorf("--quiet should silence logs, got:\n%s", tio.stderr)
	}
}

// ---------------------------------------------------------------------------
// TestRun_RenderThenPostprocess - Two passes through stdin
// ---------------------------------------------------------------------------

func TestRun_RenderThenPostprocess(t *testing.T) {
	t.Parallel()

	store := fixturePath(t)
	first := newTestIO("#1, #2 and acme/secret#7", nil)
	if code := cli(t, first, "render", "-q", "-p", "acme/web", "--base-url", testBaseURL); code != ExitSuccess {
		t.Fatalf("render exit code = %d\nstderr:\n%s", code, first.stderr)
	}
	rendered := first.stdout.String()

	tests := []struct {
		name      string
		user      string
		wantLinks []string
		wantText  []string
	}{
		{
			name:      "anonymous",
			wantLinks: []string{"/acme/web/-/issues/1"},
			wantText:  []string{"#2", "acme/secret#7"},
		},
		{
			name:      "member",
			user:      "alice",
			wantLinks: []string{"/acme/web/-/issues/1", "/acme/web/-/issues/2", "/acme/secret/-/issues/7"},
		},
		{
			name:      "outsider",
			user:      "bob",
			wantLinks: []string{"/acme/web/-/issues/1"},
			wantText:  []string{"#2", "acme/secret#7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			args := []string{"postprocess", "-q", "-p", "acme/web", "--base-url", testBaseURL, "-s", store}
			if tt.user != "" {
				args = append(args, "-u", tt.user)
			}
			tio := newTestIO(rendered, nil)
			if code := cli(t, tio, args...); code != ExitSuccess {
				t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
			}

			out := tio.stdout.String()
			for _, want := range tt.wantLinks {
				if !strings.Contains(out, `href="`+testBaseURL+want+`"`) {
					t.Errorf("expected link to %s:\n%s", want, out)
				}
			}
			for _, text := range tt.wantText {
				if strings.Contains(out, ">"+text+"</a>") {
					t.Errorf("%s must not be linked:\n%s", text, out)
				}
			}
			if strings.Contains(out, "data-reference-state=\"provisional\"") {
				t.Errorf("postprocessed output still has provisional markers:\n%s", out)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestRun_RenderWithPostprocessFlag - Both passes in one command
// ---------------------------------------------------------------------------

func TestRun_RenderWithPostprocessFlag(t *testing.T) {
	t.Parallel()

	tio := newTestIO("Closes #2", nil)
	code := cli(t, tio, "render", "-q", "-P", "-u", "alice", "-p", "acme/web",
		"--base-url", testBaseURL, "--only-path", "-s", fixturePath(t))
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}
	if !strings.Contains(tio.stdout.String(), `href="/acme/web/-/issues/2"`) {
		t.Errorf("expected a host-relative link:\n%s", tio.stdout)
	}
}

// ---------------------------------------------------------------------------
// TestRun_Check - Visible references listing
// ---------------------------------------------------------------------------

func TestRun_Check(t *testing.T) {
	t.Parallel()

	tio := newTestIO("#1, #2, #99 and `#1`", nil)
	code := cli(t, tio, "check", "-q", "-p", "acme/web", "--base-url", testBaseURL, "-s", fixturePath(t))
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}

	want := "#1\tissue\tCrash\t" + testBaseURL + "/acme/web/-/issues/1\n"
	if got := tio.stdout.String(); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// TestRun_Files - File inputs, output directory and stdout headers
// ---------------------------------------------------------------------------

func TestRun_OutputDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# A\n\nSee #1")
	writeFile(t, dir, "b.markdown", "# B")
	writeFile(t, dir, "notes.txt", "ignored")
	out := filepath.Join(t.TempDir(), "out")

	tio := newTestIO("", nil)
	code := cli(t, tio, "render", "-p", "acme/web", "-w", "2", "-o", out, dir)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}
	if tio.stdout.Len() != 0 {
		t.Errorf("stdout should be empty with --output, got:\n%s", tio.stdout)
	}

	for _, name := range []string{"a.html", "b.html"} {
		data, err := os.ReadFile(filepath.Join(out, name))
		if err != nil {
			t.Errorf("expected %s: %v", name, err)
			continue
		}
		if !strings.Contains(string(data), "<h1") {
			t.Errorf("%s should contain the rendered heading:\n%s", name, data)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "notes.html")); !os.IsNotExist(err) {
		t.Errorf("non-markup files must be skipped, stat err = %v", err)
	}
	if !strings.Contains(tio.stderr.String(), "batch complete") {
		t.Errorf("expected a batch summary log, got:\n%s", tio.stderr)
	}
}

func TestRun_MultipleInputsOnStdout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeFile(t, dir, "a.md", "first")
	b := writeFile(t, dir, "b.md", "second")

	tio := newTestIO("", nil)
	if code := cli(t, tio, "render", "-q", "-p", "acme/web", b, a); code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}

	out := tio.stdout.String()
	ib, ia := strings.Index(out, "==> "+b+" <=="), strings.Index(out, "==> "+a+" <==")
	if ib < 0 || ia < 0 || ib > ia {
		t.Errorf("expected headers in argument order:\n%s", out)
	}
	if !strings.Contains(out, "<p>second</p>") || !strings.Contains(out, "<p>first</p>") {
		t.Errorf("expected both documents:\n%s", out)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := writeFile(t, dir, "good.md", "fine")
	empty := writeFile(t, dir, "empty.md", "")

	tio := newTestIO("", nil)
	code := cli(t, tio, "render", "-p", "acme/web", good, empty)
	if code != ExitUsage {
		t.Errorf("exit code = %d, want %d (empty input)", code, ExitUsage)
	}
	if !strings.Contains(tio.stdout.String(), "<p>fine</p>") {
		t.Errorf("the good input should still be written:\n%s", tio.stdout)
	}
	if !strings.Contains(tio.stderr.String(), "1 of 2 inputs failed") {
		t.Errorf("expected failure count, got:\n%s", tio.stderr)
	}
}

// ---------------------------------------------------------------------------
// TestRun_Configuration - Config file, env vars and flag precedence
// ---------------------------------------------------------------------------

func TestRun_ConfigFile(t *testing.T) {
	t.Parallel()

	store := fixturePath(t)
	cfg := writeFile(t, t.TempDir(), "markref.yaml", `
render:
  project: acme/web
  baseURL: `+testBaseURL+`
  onlyPath: true
store:
  fixture: `+store+`
toc:
  enabled: true
  title: Contents
`)

	tio := newTestIO("[[_TOC_]]\n\n# Intro\n\nSee #1", nil)
	if code := cli(t, tio, "render", "-q", "-P", "-c", cfg); code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}
	out := tio.stdout.String()
	for _, want := range []string{`href="/acme/web/-/issues/1"`, `<nav class="toc">`, "Contents"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout should contain %q:\n%s", want, out)
		}
	}
}

func TestRun_EnvConfig(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		"MARKREF_PROJECT":  "acme/web",
		"MARKREF_BASE_URL": testBaseURL,
		"MARKREF_STORE":    fixturePath(t),
		"MARKREF_USER":     "alice",
		"MARKREF_PROJCT":   "typo",
	}
	tio := newTestIO("#2", vars)
	if code := cli(t, tio, "check"); code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}
	if !strings.HasPrefix(tio.stdout.String(), "#2\tissue\tLeak\t") {
		t.Errorf("MARKREF_USER should see the confidential issue, got %q", tio.stdout)
	}
	if !strings.Contains(tio.stderr.String(), "MARKREF_PROJCT") {
		t.Errorf("expected a warning about MARKREF_PROJCT, got:\n%s", tio.stderr)
	}
}

func TestRun_FlagsOverrideEnv(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		"MARKREF_PROJECT":  "acme/secret",
		"MARKREF_BASE_URL": testBaseURL,
		"MARKREF_STORE":    fixturePath(t),
		"MARKREF_USER":     "alice",
	}
	tio := newTestIO("#1", vars)
	if code := cli(t, tio, "check", "-q", "-p", "acme/web", "-u", "bob"); code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}
	if !strings.HasPrefix(tio.stdout.String(), "#1\tissue\tCrash\t") {
		t.Errorf("--project should win over MARKREF_PROJECT, got %q", tio.stdout)
	}
}

func TestRun_PrintConfig(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, t.TempDir(), "markref.yaml", "toc:\n  title: Contents\n")
	tio := newTestIO("", map[string]string{"MARKREF_PROJECT": "acme/web"})
	if code := cli(t, tio, "config", "-q", "-c", cfg, "--toc"); code != ExitSuccess {
		t.Fatalf("exit code = %d\nstderr:\n%s", code, tio.stderr)
	}
	out := tio.stdout.String()
	for _, want := range []string{"project: acme/web", "title: Contents", "enabled: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("effective config should contain %q:\n%s", want, out)
		}
	}
}
