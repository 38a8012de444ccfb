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
	flag "github.com/spf13/pflag"

	markref "github.com/alnah/go-markref"
	"github.com/alnah/go-markref/internal/config"
	"github.com/alnah/go-markref/internal/store"
	"github.com/alnah/go-markref/internal/yamlutil"
)

// Command names.
const (
	cmdRender      = "render"
	cmdPostprocess = "postprocess"
	cmdCheck       = "check"
	cmdConfig      = "config"
	cmdVersion     = "version"
	cmdHelp        = "help"
)

// Sentinel errors for CLI operations.
var (
	ErrUnknownCommand     = errors.New("unknown command")
	ErrInvalidFlags       = errors.New("invalid flags")
	ErrNoInput            = errors.New("no input specified")
	ErrReadInput          = errors.New("failed to read input")
	ErrWriteOutput        = errors.New("failed to write output")
	ErrInvalidWorkerCount = errors.New("invalid worker count")
	ErrInvalidTimeout     = errors.New("invalid timeout")
)

// run dispatches args (including the program name) to a command.
func run(ctx context.Context, args []string, env *Environment) error {
	if len(args) < 2 {
		printUsage(env.Stderr)
		return fmt.Errorf("%w: none given", ErrUnknownCommand)
	}

	switch name := args[1]; name {
	case cmdRender, cmdPostprocess, cmdCheck:
		return runCommand(ctx, name, args[2:], env)
	case cmdConfig:
		return runConfig(args[2:], env)
	case cmdVersion, "--version":
		fmt.Fprintf(env.Stdout, "markref %s\n", version())
		return nil
	case cmdHelp, "-h", "--help":
		return runHelp(args[2:], env)
	default:
		printUsage(env.Stderr)
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// runCommand loads configuration, builds the renderer pool and processes
// every input of render, postprocess or check.
func runCommand(ctx context.Context, name string, args []string, env *Environment) error {
	flags, positional, err := parseCommandFlags(name, args, env.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlags, err)
	}
	if err := validateFlags(flags); err != nil {
		return err
	}

	logger := newLogger(env.Stderr, flags.common)
	cfg, envCfg, err := effectiveConfig(flags, env, logger)
	if err != nil {
		return err
	}

	opts, err := rendererOptions(cfg, logger, flags.common.verbose)
	if err != nil {
		return err
	}
	if needsStore(name, flags) {
		if cfg.Store.Fixture == "" {
			return fmt.Errorf("%w: no entity store fixture configured", markref.ErrMissingCollaborator)
		}
		m, err := store.Load(cfg.Store.Fixture)
		if err != nil {
			return err
		}
		opts = append(opts, markref.WithStore(m), markref.WithOracle(m))
	}
	rc, err := renderContext(cfg, flags.context, envCfg)
	if err != nil {
		return err
	}

	inputs, err := collectInputs(positional, name, env.Stdin)
	if err != nil {
		return err
	}

	workers := flags.workers
	if workers == 0 {
		workers = envCfg.Workers
	}
	pool := markref.NewRendererPool(markref.ResolvePoolSize(workers), opts...)
	defer pool.Close()
	logger.WithField("workers", pool.Size()).Debug("renderer pool ready")

	results := processBatch(ctx, pool, inputs, jobFor(name, flags, rc))
	return writeResults(results, outputSink{dir: flags.output, ext: outputExt(name), env: env}, logger)
}

// validateFlags checks flag values the config layer does not see.
func validateFlags(f *commandFlags) error {
	if f.workers < 0 {
		return fmt.Errorf("%w: %d (must be 0 for auto or positive)", ErrInvalidWorkerCount, f.workers)
	}
	if f.pipeline.redactTimeout != "" {
		d, err := time.ParseDuration(f.pipeline.redactTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: --redact-timeout %q", ErrInvalidTimeout, f.pipeline.redactTimeout)
		}
	}
	return nil
}

// effectiveConfig layers defaults, the config file, MARKREF_* variables and
// flags, in increasing precedence, and validates the result.
func effectiveConfig(flags *commandFlags, env *Environment, logger logrus.FieldLogger) (*config.Config, *envConfig, error) {
	warnUnknownEnvVars(env.Environ(), logger)
	envCfg := loadEnvConfig(env.Getenv)

	cfg, err := loadConfig(flags.common.config, envCfg.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	applyEnvConfig(envCfg, cfg)
	mergeFlags(flags, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, envCfg, nil
}

// runConfig prints the effective configuration as YAML.
func runConfig(args []string, env *Environment) error {
	flags, _, err := parseCommandFlags(cmdConfig, args, env.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlags, err)
	}
	if err := validateFlags(flags); err != nil {
		return err
	}

	cfg, _, err := effectiveConfig(flags, env, newLogger(env.Stderr, flags.common))
	if err != nil {
		return err
	}
	data, err := yamlutil.Marshal(cfg)
	if err != nil {
		return err
	}
	if _, err := env.Stdout.Write(data); err != nil {
		return errors.Join(ErrWriteOutput, err)
	}
	return nil
}

// loadConfig loads an explicitly named config, or the default name when
// it exists. Falls back to defaults only when nothing was asked for.
func loadConfig(flagName, envName string) (*config.Config, error) {
	name := flagName
	if name == "" {
		name = envName
	}
	if name != "" {
		return config.LoadConfig(name)
	}
	cfg, err := config.LoadConfig(config.DefaultName)
	if errors.Is(err, config.ErrConfigNotFound) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

// mergeFlags copies explicitly set flags into cfg (CLI wins).
func mergeFlags(f *commandFlags, cfg *config.Config) {
	if f.context.project != "" {
		cfg.Render.Project = f.context.project
	}
	if f.context.group != "" {
		cfg.Render.Group = f.context.group
	}
	if f.context.baseURL != "" {
		cfg.Render.BaseURL = f.context.baseURL
	}
	if f.context.onlyPath {
		cfg.Render.OnlyPath = true
	}
	if f.context.ignoreBlockquotes {
		cfg.Render.IgnoreBlockquotes = true
	}
	if f.pipeline.store != "" {
		cfg.Store.Fixture = f.pipeline.store
	}
	if f.pipeline.redactTimeout != "" {
		cfg.Timeouts.Redact = f.pipeline.redactTimeout
	}
	if f.pipeline.toc {
		cfg.TOC.Enabled = true
	}
	if f.pipeline.lazy {
		cfg.Render.Lazy = true
	}
}

func needsStore(name string, f *commandFlags) bool {
	return name != cmdRender || f.postprocess
}

// input is one document to process. Stdin is read up front; files are read
// by the worker that processes them.
type input struct {
	Path  string
	stdin []byte
}

// stdinPath names standard input in logs and results.
const stdinPath = "-"

// collectInputs expands positional args into inputs. Directories are
// searched recursively for files the command accepts. No args means stdin.
func collectInputs(args []string, name string, stdin io.Reader) ([]input, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == stdinPath) {
		if f, ok := stdin.(*os.File); ok {
			if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
				return nil, ErrNoInput
			}
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("%w: stdin: %v", ErrReadInput, err)
		}
		if len(data) == 0 {
			return nil, ErrNoInput
		}
		return []input{{Path: stdinPath, stdin: data}}, nil
	}

	exts := inputExts(name)
	var inputs []input
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadInput, err)
		}
		if !info.IsDir() {
			inputs = append(inputs, input{Path: arg})
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && exts[strings.ToLower(filepath.Ext(path))] {
				inputs = append(inputs, input{Path: path})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadInput, err)
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no matching files in %s", ErrNoInput, strings.Join(args, ", "))
	}
	return inputs, nil
}

func inputExts(name string) map[string]bool {
	if name == cmdPostprocess {
		return map[string]bool{".html": true, ".htm": true}
	}
	return map[string]bool{".md": true, ".markdown": true}
}

func outputExt(name string) string {
	if name == cmdCheck {
		return ".refs.txt"
	}
	return ".html"
}

func (in input) read() (string, error) {
	if in.stdin != nil {
		return string(in.stdin), nil
	}
	data, err := os.ReadFile(in.Path) // #nosec G304 -- user-provided path
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReadInput, err)
	}
	return string(data), nil
}
