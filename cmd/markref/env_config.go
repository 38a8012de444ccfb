package main

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/alnah/go-markref/internal/config"
)

// envConfig holds configuration from environment variables.
// Provides CI/CD-friendly overrides without requiring YAML files.
type envConfig struct {
	ConfigPath    string // MARKREF_CONFIG: config file name or path
	Project       string // MARKREF_PROJECT: group/project
	BaseURL       string // MARKREF_BASE_URL: instance root
	User          string // MARKREF_USER: viewer username
	Store         string // MARKREF_STORE: entity fixture path
	RedactTimeout string // MARKREF_REDACT_TIMEOUT: redaction deadline
	Workers       int    // MARKREF_WORKERS: parallel workers
}

// knownEnvVars lists valid MARKREF_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	"MARKREF_CONFIG":         true,
	"MARKREF_PROJECT":        true,
	"MARKREF_BASE_URL":       true,
	"MARKREF_USER":           true,
	"MARKREF_STORE":          true,
	"MARKREF_REDACT_TIMEOUT": true,
	"MARKREF_WORKERS":        true,
}

// loadEnvConfig reads every recognized MARKREF_* value.
func loadEnvConfig(getenv func(string) string) *envConfig {
	cfg := &envConfig{
		ConfigPath:    getenv("MARKREF_CONFIG"),
		Project:       getenv("MARKREF_PROJECT"),
		BaseURL:       getenv("MARKREF_BASE_URL"),
		User:          getenv("MARKREF_USER"),
		Store:         getenv("MARKREF_STORE"),
		RedactTimeout: getenv("MARKREF_REDACT_TIMEOUT"),
	}

	// Invalid worker counts are ignored, like unset ones
	if workers := getenv("MARKREF_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			cfg.Workers = w
		}
	}
	return cfg
}

// warnUnknownEnvVars logs warnings for unrecognized MARKREF_* variables.
// Helps catch typos like MARKREF_PROJCT.
func warnUnknownEnvVars(environ []string, logger logrus.FieldLogger) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "MARKREF_") {
			continue
		}
		name, _, _ := strings.Cut(kv, "=")
		if !knownEnvVars[name] {
			logger.WithField("name", name).Warn("unknown environment variable (typo?)")
		}
	}
}

// applyEnvConfig applies environment values the config file left empty.
// Precedence: CLI flags > env vars > config file > defaults (flags are
// applied afterwards by mergeFlags).
func applyEnvConfig(env *envConfig, cfg *config.Config) {
	if env.Project != "" && cfg.Render.Project == "" {
		cfg.Render.Project = env.Project
	}
	if env.BaseURL != "" && cfg.Render.BaseURL == "" {
		cfg.Render.BaseURL = env.BaseURL
	}
	if env.Store != "" && cfg.Store.Fixture == "" {
		cfg.Store.Fixture = env.Store
	}
	// Timeouts are never empty after DefaultConfig
	if env.RedactTimeout != "" {
		cfg.Timeouts.Redact = env.RedactTimeout
	}
}
