package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-markref/internal/entity"
	"github.com/alnah/go-markref/internal/yamlutil"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
	ErrFieldTooLong    = errors.New("field exceeds maximum length")
	ErrInvalidValue    = errors.New("invalid config value")
)

// DefaultName is the config name looked up when none is given.
const DefaultName = "markref"

// Field length limits.
const (
	MaxPathLength     = 255  // project/group path
	MaxURLLength      = 2048 // Browser limit
	MaxTOCTitleLength = 100  // TOC title
	MaxNameLength     = 64   // element, attribute, protocol or CSS property
)

// Default timeouts.
const (
	DefaultFilterTimeout   = 5 * time.Second
	DefaultSanitizeTimeout = 10 * time.Second
	DefaultRedactTimeout   = 10 * time.Second
)

// Config holds the renderer and CLI configuration.
type Config struct {
	Render   RenderConfig   `yaml:"render"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Sanitize SanitizeConfig `yaml:"sanitize"`
	TOC      TOCConfig      `yaml:"toc"`
	Store    StoreConfig    `yaml:"store"`
}

// RenderConfig is the default filter context.
type RenderConfig struct {
	Project           string   `yaml:"project"`           // "group/project"
	Group             string   `yaml:"group"`             // Empty = project namespace
	BaseURL           string   `yaml:"baseURL"`           // Instance root; empty = no link matching
	OnlyPath          bool     `yaml:"onlyPath"`          // Host-relative links
	IgnoreBlockquotes bool     `yaml:"ignoreBlockquotes"` // No references inside quotes
	Types             []string `yaml:"types"`             // Empty = every reference type
	Lazy              bool     `yaml:"lazy"`              // Defer lookups until read
}

// TimeoutsConfig holds per-step deadlines as Go duration strings.
type TimeoutsConfig struct {
	Filter   string `yaml:"filter"`   // Cosmetic filters (default 5s)
	Sanitize string `yaml:"sanitize"` // Sanitizer (default 10s)
	Redact   string `yaml:"redact"`   // Redactor (default 10s)
}

// Durations are parsed TimeoutsConfig values.
type Durations struct {
	Filter   time.Duration
	Sanitize time.Duration
	Redact   time.Duration
}

// SanitizeConfig customizes the allowlist. Protocol keys are
// "element.attribute".
type SanitizeConfig struct {
	AllowElements    []string            `yaml:"allowElements"`
	RemoveElements   []string            `yaml:"removeElements"`
	AllowAttributes  map[string][]string `yaml:"allowAttributes"`
	RemoveAttributes map[string][]string `yaml:"removeAttributes"`
	AllowProtocols   map[string][]string `yaml:"allowProtocols"`
	AllowStyles      []string            `yaml:"allowStyles"`
}

// TOCConfig defines table of contents options.
type TOCConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Title    string `yaml:"title"`    // Empty = no title above TOC
	MinDepth int    `yaml:"minDepth"` // 1-6, default 1
	MaxDepth int    `yaml:"maxDepth"` // 1-6, default 3
}

// StoreConfig points at the entity fixture used by the CLI.
type StoreConfig struct {
	Fixture string `yaml:"fixture"`
}

// Validate checks values and field lengths. Called automatically by
// LoadConfig, but available for consumers who construct Config manually.
func (c *Config) Validate() error {
	if err := c.Render.validate(); err != nil {
		return err
	}
	if _, err := c.Timeouts.Durations(); err != nil {
		return err
	}
	if err := c.Sanitize.validate(); err != nil {
		return err
	}

	if err := validateFieldLength("toc.title", c.TOC.Title, MaxTOCTitleLength); err != nil {
		return err
	}
	for field, depth := range map[string]int{"toc.minDepth": c.TOC.MinDepth, "toc.maxDepth": c.TOC.MaxDepth} {
		if depth != 0 && (depth < 1 || depth > 6) {
			return fmt.Errorf("%w: %s must be between 1 and 6, got %d", ErrInvalidValue, field, depth)
		}
	}
	if c.TOC.MinDepth != 0 && c.TOC.MaxDepth != 0 && c.TOC.MinDepth > c.TOC.MaxDepth {
		return fmt.Errorf("%w: toc.minDepth (%d) exceeds toc.maxDepth (%d)", ErrInvalidValue, c.TOC.MinDepth, c.TOC.MaxDepth)
	}

	return validateFieldLength("store.fixture", c.Store.Fixture, MaxURLLength)
}

func (r *RenderConfig) validate() error {
	if err := validateFieldLength("render.project", r.Project, MaxPathLength); err != nil {
		return err
	}
	if err := validateFieldLength("render.group", r.Group, MaxPathLength); err != nil {
		return err
	}
	if err := validateFieldLength("render.baseURL", r.BaseURL, MaxURLLength); err != nil {
		return err
	}
	if r.Project != "" && !strings.Contains(strings.Trim(r.Project, "/"), "/") {
		return fmt.Errorf("%w: render.project must look like group/project, got %q", ErrInvalidValue, r.Project)
	}
	if r.BaseURL != "" {
		u, err := url.Parse(r.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: render.baseURL must be an absolute http(s) URL, got %q", ErrInvalidValue, r.BaseURL)
		}
	}
	_, err := r.ReferenceTypes()
	return err
}

// ReferenceTypes parses Types. An empty list means every type.
func (r *RenderConfig) ReferenceTypes() ([]entity.Type, error) {
	out := make([]entity.Type, 0, len(r.Types))
	for _, name := range r.Types {
		t, err := entity.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("%w: render.types: %v", ErrInvalidValue, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Durations parses the timeouts, filling in defaults for empty values.
func (t TimeoutsConfig) Durations() (Durations, error) {
	d := Durations{
		Filter:   DefaultFilterTimeout,
		Sanitize: DefaultSanitizeTimeout,
		Redact:   DefaultRedactTimeout,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeouts.filter", t.Filter, &d.Filter},
		{"timeouts.sanitize", t.Sanitize, &d.Sanitize},
		{"timeouts.redact", t.Redact, &d.Redact},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return Durations{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.name, err)
		}
		if v <= 0 {
			return Durations{}, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidValue, f.name, f.raw)
		}
		*f.dst = v
	}
	return d, nil
}

func (s *SanitizeConfig) validate() error {
	names := func(field string, values []string) error {
		for i, v := range values {
			if v == "" {
				return fmt.Errorf("%w: %s[%d] is empty", ErrInvalidValue, field, i)
			}
			if err := validateFieldLength(fmt.Sprintf("%s[%d]", field, i), v, MaxNameLength); err != nil {
				return err
			}
		}
		return nil
	}
	if err := names("sanitize.allowElements", s.AllowElements); err != nil {
		return err
	}
	if err := names("sanitize.removeElements", s.RemoveElements); err != nil {
		return err
	}
	if err := names("sanitize.allowStyles", s.AllowStyles); err != nil {
		return err
	}
	for _, m := range []struct {
		field  string
		values map[string][]string
	}{
		{"sanitize.allowAttributes", s.AllowAttributes},
		{"sanitize.removeAttributes", s.RemoveAttributes},
	} {
		for el, attrs := range m.values {
			if err := names(m.field+"."+el, attrs); err != nil {
				return err
			}
		}
	}
	for key, protocols := range s.AllowProtocols {
		if _, _, ok := SplitProtocolKey(key); !ok {
			return fmt.Errorf("%w: sanitize.allowProtocols key %q must be element.attribute", ErrInvalidValue, key)
		}
		if err := names("sanitize.allowProtocols."+key, protocols); err != nil {
			return err
		}
	}
	return nil
}

// SplitProtocolKey splits an "element.attribute" key.
func SplitProtocolKey(key string) (element, attr string, ok bool) {
	element, attr, ok = strings.Cut(key, ".")
	if !ok || element == "" || attr == "" || strings.Contains(attr, ".") {
		return "", "", false
	}
	return element, attr, true
}

// validateFieldLength checks if a field exceeds its maximum allowed length.
func validateFieldLength(fieldName, value string, maxLength int) error {
	if len(value) > maxLength {
		return fmt.Errorf("%w: %s (%d chars, max %d)", ErrFieldTooLong, fieldName, len(value), maxLength)
	}
	return nil
}

// DefaultConfig returns a configuration with default timeouts and every
// optional feature disabled.
func DefaultConfig() *Config {
	return &Config{
		Timeouts: TimeoutsConfig{
			Filter:   DefaultFilterTimeout.String(),
			Sanitize: DefaultSanitizeTimeout.String(),
			Redact:   DefaultRedactTimeout.String(),
		},
		TOC: TOCConfig{Enabled: false},
	}
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Returns error if the file is not found (no silent fallback).
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	var configPath string
	var err error

	if isFilePath(nameOrPath) {
		configPath = nameOrPath
	} else {
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- config path is user-provided
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yamlutil.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// isFilePath returns true if the string looks like a file path.
func isFilePath(s string) bool {
	return strings.ContainsAny(s, "/\\")
}

// SearchPaths lists where a config name is looked up, in order: the
// current directory, then $XDG_CONFIG_HOME/go-markref/, each with .yaml
// and .yml.
func SearchPaths(name string) []string {
	extensions := []string{".yaml", ".yml"}
	paths := make([]string, 0, len(extensions)*2) // 2 locations
	for _, ext := range extensions {
		paths = append(paths, name+ext)
	}
	if userConfigDir, err := os.UserConfigDir(); err == nil {
		for _, ext := range extensions {
			paths = append(paths, filepath.Join(userConfigDir, "go-markref", name+ext))
		}
	}
	return paths
}

// resolveConfigPath returns the first existing SearchPaths entry.
func resolveConfigPath(name string) (string, error) {
	paths := SearchPaths(name)
	for _, p := range paths {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(paths, ", "))
}

// fileExists returns true if the path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
