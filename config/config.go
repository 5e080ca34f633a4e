// Package config loads nighthawk settings from YAML or TOML files, an
// optional .env file and NIGHTHAWK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/render"
)

const (
	projectConfigName = "nighthawk.yaml"
	projectTOMLName   = "nighthawk.toml"
	homeConfigName    = "config.yaml"
)

// Environment variables that override file settings.
const (
	EnvModel    = "NIGHTHAWK_MODEL"
	EnvProvider = "NIGHTHAWK_PROVIDER"
	EnvAPIKey   = "NIGHTHAWK_API_KEY"
	EnvTraceDSN = "NIGHTHAWK_TRACE_DSN"
)

// Config is the complete nighthawk configuration.
type Config struct {
	Model             string `yaml:"model" toml:"model"`
	Provider          string `yaml:"provider" toml:"provider"`
	APIKeyEnv         string `yaml:"api_key_env" toml:"api_key_env"`
	TokenizerEncoding string `yaml:"tokenizer_encoding" toml:"tokenizer_encoding"`

	Limits    LimitsConfig    `yaml:"limits" toml:"limits"`
	Redaction RedactionConfig `yaml:"redaction" toml:"redaction"`
	Executor  ExecutorConfig  `yaml:"executor" toml:"executor"`
	Trace     TraceConfig     `yaml:"trace" toml:"trace"`
	OTel      OTelConfig      `yaml:"otel" toml:"otel"`

	// APIKey is resolved from NIGHTHAWK_API_KEY or APIKeyEnv. It is never
	// read from the file.
	APIKey string `yaml:"-" toml:"-"`
	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-" toml:"-"`
}

// LimitsConfig mirrors core.Limits. Zero fields take the defaults.
type LimitsConfig struct {
	ValueMaxTokens      int `yaml:"value_max_tokens" toml:"value_max_tokens"`
	MaxItems            int `yaml:"max_items" toml:"max_items"`
	LocalsMaxTokens     int `yaml:"locals_max_tokens" toml:"locals_max_tokens"`
	GlobalsMaxTokens    int `yaml:"globals_max_tokens" toml:"globals_max_tokens"`
	MemoryMaxTokens     int `yaml:"memory_max_tokens" toml:"memory_max_tokens"`
	ToolResultMaxTokens int `yaml:"tool_result_max_tokens" toml:"tool_result_max_tokens"`
}

// RedactionConfig configures masking of rendered locals.
type RedactionConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	Allowlist      []string `yaml:"allowlist" toml:"allowlist"`
	MaskSubstrings []string `yaml:"mask_substrings" toml:"mask_substrings"`
	Marker         string   `yaml:"marker" toml:"marker"`
}

// ExecutorConfig configures the model-backed executor.
type ExecutorConfig struct {
	MaxTurns    int      `yaml:"max_turns" toml:"max_turns"`
	Temperature *float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens" toml:"max_tokens"`
}

// TraceConfig configures the persistent event store.
type TraceConfig struct {
	// DSN is the SQLite database path. Empty disables persistence.
	DSN string `yaml:"dsn" toml:"dsn"`
	// Retention is a Go duration; events older than it are pruned.
	Retention     string `yaml:"retention" toml:"retention"`
	PruneSchedule string `yaml:"prune_schedule" toml:"prune_schedule"`
	NATSURL       string `yaml:"nats_url" toml:"nats_url"`
	NATSSubject   string `yaml:"nats_subject" toml:"nats_subject"`
}

// OTelConfig configures OpenTelemetry export.
type OTelConfig struct {
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: "openai",
		Trace: TraceConfig{
			Retention:     "168h",
			PruneSchedule: "@hourly",
			NATSSubject:   "nighthawk.events",
		},
		OTel: OTelConfig{ServiceName: "nighthawk"},
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides and validates the result. An empty path skips the file. A .env
// file in the working directory, and one next to the config file, are
// loaded first; they never replace variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	if clean := strings.TrimSpace(path); clean != "" {
		envFile := filepath.Join(filepath.Dir(clean), ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
		if err := decodeFile(clean, cfg); err != nil {
			return nil, err
		}
		cfg.Path = clean
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("config %q: unsupported format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider = v
	}
	if v := os.Getenv(EnvTraceDSN); v != "" {
		c.Trace.DSN = v
	}
	c.Trace.DSN = os.ExpandEnv(c.Trace.DSN)
	c.OTel.Endpoint = os.ExpandEnv(c.OTel.Endpoint)

	c.APIKey = os.Getenv(EnvAPIKey)
	if c.APIKey == "" {
		c.APIKey = os.Getenv(c.APIKeyEnvName())
	}
}

// APIKeyEnvName returns the variable holding the provider API key,
// defaulting to <PROVIDER>_API_KEY.
func (c *Config) APIKeyEnvName() string {
	if c.APIKeyEnv != "" {
		return c.APIKeyEnv
	}
	return strings.ToUpper(strings.ReplaceAll(c.Provider, "-", "_")) + "_API_KEY"
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	l := c.Limits
	for name, v := range map[string]int{
		"limits.value_max_tokens":       l.ValueMaxTokens,
		"limits.max_items":              l.MaxItems,
		"limits.locals_max_tokens":      l.LocalsMaxTokens,
		"limits.globals_max_tokens":     l.GlobalsMaxTokens,
		"limits.memory_max_tokens":      l.MemoryMaxTokens,
		"limits.tool_result_max_tokens": l.ToolResultMaxTokens,
		"executor.max_turns":            c.Executor.MaxTurns,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	if t := c.Executor.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("executor.temperature must be within [0, 2], got %g", *t))
	}
	if m := c.Executor.MaxTokens; m != nil && *m <= 0 {
		errs = append(errs, fmt.Errorf("executor.max_tokens must be positive, got %d", *m))
	}
	if c.Trace.Retention != "" {
		if d, err := time.ParseDuration(c.Trace.Retention); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("trace.retention %q is not a positive duration", c.Trace.Retention))
		}
	}
	if c.Trace.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Trace.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("trace.prune_schedule %q: %w", c.Trace.PruneSchedule, err))
		}
	}
	if c.Trace.NATSURL != "" && c.Trace.NATSSubject == "" {
		errs = append(errs, errors.New("trace.nats_subject is required with trace.nats_url"))
	}
	if c.Provider == "" {
		errs = append(errs, errors.New("provider must not be empty"))
	}
	return errors.Join(errs...)
}

// CoreLimits returns the rendering limits with defaults filled in.
func (c *Config) CoreLimits() core.Limits {
	return core.Limits{
		ValueMaxTokens:      c.Limits.ValueMaxTokens,
		MaxItems:            c.Limits.MaxItems,
		LocalsMaxTokens:     c.Limits.LocalsMaxTokens,
		GlobalsMaxTokens:    c.Limits.GlobalsMaxTokens,
		MemoryMaxTokens:     c.Limits.MemoryMaxTokens,
		ToolResultMaxTokens: c.Limits.ToolResultMaxTokens,
	}.WithDefaults()
}

// RedactionPolicy returns the configured redaction, or nil when disabled.
func (c *Config) RedactionPolicy() *render.Redaction {
	if !c.Redaction.Enabled {
		return nil
	}
	r := render.DefaultRedaction()
	r.Allowlist = append([]string(nil), c.Redaction.Allowlist...)
	if len(c.Redaction.MaskSubstrings) > 0 {
		r.MaskSubstrings = append([]string(nil), c.Redaction.MaskSubstrings...)
	}
	if c.Redaction.Marker != "" {
		r.Marker = c.Redaction.Marker
	}
	return r
}

// RetentionDuration returns the parsed retention, or zero when unset.
func (c *Config) RetentionDuration() time.Duration {
	d, _ := time.ParseDuration(c.Trace.Retention)
	return d
}

// Discover resolves the config file with first-match semantics: an
// explicit path, then nighthawk.yaml or nighthawk.toml in the working
// directory, then ~/.nighthawk/config.yaml. found is false when none exists.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	var candidates []string
	if explicit != "" {
		candidates = []string{filepath.Clean(explicit)}
	} else {
		candidates = []string{
			filepath.Join(cwd, projectConfigName),
			filepath.Join(cwd, projectTOMLName),
			filepath.Join(homeDir, ".nighthawk", homeConfigName),
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}
