package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"codetax/internal/backends/git"
	"codetax/internal/paths"
)

// CurrentVersion is the config schema version this build understands
const CurrentVersion = 1

// EnvPrefix prefixes environment overrides, e.g. CODETAX_SEARCH_WORKERS
const EnvPrefix = "CODETAX"

// Config represents the complete codetax configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Taxonomy TaxonomyConfig `json:"taxonomy" mapstructure:"taxonomy"`
	Search   SearchConfig   `json:"search" mapstructure:"search"`
	Git      GitConfig      `json:"git" mapstructure:"git"`
	Links    LinksConfig    `json:"links" mapstructure:"links"`
	History  HistoryConfig  `json:"history" mapstructure:"history"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Watch    WatchConfig    `json:"watch" mapstructure:"watch"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// TaxonomyConfig selects the rule definitions
type TaxonomyConfig struct {
	File             string `json:"file" mapstructure:"file"`
	SkipInvalidRules bool   `json:"skipInvalidRules" mapstructure:"skipInvalidRules"`
}

// SearchConfig contains search backend configuration
type SearchConfig struct {
	// Backend is rg, native or auto (rg when installed)
	Backend     string `json:"backend" mapstructure:"backend"`
	RipgrepPath string `json:"ripgrepPath" mapstructure:"ripgrepPath"`
	Workers     int    `json:"workers" mapstructure:"workers"`
	TimeoutMs   int    `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// GitConfig contains revision-control configuration
type GitConfig struct {
	TimeoutMs  int    `json:"timeoutMs" mapstructure:"timeoutMs"`
	MergesOnly bool   `json:"mergesOnly" mapstructure:"mergesOnly"`
	BranchGlob string `json:"branchGlob" mapstructure:"branchGlob"`
}

// LinksConfig contains source link configuration
type LinksConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Org     string `json:"org" mapstructure:"org"`
}

// HistoryConfig contains history store configuration
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// MetricsConfig contains metrics export configuration
type MetricsConfig struct {
	// Textfile is a Prometheus textfile collector path; empty disables export
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

// WatchConfig contains watch mode configuration
type WatchConfig struct {
	DebounceMs int `json:"debounceMs" mapstructure:"debounceMs"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	filter := git.DefaultRevisionFilter()
	return &Config{
		Version: CurrentVersion,
		Taxonomy: TaxonomyConfig{
			File: "taxonomy.yaml",
		},
		Search: SearchConfig{
			Backend:     "auto",
			RipgrepPath: "rg",
			Workers:     1,
			TimeoutMs:   300000,
		},
		Git: GitConfig{
			TimeoutMs:  int(git.DefaultQueryTimeout.Milliseconds()),
			MergesOnly: filter.MergesOnly,
			BranchGlob: filter.BranchGlob,
		},
		Links: LinksConfig{
			Enabled: true,
			Host:    "github.com",
			Org:     "alphagov",
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    filepath.Join(paths.DataDirName, "history.db"),
		},
		Watch: WatchConfig{
			DebounceMs: 500,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// LoadConfig loads configuration from .codetax/config.json under repoRoot,
// falling back to defaults. Environment variables prefixed with CODETAX_
// override file values.
func LoadConfig(repoRoot string) (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(paths.DataDir(repoRoot))
	return load(v, true)
}

// LoadConfigFile loads configuration from an explicit file
func LoadConfigFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	return load(v, false)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

// setDefaults registers every key so that environment overrides apply even
// when the file omits them
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("taxonomy.file", d.Taxonomy.File)
	v.SetDefault("taxonomy.skipInvalidRules", d.Taxonomy.SkipInvalidRules)
	v.SetDefault("search.backend", d.Search.Backend)
	v.SetDefault("search.ripgrepPath", d.Search.RipgrepPath)
	v.SetDefault("search.workers", d.Search.Workers)
	v.SetDefault("search.timeoutMs", d.Search.TimeoutMs)
	v.SetDefault("git.timeoutMs", d.Git.TimeoutMs)
	v.SetDefault("git.mergesOnly", d.Git.MergesOnly)
	v.SetDefault("git.branchGlob", d.Git.BranchGlob)
	v.SetDefault("links.enabled", d.Links.Enabled)
	v.SetDefault("links.host", d.Links.Host)
	v.SetDefault("links.org", d.Links.Org)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
	v.SetDefault("watch.debounceMs", d.Watch.DebounceMs)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
}

func load(v *viper.Viper, optional bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		// A missing file in the search path means defaults plus env
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || !optional {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FilePath returns the config file LoadConfig reads under repoRoot
func FilePath(repoRoot string) string {
	return filepath.Join(paths.DataDir(repoRoot), "config.json")
}

// Save writes the configuration to .codetax/config.json
func (c *Config) Save(repoRoot string) error {
	if err := os.MkdirAll(paths.DataDir(repoRoot), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(FilePath(repoRoot), append(data, '\n'), 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	switch c.Search.Backend {
	case "auto", "rg", "native":
	default:
		return &ConfigError{Field: "search.backend", Message: "must be one of auto, rg, native"}
	}
	if c.Search.Workers < 1 {
		return &ConfigError{Field: "search.workers", Message: "must be at least 1"}
	}
	if c.Search.TimeoutMs < 0 || c.Git.TimeoutMs < 0 {
		return &ConfigError{Field: "timeoutMs", Message: "must not be negative"}
	}

	if c.Taxonomy.File != "" {
		switch strings.ToLower(filepath.Ext(c.Taxonomy.File)) {
		case ".yaml", ".yml", ".toml":
		default:
			return &ConfigError{Field: "taxonomy.file", Message: "must be a .yaml, .yml or .toml file"}
		}
	}

	if c.Links.Enabled && (c.Links.Host == "" || c.Links.Org == "") {
		return &ConfigError{Field: "links", Message: "host and org are required when links are enabled"}
	}
	if c.History.Enabled && c.History.Path == "" {
		return &ConfigError{Field: "history.path", Message: "required when history is enabled"}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "logging.level", Message: "must be one of debug, info, warn, error"}
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
