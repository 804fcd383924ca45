package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultSchemaVersion is written into every envelope unless overridden.
const DefaultSchemaVersion = "2.0"

// Config holds application configuration.
type Config struct {
	// SaveCooldownMs is the window during which repeated save requests
	// collapse into one deferred write.
	SaveCooldownMs int `json:"save_cooldown_ms" env:"VERTIAS_SAVE_COOLDOWN_MS"`

	// GraceWindowMs is the startup period during which an empty snapshot is
	// not allowed to overwrite a populated one on disk.
	GraceWindowMs int `json:"grace_window_ms" env:"VERTIAS_GRACE_WINDOW_MS"`

	// RestoreDelayMs is the wait between engine start and the first restore attempt.
	RestoreDelayMs int `json:"restore_delay_ms" env:"VERTIAS_RESTORE_DELAY_MS"`

	// ContainerRetryAttempts bounds the wait for a container item to appear in its slot.
	ContainerRetryAttempts int `json:"container_retry_attempts" env:"VERTIAS_CONTAINER_RETRY_ATTEMPTS"`

	// ContainerRetryIntervalMs is the pause between container readiness checks.
	ContainerRetryIntervalMs int `json:"container_retry_interval_ms" env:"VERTIAS_CONTAINER_RETRY_INTERVAL_MS"`

	// BackupsEnabled copies the current file to a _backup sibling before overwrite.
	// Pointer so an explicit false in config.json survives Merge.
	BackupsEnabled *bool `json:"backups_enabled,omitempty" env:"VERTIAS_BACKUPS_ENABLED"`

	// Compress gzips data files on write. Reads detect compression automatically.
	Compress bool `json:"compress,omitempty" env:"VERTIAS_COMPRESS"`

	// SchemaVersion is the free-text version recorded in envelopes.
	SchemaVersion string `json:"schema_version,omitempty" env:"VERTIAS_SCHEMA_VERSION"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// AllowedPaths lists extra directories reports may be written to.
	// Only absolute paths are honored.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths lifts the directory restriction on report paths.
	// Symlink checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty" env:"VERTIAS_ALLOW_UNSAFE_PATHS"`

	// TraceExporter selects where spans go: "none" or "stdout" (written to stderr).
	TraceExporter string `json:"trace_exporter,omitempty" env:"VERTIAS_TRACE_EXPORTER"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	backups := true
	return &Config{
		SaveCooldownMs:           2000,
		GraceWindowMs:            10000,
		RestoreDelayMs:           100,
		ContainerRetryAttempts:   10,
		ContainerRetryIntervalMs: 100,
		BackupsEnabled:           &backups,
		SchemaVersion:            DefaultSchemaVersion,
		TraceExporter:            "none",
	}
}

// SaveCooldown returns the cooldown as a duration.
func (c *Config) SaveCooldown() time.Duration {
	return time.Duration(c.SaveCooldownMs) * time.Millisecond
}

// GraceWindow returns the startup grace window as a duration.
func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.GraceWindowMs) * time.Millisecond
}

// RestoreDelay returns the initial restore delay as a duration.
func (c *Config) RestoreDelay() time.Duration {
	return time.Duration(c.RestoreDelayMs) * time.Millisecond
}

// ContainerRetryInterval returns the container readiness poll interval.
func (c *Config) ContainerRetryInterval() time.Duration {
	return time.Duration(c.ContainerRetryIntervalMs) * time.Millisecond
}

// Backups reports whether backup-before-overwrite is on.
func (c *Config) Backups() bool {
	return c.BackupsEnabled == nil || *c.BackupsEnabled
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.SaveCooldownMs < 0 {
		return fmt.Errorf("save_cooldown_ms must be non-negative, got %d", c.SaveCooldownMs)
	}
	if c.GraceWindowMs < 0 {
		return fmt.Errorf("grace_window_ms must be non-negative, got %d", c.GraceWindowMs)
	}
	if c.RestoreDelayMs < 0 {
		return fmt.Errorf("restore_delay_ms must be non-negative, got %d", c.RestoreDelayMs)
	}
	if c.ContainerRetryAttempts < 1 {
		return fmt.Errorf("container_retry_attempts must be at least 1, got %d", c.ContainerRetryAttempts)
	}
	if c.ContainerRetryIntervalMs < 0 {
		return fmt.Errorf("container_retry_interval_ms must be non-negative, got %d", c.ContainerRetryIntervalMs)
	}
	switch c.TraceExporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("trace_exporter must be none or stdout, got %q", c.TraceExporter)
	}
	return nil
}

// Load loads configuration from baseDir/config.json, then applies
// VERTIAS_* environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.vertias.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.SaveCooldownMs = pickInt(overlay.SaveCooldownMs, base.SaveCooldownMs)
	result.GraceWindowMs = pickInt(overlay.GraceWindowMs, base.GraceWindowMs)
	result.RestoreDelayMs = pickInt(overlay.RestoreDelayMs, base.RestoreDelayMs)
	result.ContainerRetryAttempts = pickInt(overlay.ContainerRetryAttempts, base.ContainerRetryAttempts)
	result.ContainerRetryIntervalMs = pickInt(overlay.ContainerRetryIntervalMs, base.ContainerRetryIntervalMs)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.SchemaVersion = strings.TrimSpace(overlay.SchemaVersion)
	if result.SchemaVersion == "" {
		result.SchemaVersion = base.SchemaVersion
	}
	result.TraceExporter = strings.TrimSpace(overlay.TraceExporter)
	if result.TraceExporter == "" {
		result.TraceExporter = base.TraceExporter
	}

	// Tri-state: overlay wins when set at all
	result.BackupsEnabled = base.BackupsEnabled
	if overlay.BackupsEnabled != nil {
		result.BackupsEnabled = overlay.BackupsEnabled
	}

	// Booleans: overlay wins if true, else base
	result.Compress = base.Compress || overlay.Compress
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)

	return result
}

// pickInt returns overlay if non-zero, else base.
func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
