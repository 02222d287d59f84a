// Package config loads and validates the user's TOML configuration
// from the XDG config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

// Config is the user's configuration.
type Config struct {
	Session SessionConfig `toml:"session"`
	Layout  LayoutConfig  `toml:"layout"`
	Input   InputConfig   `toml:"input"`
	Log     LogConfig     `toml:"log"`
}

// SessionConfig holds control-connection settings.
type SessionConfig struct {
	AutoAttach      bool   `toml:"auto_attach"`       // Attach to the default session on startup (default: false)
	DefaultSession  string `toml:"default_session"`   // Session name used by attach when none is given (default: main)
	ReplyTimeoutSec int    `toml:"reply_timeout_sec"` // Seconds to wait for a command reply before giving up (default: 5)
}

// LayoutConfig bounds the pane tree.
type LayoutConfig struct {
	MaxPanes   int     `toml:"max_panes"`   // Maximum panes per tab (default: 16, min: 2, max: 64)
	MinRatio   float64 `toml:"min_ratio"`   // Lower split ratio clamp (default: 0.05)
	MaxRatio   float64 `toml:"max_ratio"`   // Upper split ratio clamp (default: 0.95)
	ResizeStep float64 `toml:"resize_step"` // Ratio change per resize keypress (default: 0.03)
}

// InputConfig holds input routing settings.
type InputConfig struct {
	BroadcastDefault bool   `toml:"broadcast_default"` // Start new tabs with broadcast mode on (default: false)
	PrefixKey        string `toml:"prefix_key"`        // Prefix for pane commands (default: ctrl+b)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"` // Log level: debug, info, warn, error (default: warn)
	File  string `toml:"file"`  // Log file path; empty logs to stderr
}

const configFile = "parmux/config.toml"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			AutoAttach:      false,
			DefaultSession:  "main",
			ReplyTimeoutSec: 5,
		},
		Layout: LayoutConfig{
			MaxPanes:   16,
			MinRatio:   0.05,
			MaxRatio:   0.95,
			ResizeStep: 0.03,
		},
		Input: InputConfig{
			BroadcastDefault: false,
			PrefixKey:        "ctrl+b",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Load reads the user's config file, creating it with defaults on
// first run. Missing fields fall back to defaults; invalid values are
// errors rather than silent corrections.
func Load() (*Config, error) {
	path, err := xdg.SearchConfigFile(configFile)
	if err != nil {
		return createDefault()
	}

	// #nosec G304 - path comes from the XDG search, reading it is the point
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates TOML config bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	fillMissing(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillMissing restores defaults for fields the user zeroed or omitted.
func fillMissing(cfg *Config) {
	def := Default()
	if cfg.Session.DefaultSession == "" {
		cfg.Session.DefaultSession = def.Session.DefaultSession
	}
	if cfg.Session.ReplyTimeoutSec == 0 {
		cfg.Session.ReplyTimeoutSec = def.Session.ReplyTimeoutSec
	}
	if cfg.Layout.MaxPanes == 0 {
		cfg.Layout.MaxPanes = def.Layout.MaxPanes
	}
	if cfg.Layout.MinRatio == 0 {
		cfg.Layout.MinRatio = def.Layout.MinRatio
	}
	if cfg.Layout.MaxRatio == 0 {
		cfg.Layout.MaxRatio = def.Layout.MaxRatio
	}
	if cfg.Layout.ResizeStep == 0 {
		cfg.Layout.ResizeStep = def.Layout.ResizeStep
	}
	if cfg.Input.PrefixKey == "" {
		cfg.Input.PrefixKey = def.Input.PrefixKey
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

// Validate rejects values the rest of the program cannot honor.
func Validate(cfg *Config) error {
	var errs []string
	if cfg.Layout.MaxPanes < 2 || cfg.Layout.MaxPanes > 64 {
		errs = append(errs, fmt.Sprintf("layout.max_panes %d out of range [2, 64]", cfg.Layout.MaxPanes))
	}
	if cfg.Layout.MinRatio <= 0 || cfg.Layout.MinRatio >= 0.5 {
		errs = append(errs, fmt.Sprintf("layout.min_ratio %g out of range (0, 0.5)", cfg.Layout.MinRatio))
	}
	if cfg.Layout.MaxRatio <= 0.5 || cfg.Layout.MaxRatio >= 1 {
		errs = append(errs, fmt.Sprintf("layout.max_ratio %g out of range (0.5, 1)", cfg.Layout.MaxRatio))
	}
	if cfg.Layout.ResizeStep <= 0 || cfg.Layout.ResizeStep > 0.25 {
		errs = append(errs, fmt.Sprintf("layout.resize_step %g out of range (0, 0.25]", cfg.Layout.ResizeStep))
	}
	if cfg.Session.ReplyTimeoutSec < 1 {
		errs = append(errs, fmt.Sprintf("session.reply_timeout_sec %d must be at least 1", cfg.Session.ReplyTimeoutSec))
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration has %d error(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// createDefault writes a commented default config on first run.
func createDefault() (*Config, error) {
	cfg := Default()

	path, err := xdg.ConfigFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# parmux configuration\n")
	sb.WriteString("#\n")
	sb.WriteString("# [session]  control connection: auto_attach, default_session, reply_timeout_sec\n")
	sb.WriteString("# [layout]   pane tree limits: max_panes, min_ratio, max_ratio, resize_step\n")
	sb.WriteString("# [input]    routing: broadcast_default, prefix_key\n")
	sb.WriteString("# [log]      level (debug, info, warn, error) and optional file\n\n")
	sb.Write(data)

	if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
		return nil, fmt.Errorf("failed to write default config: %w", err)
	}
	return cfg, nil
}

// Path returns the config file location, or where it would be created.
func Path() (string, error) {
	path, err := xdg.SearchConfigFile(configFile)
	if err != nil {
		return xdg.ConfigFile(configFile)
	}
	return path, nil
}

// Reset deletes the user's config file so the next load recreates the
// defaults.
func Reset() error {
	path, err := xdg.SearchConfigFile(configFile)
	if err != nil {
		return nil
	}
	return os.Remove(path)
}
