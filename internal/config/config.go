// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the agent configuration.
type Config struct {
	Agent  AgentConfig  `toml:"agent"`
	Shell  ShellConfig  `toml:"shell"`
	IPC    IPCConfig    `toml:"ipc"`
	Policy PolicyConfig `toml:"policy"`
	Audit  AuditConfig  `toml:"audit"`
	Events EventsConfig `toml:"events"`
	Log    LogConfig    `toml:"log"`
}

// AgentConfig contains agent-level settings.
type AgentConfig struct {
	DefaultMode    string `toml:"default_mode"`    // autonomous|review|tutor
	DefaultTimeout string `toml:"default_timeout"` // e.g. "30s"
	MaxTimeout     string `toml:"max_timeout"`     // upper bound on request timeouts
	Headless       bool   `toml:"headless"`        // run without the confirmation surface
}

// ShellConfig contains the shell process settings.
type ShellConfig struct {
	Path string   `toml:"path"` // shell executable (default /bin/bash)
	Args []string `toml:"args"`
	Rows int      `toml:"rows"`
	Cols int      `toml:"cols"`
}

// IPCConfig contains the local socket settings.
type IPCConfig struct {
	SocketPath string `toml:"socket_path"` // defaults to $XDG_RUNTIME_DIR/adminmcp-<uid>.sock
}

// PolicyConfig contains admission policy settings.
type PolicyConfig struct {
	Path       string `toml:"path"`        // YAML rules file, optional
	LiveReload bool   `toml:"live_reload"` // watch the rules file for changes
}

// AuditConfig contains execution audit log settings.
type AuditConfig struct {
	Dir     string `toml:"dir"` // defaults to ~/.local/share/adminmcp/audit
	Enabled bool   `toml:"enabled"`
}

// EventsConfig contains optional NATS result mirroring.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // empty = disabled
	Subject string `toml:"subject"`  // defaults to adminmcp.results
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"` // debug|info|warn|error
	File  string `toml:"file"`  // log file; required when the TUI owns the terminal
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Agent: AgentConfig{
			DefaultMode:    "tutor",
			DefaultTimeout: "30s",
			MaxTimeout:     "10m",
		},
		Shell: ShellConfig{
			Path: "/bin/bash",
			Rows: 24,
			Cols: 80,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Events: EventsConfig{
			Subject: "adminmcp.results",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// SocketPath returns the configured socket path, falling back to a
// uid-scoped path under XDG_RUNTIME_DIR (or the temp dir).
func (c *Config) SocketPath() string {
	if c.IPC.SocketPath != "" {
		return expandHome(c.IPC.SocketPath)
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return filepath.Join(runtimeDir, fmt.Sprintf("adminmcp-%d.sock", os.Getuid()))
}

// AuditDir returns the audit directory, falling back to the XDG data dir.
func (c *Config) AuditDir() string {
	if c.Audit.Dir != "" {
		return expandHome(c.Audit.Dir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "adminmcp", "audit")
}

// DefaultTimeout parses the configured default timeout.
func (c *Config) DefaultTimeout() time.Duration {
	return parseDurationOr(c.Agent.DefaultTimeout, 30*time.Second)
}

// MaxTimeout parses the configured timeout ceiling.
func (c *Config) MaxTimeout() time.Duration {
	return parseDurationOr(c.Agent.MaxTimeout, 10*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
