package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for sbak.
type Config struct {
	// BackupRoot is the local directory that receives one
	// subdirectory per host.
	BackupRoot string `toml:"backup_root"`
	LogDir     string `toml:"log_dir"`

	// MaxVersions bounds the timestamped snapshots kept per host.
	MaxVersions int `toml:"max_versions"`

	// DeleteRemoved mirrors remote deletions into the current tree.
	DeleteRemoved bool `toml:"delete_removed"`

	// HostWorkers bounds how many hosts are backed up concurrently;
	// TransferWorkers bounds concurrent downloads per host.
	HostWorkers     int `toml:"host_workers"`
	TransferWorkers int `toml:"transfer_workers"`

	// Exclude holds glob patterns applied to every host, merged with
	// each host's own patterns.
	Exclude []string `toml:"exclude"`

	Progress ProgressConfig `toml:"progress"`
	History  HistoryConfig  `toml:"history"`
	Schedule ScheduleConfig `toml:"schedule"`
	Hosts    []HostConfig   `toml:"hosts"`
}

// HostConfig describes one remote host to back up.
// This uses a tagged union pattern - the Protocol field determines which other fields are relevant.
type HostConfig struct {
	Name     string `toml:"name"`
	Protocol string `toml:"protocol"` // "sftp", "s3", or "memory"

	// SFTP-specific fields (only used when Protocol == "sftp")
	Addr           string `toml:"addr,omitempty"` // host:port, port defaults to 22
	Username       string `toml:"username,omitempty"`
	Password       string `toml:"password,omitempty"`
	KeyFile        string `toml:"key_file,omitempty"`
	KnownHostsFile string `toml:"known_hosts_file,omitempty"` // host key checking is skipped when unset

	// S3-specific fields (only used when Protocol == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores; forces path style
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// Roots are the remote directories (or key prefixes) to back up.
	Roots []string `toml:"roots"`

	// Exclude holds host-specific glob patterns.
	Exclude []string `toml:"exclude,omitempty"`
}

// ProgressConfig controls the interactive console display.
type ProgressConfig struct {
	Enabled         bool `toml:"enabled"`
	ShowCurrentFile bool `toml:"show_current_file"`
}

// HistoryConfig configures the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ScheduleConfig configures the built-in daily scheduler.
type ScheduleConfig struct {
	Enabled bool     `toml:"enabled"`
	Times   []string `toml:"times"` // "HH:MM", local time
}

// NewConfig creates a Config with defaults rooted at the given
// directories. Hosts must be added before the config is usable.
func NewConfig(backupRoot, baseDir string) *Config {
	return &Config{
		BackupRoot:      backupRoot,
		LogDir:          filepath.Join(baseDir, "log"),
		MaxVersions:     5,
		HostWorkers:     2,
		TransferWorkers: 4,
		Progress: ProgressConfig{
			Enabled:         true,
			ShowCurrentFile: true,
		},
		History: HistoryConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
	}
}

// ApplyDefaults fills unset fields with the same defaults NewConfig
// uses, rooting directory defaults at baseDir. Explicit zero values
// for booleans are indistinguishable from unset and are left alone.
func (c *Config) ApplyDefaults(baseDir string) {
	if c.LogDir == "" {
		c.LogDir = filepath.Join(baseDir, "log")
	}
	if c.MaxVersions == 0 {
		c.MaxVersions = 5
	}
	if c.HostWorkers == 0 {
		c.HostWorkers = 2
	}
	if c.TransferWorkers == 0 {
		c.TransferWorkers = 4
	}
	if c.History.Type == "" {
		c.History.Type = "sqlite"
	}
	if c.History.Type == "sqlite" && c.History.DataDir == "" {
		c.History.DataDir = filepath.Join(baseDir, "data")
	}
}

// HostExclude returns the merged global and host-specific exclusion
// patterns for one host, global patterns first.
func (c *Config) HostExclude(h HostConfig) []string {
	merged := make([]string, 0, len(c.Exclude)+len(h.Exclude))
	merged = append(merged, c.Exclude...)
	merged = append(merged, h.Exclude...)
	return merged
}

// Host returns the host config with the given name.
func (c *Config) Host(name string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostConfig{}, false
}

// Validate checks the settings that apply to the whole run: global
// options, the schedule, and host naming. Per-host connection settings
// are checked by CheckHosts, where a bad profile disables one host
// instead of failing the load.
func (c *Config) Validate() error {
	if c.BackupRoot == "" {
		return fmt.Errorf("backup_root must be set")
	}
	if c.MaxVersions < 1 {
		return fmt.Errorf("max_versions must be at least 1, got %d", c.MaxVersions)
	}
	if c.HostWorkers < 0 || c.TransferWorkers < 0 {
		return fmt.Errorf("worker counts must not be negative")
	}

	if len(c.Hosts) == 0 {
		return fmt.Errorf("no hosts configured")
	}
	seen := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("host with empty name")
		}
		// The host name becomes a directory under backup_root.
		if strings.ContainsAny(h.Name, "/\\") || h.Name == "." || h.Name == ".." {
			return fmt.Errorf("host name %q is not usable as a directory name", h.Name)
		}
		if seen[h.Name] {
			return fmt.Errorf("duplicate host name: %s", h.Name)
		}
		seen[h.Name] = true
	}

	switch c.History.Type {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown history type: %s", c.History.Type)
	}

	for _, t := range c.Schedule.Times {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("schedule time %q is not HH:MM", t)
		}
	}
	if c.Schedule.Enabled && len(c.Schedule.Times) == 0 {
		return fmt.Errorf("schedule is enabled but has no times")
	}

	return nil
}

// HostError reports why one host profile cannot be used.
type HostError struct {
	Name string
	Err  error
}

func (e HostError) Error() string { return e.Err.Error() }

func (e HostError) Unwrap() error { return e.Err }

// CheckHosts partitions the configured hosts into usable profiles and
// profiles whose settings are invalid. A bad profile disables only its
// own host; callers report it and back up the rest.
func (c *Config) CheckHosts() (valid []HostConfig, invalid []HostError) {
	for _, h := range c.Hosts {
		if err := h.validate(); err != nil {
			invalid = append(invalid, HostError{Name: h.Name, Err: err})
			continue
		}
		valid = append(valid, h)
	}
	return valid, invalid
}

func (h HostConfig) validate() error {
	if len(h.Roots) == 0 {
		return fmt.Errorf("host %s: no roots configured", h.Name)
	}
	for _, r := range h.Roots {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("host %s: empty root", h.Name)
		}
	}

	switch h.Protocol {
	case "sftp":
		if h.Addr == "" {
			return fmt.Errorf("host %s: sftp requires addr", h.Name)
		}
		if h.Username == "" {
			return fmt.Errorf("host %s: sftp requires username", h.Name)
		}
	case "s3":
		if h.S3Bucket == "" {
			return fmt.Errorf("host %s: s3 requires s3_bucket", h.Name)
		}
		if h.S3Region == "" && h.S3Endpoint == "" {
			return fmt.Errorf("host %s: s3 requires s3_region or s3_endpoint", h.Name)
		}
	case "memory":
	default:
		return fmt.Errorf("host %s: unknown protocol: %s", h.Name, h.Protocol)
	}

	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
