package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir       string `toml:"data_dir"`
	LogDir        string `toml:"log_dir"`
	AttachmentDir string `toml:"attachment_dir"`
}

// Server contains configuration for the local ingress listener.
type Server struct {
	Bind string `toml:"bind"`
	// PublicHost overrides the host:port used when building attachment URLs.
	// Defaults to Bind.
	PublicHost      string   `toml:"public_host"`
	// AllowedOrigins applies to the agent routes only; admin routes refuse
	// cross-origin browser requests.
	AllowedOrigins  []string `toml:"allowed_origins"`
	// APIToken, when set, is required as a bearer token on admin routes.
	APIToken        string   `toml:"api_token"`
	MaxUploadMiB    int      `toml:"max_upload_mib"`
	EventBufferSize int      `toml:"event_buffer_size"`
	EnablePprof     bool     `toml:"enable_pprof"`
}

// Queue contains configuration for claim handling and the stale-claim reaper.
type Queue struct {
	StaleAfterSeconds int    `toml:"stale_after_seconds"`
	ReapSchedule      string `toml:"reap_schedule"`
}

// Store contains SQLite tuning knobs.
type Store struct {
	BusyTimeoutMillis int `toml:"busy_timeout_ms"`
	CacheKiB          int `toml:"cache_kib"`
}

// Attachments contains configuration for the attachment registry.
type Attachments struct {
	ImportWorkers int `toml:"import_workers"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	TaskFailures       bool   `toml:"task_failures"`
	Timeouts           bool   `toml:"timeouts"`
	BatchComplete      bool   `toml:"batch_complete"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionRuns int    `toml:"retention_runs"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for ozonassist.
//
// Configuration sections by subsystem:
//   - Paths: database, log, and attachment directories
//   - Server: ingress listener, CORS, upload limits
//   - Queue: stale-claim threshold and reaper schedule
//   - Store: SQLite busy timeout and page cache
//   - Attachments: batch import parallelism
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus exposition
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Queue         Queue         `toml:"queue"`
	Store         Store         `toml:"store"`
	Attachments   Attachments   `toml:"attachments"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ozonassist/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ozonassist.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.AttachmentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, defaultDatabaseName)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ozonassist.lock")
}

// PIDPath returns the daemon PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "ozonassist.pid")
}

// StaleAfter returns how long a claim may go without an update before the reaper times it out.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Queue.StaleAfterSeconds) * time.Second
}

// PublicBaseURL returns the base URL observers and the agent use to fetch attachment bytes.
func (c *Config) PublicBaseURL() string {
	host := strings.TrimSpace(c.Server.PublicHost)
	if host == "" {
		host = c.Server.Bind
	}
	if h, port, err := net.SplitHostPort(host); err == nil && (h == "" || h == "0.0.0.0" || h == "::") {
		host = net.JoinHostPort("127.0.0.1", port)
	}
	return "http://" + host
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
