package testsupport

import (
	"path/filepath"
	"testing"

	"ozonassist/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.AttachmentDir = filepath.Join(base, "images")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Metrics.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithStaleAfter overrides the reaper staleness threshold.
func WithStaleAfter(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.StaleAfterSeconds = seconds
	}
}

// WithNtfyTopic points notifications at a test endpoint.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
		b.cfg.Notifications.DedupWindowSeconds = 0
	}
}

// WithAPIToken requires a bearer token on admin routes.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.APIToken = token
	}
}

// WithAllowedOrigins restricts the browser origins the agent routes accept.
func WithAllowedOrigins(origins ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.AllowedOrigins = origins
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
