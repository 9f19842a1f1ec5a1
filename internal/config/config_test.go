package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ozonassist/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("OZONASSIST_NTFY_TOPIC", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "ozonassist")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "ozonassist.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Server.Bind != "127.0.0.1:8972" {
		t.Fatalf("unexpected bind: %q", cfg.Server.Bind)
	}
	if cfg.StaleAfter() != 2*time.Minute {
		t.Fatalf("unexpected stale threshold: %s", cfg.StaleAfter())
	}
	if cfg.Queue.ReapSchedule != "@every 2m" {
		t.Fatalf("unexpected reap schedule: %q", cfg.Queue.ReapSchedule)
	}
	if cfg.PublicBaseURL() != "http://127.0.0.1:8972" {
		t.Fatalf("unexpected public base url: %q", cfg.PublicBaseURL())
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `[paths]
data_dir = "~/queue"

[server]
bind = "0.0.0.0:9000"

[queue]
stale_after_seconds = 30
reap_schedule = "*/5 * * * *"

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "queue") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected lower-cased logging settings, got %q/%q", cfg.Logging.Format, cfg.Logging.Level)
	}
	if cfg.PublicBaseURL() != "http://127.0.0.1:9000" {
		t.Fatalf("wildcard bind should advertise loopback, got %q", cfg.PublicBaseURL())
	}
	if cfg.StaleAfter() != 30*time.Second {
		t.Fatalf("unexpected stale threshold: %s", cfg.StaleAfter())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cases := map[string]string{
		"bind":     "[server]\nbind = \"nonsense\"\n",
		"stale":    "[queue]\nstale_after_seconds = 0\n",
		"schedule": "[queue]\nreap_schedule = \"every now and then\"\n",
		"format":   "[logging]\nformat = \"xml\"\n",
		"unknown":  "[tmdb]\napi_key = \"x\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, _, _, err := config.Load(path); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestNtfyTopicFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OZONASSIST_NTFY_TOPIC", " https://ntfy.sh/queue ")
	t.Chdir(t.TempDir())

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/queue" {
		t.Fatalf("unexpected topic: %q", cfg.Notifications.NtfyTopic)
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[queue]") {
		t.Fatal("sample config missing queue section")
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.AttachmentDir = filepath.Join(base, "images")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.AttachmentDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
