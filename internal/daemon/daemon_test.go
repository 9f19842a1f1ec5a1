package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"ozonassist/internal/api"
	"ozonassist/internal/attachments"
	"ozonassist/internal/config"
	"ozonassist/internal/daemon"
	"ozonassist/internal/logging"
	"ozonassist/internal/queue"
	"ozonassist/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, daemon.Deps{
		Store:    st,
		Engine:   queue.New(st),
		Registry: attachments.New(st, cfg),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Address == "" || status.BaseURL == "" {
		t.Fatalf("expected bound address, got %+v", status)
	}

	resp, err := http.Get(status.BaseURL + "/api/status")
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	var env api.Envelope
	err = json.NewDecoder(resp.Body).Decode(&env)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonRefusesWhenLockHeld(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	held := flock.New(cfg.LockPath())
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("failed to take lock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail while another instance holds the lock")
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon should not report running")
	}
}
