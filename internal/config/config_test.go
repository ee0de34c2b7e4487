package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "taskhub.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "user_id: u1\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("unexpected listen default %q", cfg.Listen)
	}
	if cfg.StateDSN != "file://taskhub-state.json" {
		t.Fatalf("unexpected state dsn default %q", cfg.StateDSN)
	}
	if cfg.UserID != "u1" {
		t.Fatalf("user_id not applied: %q", cfg.UserID)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
listen: 0.0.0.0:9090
state_dsn: memory://
outbox_dsn: file://outbox.json
jwt_secret: s3cr3t
user_id: u1
user_name: Pat
ai:
  provider: local
  host: http://127.0.0.1:11434
  model: llama3
  timeout_seconds: 45
collab:
  owner_url: http://owner.example:8080
  channel_url: ws://owner.example:8080/v1/channel
  token: tok
  sync_interval_seconds: 10
  max_reconnects: 7
  backoff_seconds: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9090" || cfg.StateDSN != "memory://" || cfg.JWTSecret != "s3cr3t" {
		t.Fatalf("top-level fields not parsed: %+v", cfg)
	}

	ai := cfg.AI.AIConfig()
	if ai.Provider != "local" || ai.Model != "llama3" {
		t.Fatalf("ai section not parsed: %+v", ai)
	}
	if ai.Timeout != 45*time.Second {
		t.Fatalf("ai timeout not converted: %v", ai.Timeout)
	}

	if cfg.Collab.SyncInterval() != 10*time.Second {
		t.Fatalf("sync interval not converted: %v", cfg.Collab.SyncInterval())
	}
	if cfg.Collab.Backoff() != 2*time.Second {
		t.Fatalf("backoff not converted: %v", cfg.Collab.Backoff())
	}
	if cfg.Collab.MaxReconnects != 7 {
		t.Fatalf("max reconnects not parsed: %d", cfg.Collab.MaxReconnects)
	}
}

func TestDurationFallbacks(t *testing.T) {
	var c CollabSection
	if c.SyncInterval() != 30*time.Second {
		t.Fatalf("unexpected sync interval fallback %v", c.SyncInterval())
	}
	if c.Backoff() != 3*time.Second {
		t.Fatalf("unexpected backoff fallback %v", c.Backoff())
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "listen: [broken\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWatchDeliversReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "user_id: before\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan Config, 4)
	if err := Watch(ctx, path, func(cfg Config) { updates <- cfg }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// Give the watcher goroutine a moment to start before mutating the file.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("user_id: after\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-updates:
			if cfg.UserID == "after" {
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "user_id: keep\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan Config, 4)
	if err := Watch(ctx, path, func(cfg Config) { updates <- cfg }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("user_id: other\n"), 0o644); err != nil {
		t.Fatalf("write sibling file: %v", err)
	}

	select {
	case cfg := <-updates:
		t.Fatalf("unexpected reload for sibling file: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}
