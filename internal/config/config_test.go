package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSample(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.Server.Port)
	}
	if cfg.Game.SubscriberBuffer != 64 || cfg.Game.PersistRetries != 3 {
		t.Fatalf("game section not parsed: %+v", cfg.Game)
	}
	if cfg.NATS.SubjectPrefix != "buzzer.events" {
		t.Fatalf("unexpected subject prefix %q", cfg.NATS.SubjectPrefix)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("env secret should win, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty should fall back, got %s", got)
	}
	if got := TTLDuration("garbage", time.Minute); got != time.Minute {
		t.Fatalf("invalid should fall back, got %s", got)
	}
	if got := TTLDuration("250ms", time.Minute); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
}
