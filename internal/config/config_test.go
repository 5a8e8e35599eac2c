package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "icestream.vibe")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeTempConfig(t, `
address 127.0.0.1
port 9000
metaint 8192
server_id test-server

users {
	main {
		username source
		password hunter2
	}
}

limits {
	clients 50
	sources 4
	total_sources 8
	queue_size 1048576
	burst_size 32768
	header_timeout 20
	source_limits {
		radio {
			clients 10
			burst_size 4096
			header_timeout 5
		}
	}
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Address != "127.0.0.1" || cfg.Port != 9000 || cfg.Metaint != 8192 {
		t.Fatalf("top-level overrides not applied: %+v", cfg)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Username != "source" || cfg.Users[0].Password != "hunter2" {
		t.Fatalf("users[] not parsed: %+v", cfg.Users)
	}
	if cfg.Limits.Clients != 50 || cfg.Limits.Sources != 4 || cfg.Limits.TotalSources != 8 {
		t.Fatalf("limits overrides not applied: %+v", cfg.Limits)
	}

	ml := cfg.EffectiveSourceLimits("/radio")
	if ml.Clients != 10 || ml.BurstSize != 4096 || ml.HeaderTimeout != 5*time.Second {
		t.Fatalf("expected per-mount override for /radio, got %+v", ml)
	}

	other := cfg.EffectiveSourceLimits("/other")
	if other.Clients != cfg.Limits.Clients || other.BurstSize != cfg.Limits.BurstSize || other.HeaderTimeout != cfg.Limits.HeaderTimeout {
		t.Fatalf("expected global defaults for unconfigured mount, got %+v", other)
	}
	if cfg.Limits.HeaderTimeout != 20*time.Second {
		t.Fatalf("expected global header_timeout override, got %v", cfg.Limits.HeaderTimeout)
	}
}

func TestValidateRequiresAtLeastOneUser(t *testing.T) {
	cfg := Default()
	cfg.Users = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error with no users configured")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Users = []User{{Username: "a", Password: "b"}}
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for invalid port")
	}
}
