package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Protocol != "tcp" || cfg.Listen != "127.0.0.1:8000" || cfg.Hooks.Timeout != 10*time.Second {
		t.Fatalf("expect defaults, got %+v", cfg)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
protocol: ws
listen: 0.0.0.0:8080
path: /rpc/
service: chat
etcd:
  - 10.0.0.1:2379
  - 10.0.0.2:2379
log_level: debug
socket:
  stall_interval: 2s
  job_timeout: 1m
  max_packet_size: 1024
hooks:
  rate_limit: 50
  rate_burst: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Protocol != "ws" || cfg.Path != "/rpc/" || cfg.Service != "chat" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Etcd) != 2 || cfg.Etcd[1] != "10.0.0.2:2379" {
		t.Fatalf("unexpected etcd endpoints %v", cfg.Etcd)
	}
	if cfg.Socket.StallInterval != 2*time.Second || cfg.Socket.JobTimeout != time.Minute {
		t.Fatalf("unexpected socket config %+v", cfg.Socket)
	}
	if cfg.Hooks.RateLimit != 50 || cfg.Hooks.RateBurst != 10 {
		t.Fatalf("unexpected hook config %+v", cfg.Hooks)
	}
	// Unset values keep their defaults.
	if cfg.Hooks.Timeout != 10*time.Second || cfg.Balancer != "round_robin" {
		t.Fatalf("expect defaults to survive, got %+v", cfg)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Fatalf("expect debug level, got %v", cfg.Level())
	}
	if n := len(cfg.SocketOptions()); n != 6 {
		t.Fatalf("expect 6 socket options, got %d", n)
	}
}

func TestLoadInvalid(t *testing.T) {
	for _, content := range []string{
		"protocol: udp\n",
		"listen: ''\n",
		"protocol: ws\npath: rpc\n",
		"hooks:\n  rate_limit: -1\n",
		"socket: [\n",
	} {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("expect error for %q", content)
		}
	}
}
