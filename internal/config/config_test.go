package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "napper.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

// inEmptyDir runs the test from a directory without napper.yaml.
func inEmptyDir(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

const validYAML = `
server:
  host: "127.0.0.1"
  port: 9090
  shutdown_timeout: "5s"

database:
  path: "/var/lib/napper/log.db"

log:
  level: "debug"
  format: "json"

rate_limit:
  rps: 2.5
  burst: 5

stream:
  heartbeat: "15s"

schedule:
  time_zone: "Europe/Oslo"

client:
  server_url: "https://napper.example.org"
  suppress_window: "2s"
  origin_suppression: true
`

func TestLoad_Defaults(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 0 {
		t.Errorf("write timeout = %s, want 0 for streaming", cfg.Server.WriteTimeout)
	}
	if cfg.Database.Path != "napper.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Schedule.Location != time.UTC {
		t.Errorf("location = %v, want UTC", cfg.Schedule.Location)
	}
	if cfg.Client.SuppressWindow != time.Second {
		t.Errorf("suppress window = %s, want 1s", cfg.Client.SuppressWindow)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 10 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestLoad_YAML(t *testing.T) {
	inEmptyDir(t)
	path := writeYAML(t, t.TempDir(), validYAML)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Database.Path != "/var/lib/napper/log.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "debug" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.RateLimit.RPS != 2.5 || cfg.RateLimit.Burst != 5 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Stream.Heartbeat != 15*time.Second {
		t.Errorf("heartbeat = %s", cfg.Stream.Heartbeat)
	}
	if cfg.Schedule.Location == nil || cfg.Schedule.Location.String() != "Europe/Oslo" {
		t.Errorf("location = %v", cfg.Schedule.Location)
	}
	if !cfg.Client.OriginSuppression || cfg.Client.SuppressWindow != 2*time.Second {
		t.Errorf("client = %+v", cfg.Client)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	inEmptyDir(t)
	path := writeYAML(t, t.TempDir(), validYAML)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("SCHEDULE_TIME_ZONE", "America/New_York")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Schedule.Location.String() != "America/New_York" {
		t.Errorf("location = %v", cfg.Schedule.Location)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "server.port"},
		{"bad zone", map[string]string{"SCHEDULE_TIME_ZONE": "Mars/Olympus"}, "time_zone"},
		{"bad format", map[string]string{"LOG_FORMAT": "xml"}, "log.format"},
		{"zero rps", map[string]string{"RATE_LIMIT_RPS": "0"}, "rps"},
		{"relative url", map[string]string{"CLIENT_SERVER_URL": "localhost"}, "server_url"},
		{"backoff order", map[string]string{"CLIENT_RECONNECT_MIN": "10s", "CLIENT_RECONNECT_MAX": "1s"}, "reconnect_min"},
		{"zero heartbeat", map[string]string{"STREAM_HEARTBEAT": "0s"}, "heartbeat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inEmptyDir(t)
			t.Setenv("CONFIG_PATH", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_RateLimitDisabledSkipsChecks(t *testing.T) {
	inEmptyDir(t)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("RATE_LIMIT_RPS", "0")

	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
