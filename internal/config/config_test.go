package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if err := Default().ToController().Validate(); err != nil {
		t.Fatalf("controller config invalid: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "dxscan.yaml", `
camera:
  source: videotestsrc
  width: 320
  height: 240
scanner:
  gate_cooldown: 2s
  navigator: log
  format: ITF
server:
  addr: 127.0.0.1:9000
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.Source != "videotestsrc" || cfg.Camera.Width != 320 || cfg.Camera.Height != 240 {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Scanner.GateCooldown != 2*time.Second {
		t.Errorf("gate cooldown = %v, want 2s", cfg.Scanner.GateCooldown)
	}
	if cfg.Scanner.Format != "ITF" || cfg.Scanner.Navigator != "log" {
		t.Errorf("scanner = %+v", cfg.Scanner)
	}
	// Unset keys keep their defaults
	if cfg.Scanner.TickRate != 30 || cfg.Scanner.SearchPath != "search" {
		t.Errorf("defaults lost: %+v", cfg.Scanner)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_EmptyYAML(t *testing.T) {
	path := writeFile(t, "empty.yaml", "")
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	path := writeFile(t, "bad.yaml", "camera:\n  resolution: 720p\n")
	if _, err := Load(path, ""); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	const key = EnvPrefix + "SNAPSHOT_DIR"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := writeFile(t, ".env", key+"=/tmp/dxscan-snapshots\n")
	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Snapshot.Dir != "/tmp/dxscan-snapshots" {
		t.Errorf("snapshot dir = %q", cfg.Snapshot.Dir)
	}
}

func TestLoad_MissingDotEnvIgnored(t *testing.T) {
	if _, err := Load("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DXSCAN_CAMERA_DEVICE":          "ignored",
		"DXSCAN_CAMERA_FPS":             "15",
		"DXSCAN_SCANNER_TRY_HARDER":     "false",
		"DXSCAN_SCANNER_NAVIGATE_DELAY": "750ms",
		"DXSCAN_SCANNER_TICK_RATE":      "24.5",
		"DXSCAN_LOG_LEVEL":              " debug ",
		"DXSCAN_REDIS_ADDR":             "localhost:6379",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}
	if cfg.Camera.FPS != 15 {
		t.Errorf("fps = %d", cfg.Camera.FPS)
	}
	if cfg.Scanner.TryHarder {
		t.Error("try harder not overridden")
	}
	if cfg.Scanner.NavigateDelay != 750*time.Millisecond {
		t.Errorf("navigate delay = %v", cfg.Scanner.NavigateDelay)
	}
	if cfg.Scanner.TickRate != 24.5 {
		t.Errorf("tick rate = %v", cfg.Scanner.TickRate)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.ToRedis().Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.ToRedis().Addr)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "DXSCAN_CAMERA_WIDTH" {
			return "wide", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), "DXSCAN_CAMERA_WIDTH") {
		t.Errorf("error = %v, want one naming DXSCAN_CAMERA_WIDTH", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad source", func(c *Config) { c.Camera.Source = "rtspsrc" }, "Camera.Source"},
		{"tiny width", func(c *Config) { c.Camera.Width = 2 }, "Camera.Width"},
		{"tick rate", func(c *Config) { c.Scanner.TickRate = 0 }, "Scanner.TickRate"},
		{"zero cooldown", func(c *Config) { c.Scanner.GateCooldown = 0 }, "Scanner.GateCooldown"},
		{"navigator", func(c *Config) { c.Scanner.Navigator = "carrier-pigeon" }, "Scanner.Navigator"},
		{"base url", func(c *Config) { c.Scanner.BaseURL = "not a url" }, "Scanner.BaseURL"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "Log.Level"},
		{"redis addr", func(c *Config) { c.Prefs.Redis.Addr = "localhost" }, "Prefs.Redis.Addr"},
		{"snapshot format", func(c *Config) { c.Snapshot.Format = "gif" }, "Snapshot.Format"},
		{"jpeg quality", func(c *Config) { c.Snapshot.JPEGQuality = 0 }, "Snapshot.JPEGQuality"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Camera.FPS = 10
	cfg.Scanner.Format = "DXFilmEdge"
	cfg.Server.Addr = ":9999"
	cfg.Snapshot.Dir = "/tmp/snaps"

	if c := cfg.ToCamera(); c.FPS != 10 || c.Width != 640 || c.Source != "v4l2src" {
		t.Errorf("camera = %+v", c)
	}
	if c := cfg.ToController(); c.Format != "DXFilmEdge" || c.LabelMarginX != 85 || c.LabelMarginY != 25 {
		t.Errorf("controller = %+v", c)
	}
	if c := cfg.ToServer(); c.Addr != ":9999" || c.RateBurst != 40 {
		t.Errorf("server = %+v", c)
	}
	if c := cfg.ToSnapshot(); c.Dir != "/tmp/snaps" || c.Format != "png" {
		t.Errorf("snapshot = %+v", c)
	}
}
