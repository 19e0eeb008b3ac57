package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SCHEDULE_TASK_DB_PATH", "")
	t.Setenv("SCHEDULE_TASK_TIMEZONE", "")
	t.Setenv("SCHEDULE_TASK_SAMPLING_TIMEOUT", "")
	t.Setenv("SCHEDULE_TASK_LOG_LEVEL", "")
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(cfg.DBPath, filepath.Join(".schedule-task-mcp", "tasks.db")) {
		t.Errorf("unexpected default db path %q", cfg.DBPath)
	}
	if cfg.SamplingTimeoutMS != DefaultSamplingTimeoutMS {
		t.Errorf("expected default timeout, got %d", cfg.SamplingTimeoutMS)
	}
	if cfg.SamplingTimeout() != 180*time.Second {
		t.Errorf("expected 180s timeout, got %s", cfg.SamplingTimeout())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info log level, got %q", cfg.LogLevel)
	}
	if cfg.Telemetry.Enabled {
		t.Error("expected telemetry disabled by default")
	}
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "db_path: " + filepath.Join(dir, "store", "mytasks") + "\n" +
		"timezone: Asia/Shanghai\n" +
		"sampling_timeout_ms: 5000\n" +
		"sampling_rate_per_min: 12\n" +
		"log_level: debug\n" +
		"telemetry:\n" +
		"  enabled: true\n" +
		"  endpoint: localhost:4317\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(cfg.DBPath, "mytasks.db") {
		t.Errorf("expected .db appended, got %q", cfg.DBPath)
	}
	zone, err := cfg.Zone()
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	if zone.String() != "Asia/Shanghai" {
		t.Errorf("expected Asia/Shanghai, got %q", zone)
	}
	if cfg.SamplingTimeoutMS != 5000 || cfg.SamplingRatePerMin != 12 {
		t.Errorf("unexpected sampling config: %d %d", cfg.SamplingTimeoutMS, cfg.SamplingRatePerMin)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %q", cfg.LogLevel)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("unexpected telemetry config: %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.Protocol != "grpc" {
		t.Errorf("expected grpc protocol default preserved, got %q", cfg.Telemetry.Protocol)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("SCHEDULE_TASK_DB_PATH", filepath.Join(dir, "legacy", "tasks.json"))
	t.Setenv("SCHEDULE_TASK_TIMEZONE", "UTC")
	t.Setenv("SCHEDULE_TASK_SAMPLING_TIMEOUT", "50")

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(cfg.DBPath, filepath.Join("legacy", "tasks.db")) {
		t.Errorf("expected json path rewritten to db, got %q", cfg.DBPath)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("expected UTC, got %q", cfg.Timezone)
	}
	if cfg.SamplingTimeout() != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %s", cfg.SamplingTimeout())
	}
}

func TestLoad_BadSamplingTimeoutIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCHEDULE_TASK_SAMPLING_TIMEOUT", "banana")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SamplingTimeoutMS != DefaultSamplingTimeoutMS {
		t.Errorf("expected default kept, got %d", cfg.SamplingTimeoutMS)
	}
}

func TestNormalizeDBPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"/data/tasks.json", "/data/tasks.db"},
		{"/data/tasks", "/data/tasks.db"},
		{"/data/tasks.db", "/data/tasks.db"},
		{"/data/tasks.sqlite", "/data/tasks.sqlite"},
	}
	for _, tc := range cases {
		if got := NormalizeDBPath(tc.in); got != tc.want {
			t.Errorf("NormalizeDBPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLegacyPath(t *testing.T) {
	cfg := &Config{DBPath: filepath.Join("/data", "tasks.db")}
	if got := cfg.LegacyPath(); got != filepath.Join("/data", "tasks.json") {
		t.Errorf("expected tasks.json beside the database, got %q", got)
	}

	cfg.LegacyImportPath = "/old/export.json"
	if got := cfg.LegacyPath(); got != "/old/export.json" {
		t.Errorf("expected explicit path preferred, got %q", got)
	}
}

func TestZone_BadNameFallsBack(t *testing.T) {
	cfg := &Config{Timezone: "Mars/Olympus"}
	zone, err := cfg.Zone()
	if err == nil {
		t.Fatal("expected resolve error")
	}
	if zone != time.UTC {
		t.Errorf("expected UTC fallback, got %v", zone)
	}
}

func TestWatcher_ReloadOnRenameOver(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	got := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case got <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Save the way editors do: write a temp file, rename it over the
	// original. The watch must survive the inode swap.
	tmp := filepath.Join(dir, "config.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case cfg := <-got:
		if cfg.LogLevel != "debug" {
			t.Errorf("expected reloaded log level %q, got %q", "debug", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change never observed")
	}
}
