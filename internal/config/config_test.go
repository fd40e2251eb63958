package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// isolate points every lookup location at fresh temp directories so the
// developer's own config cannot leak into a test.
func isolate(t *testing.T) (configHome, dataHome string) {
	t.Helper()
	root := t.TempDir()
	configHome = filepath.Join(root, "config")
	dataHome = filepath.Join(root, "data")
	t.Setenv("HOME", root)
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("XDG_DATA_HOME", dataHome)
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, EnvPrefix+"_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	return configHome, dataHome
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	_, dataHome := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := &Config{
		DataDir:   filepath.Join(dataHome, "mindlog"),
		Legacy:    LegacyConfig{Prefix: "mindlog_"},
		Storage:   StorageConfig{Engine: EngineSQLite},
		Remote:    RemoteConfig{Kind: RemoteNone, MongoDatabase: "mindlog", Timeout: 8 * time.Second},
		Sync:      SyncConfig{Interval: 5 * time.Minute, Debounce: 500 * time.Millisecond},
		Dashboard: DashboardConfig{Host: "localhost", Port: 8080},
		Log:       LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreFields(Config{}, "Source")); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want no file found", cfg.Source)
	}
}

func TestLoadSearchesConfigHome(t *testing.T) {
	configHome, _ := isolate(t)
	path := filepath.Join(configHome, "mindlog", "mindlog.yaml")
	writeFile(t, path, `
data_dir: /var/lib/mindlog
remote:
  kind: http
  url: https://api.example.com
  timeout: 3s
sync:
  interval: 1m
log:
  file: mindlog.log
  compress: true
`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Source = %q, want %q", cfg.Source, path)
	}
	if cfg.DataDir != "/var/lib/mindlog" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Remote.Kind != RemoteHTTP || cfg.Remote.URL != "https://api.example.com" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Remote.Timeout != 3*time.Second {
		t.Errorf("Remote.Timeout = %v, want 3s", cfg.Remote.Timeout)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("Sync.Interval = %v, want 1m", cfg.Sync.Interval)
	}
	if cfg.Sync.Debounce != 500*time.Millisecond {
		t.Errorf("Sync.Debounce = %v, want default 500ms", cfg.Sync.Debounce)
	}
	if want := filepath.Join("/var/lib/mindlog", "mindlog.log"); cfg.Log.File != want {
		t.Errorf("Log.File = %q, want %q", cfg.Log.File, want)
	}
	if !cfg.Log.Compress {
		t.Error("Log.Compress = false, want true")
	}
}

func TestLoadExplicitTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	writeFile(t, path, `
[storage]
engine = "none"

[legacy]
prefix = "journal_"

[dashboard]
port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Engine != EngineNone {
		t.Errorf("Storage.Engine = %q, want none", cfg.Storage.Engine)
	}
	if cfg.Legacy.Prefix != "journal_" {
		t.Errorf("Legacy.Prefix = %q", cfg.Legacy.Prefix)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("Dashboard.Port = %d, want 9000", cfg.Dashboard.Port)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of a missing explicit file should fail")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	configHome, _ := isolate(t)
	writeFile(t, filepath.Join(configHome, "mindlog", "mindlog.yaml"), "sync:\n  interval: 1m\n")
	t.Setenv("MINDLOG_SYNC_INTERVAL", "30s")
	t.Setenv("MINDLOG_REMOTE_KIND", "memory")
	t.Setenv("MINDLOG_DASHBOARD_PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("Sync.Interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Remote.Kind != RemoteMemory {
		t.Errorf("Remote.Kind = %q, want memory", cfg.Remote.Kind)
	}
	if cfg.Dashboard.Port != 9999 {
		t.Errorf("Dashboard.Port = %d, want 9999", cfg.Dashboard.Port)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir: "/tmp/mindlog",
			Legacy:  LegacyConfig{Prefix: "mindlog_"},
			Storage: StorageConfig{Engine: EngineSQLite},
			Remote:  RemoteConfig{Kind: RemoteNone, Timeout: time.Second},
			Sync:    SyncConfig{Interval: time.Minute, Debounce: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"empty prefix", func(c *Config) { c.Legacy.Prefix = "" }, "legacy.prefix"},
		{"unknown engine", func(c *Config) { c.Storage.Engine = "postgres" }, "storage.engine"},
		{"unknown remote", func(c *Config) { c.Remote.Kind = "s3" }, "remote.kind"},
		{"http without url", func(c *Config) { c.Remote.Kind = RemoteHTTP }, "remote.url"},
		{"mongo without uri", func(c *Config) { c.Remote.Kind = RemoteMongo; c.Remote.MongoDatabase = "db" }, "remote.mongo_uri"},
		{"mongo without database", func(c *Config) { c.Remote.Kind = RemoteMongo; c.Remote.MongoURI = "mongodb://x" }, "remote.mongo_database"},
		{"zero timeout", func(c *Config) { c.Remote.Timeout = 0 }, "remote.timeout"},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }, "sync.interval"},
		{"zero debounce", func(c *Config) { c.Sync.Debounce = 0 }, "sync.debounce"},
		{"bad port", func(c *Config) { c.Dashboard.Port = 70000 }, "dashboard.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePaths(t *testing.T) {
	home, _ := isolate(t)
	home = filepath.Dir(home) // isolate sets HOME to the parent of configHome

	cfg := &Config{DataDir: "~/journal", Log: LogConfig{File: "logs/mindlog.log"}}
	if err := cfg.ResolvePaths(); err != nil {
		t.Fatalf("ResolvePaths() error = %v", err)
	}
	if want := filepath.Join(home, "journal"); cfg.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want)
	}
	if want := filepath.Join(home, "journal", "logs", "mindlog.log"); cfg.Log.File != want {
		t.Errorf("Log.File = %q, want %q", cfg.Log.File, want)
	}
	if want := filepath.Join(home, "journal", "mindlog.db"); cfg.DBPath() != want {
		t.Errorf("DBPath() = %q, want %q", cfg.DBPath(), want)
	}
	if want := filepath.Join(home, "journal", "legacy"); cfg.LegacyDir() != want {
		t.Errorf("LegacyDir() = %q, want %q", cfg.LegacyDir(), want)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "mindlog.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("second WriteDefault() should refuse to overwrite")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written defaults error = %v", err)
	}
	if cfg.Sync.Interval != 5*time.Minute || cfg.Remote.Timeout != 8*time.Second {
		t.Errorf("round-tripped durations = %v / %v", cfg.Sync.Interval, cfg.Remote.Timeout)
	}
}
