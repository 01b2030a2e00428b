package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9000
body_max_bytes = 5242880

[proxy]
host = "10.0.0.5"
port = 1080
username = "alice"
password = "s3cret"

[upstream]
connect_timeout_seconds = 5
response_header_timeout_seconds = 20
idle_connections = 50

[cache]
enabled = false
dir = "/var/cache/webgate"
max_bytes = 2048

[intercept]
no_proxy_mode = "serve"
reason_phrase = "status"

[[intercept.bypass]]
host = "ads.example.com"

[[intercept.bypass]]
scheme = "data"

[notify]
queue_size = 16

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Proxy.Host != "10.0.0.5" || cfg.Proxy.Port != 1080 {
		t.Errorf("Proxy = %s:%d, want 10.0.0.5:1080", cfg.Proxy.Host, cfg.Proxy.Port)
	}
	if cfg.Proxy.Username != "alice" || cfg.Proxy.Password != "s3cret" {
		t.Errorf("Proxy credentials not loaded: %q/%q", cfg.Proxy.Username, cfg.Proxy.Password)
	}
	if cfg.Upstream.ConnectTimeoutSeconds != 5 {
		t.Errorf("Upstream.ConnectTimeoutSeconds = %d, want %d", cfg.Upstream.ConnectTimeoutSeconds, 5)
	}
	if cfg.Upstream.ResponseHeaderTimeoutSeconds != 20 {
		t.Errorf("Upstream.ResponseHeaderTimeoutSeconds = %d, want %d", cfg.Upstream.ResponseHeaderTimeoutSeconds, 20)
	}
	if cfg.Cache.CacheEnabled() {
		t.Error("Cache.CacheEnabled() = true, want false")
	}
	if cfg.Cache.Dir != "/var/cache/webgate" {
		t.Errorf("Cache.Dir = %q, want %q", cfg.Cache.Dir, "/var/cache/webgate")
	}
	if cfg.Intercept.NoProxyMode != NoProxyServe {
		t.Errorf("Intercept.NoProxyMode = %q, want %q", cfg.Intercept.NoProxyMode, NoProxyServe)
	}
	if cfg.Intercept.ReasonPhrase != ReasonPhraseStatus {
		t.Errorf("Intercept.ReasonPhrase = %q, want %q", cfg.Intercept.ReasonPhrase, ReasonPhraseStatus)
	}
	if len(cfg.Intercept.Bypass) != 2 {
		t.Fatalf("len(Intercept.Bypass) = %d, want 2", len(cfg.Intercept.Bypass))
	}
	if cfg.Intercept.Bypass[0].Host != "ads.example.com" {
		t.Errorf("Bypass[0].Host = %q, want %q", cfg.Intercept.Bypass[0].Host, "ads.example.com")
	}
	if cfg.Notify.QueueSize != 16 {
		t.Errorf("Notify.QueueSize = %d, want %d", cfg.Notify.QueueSize, 16)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	p := cfg.InitialProxy()
	if p.Addr() != "10.0.0.5:1080" || p.Username != "alice" {
		t.Errorf("InitialProxy() = %+v", p)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8089 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8089)
	}
	if cfg.Proxy.Host != "" {
		t.Errorf("default Proxy.Host = %q, want empty", cfg.Proxy.Host)
	}
	if !cfg.Cache.CacheEnabled() {
		t.Error("cache should be enabled by default")
	}
	if cfg.Cache.MaxBytes != 10*1024*1024 {
		t.Errorf("default Cache.MaxBytes = %d, want %d", cfg.Cache.MaxBytes, 10*1024*1024)
	}
	if cfg.Cache.Dir != "cache/httpcache" {
		t.Errorf("default Cache.Dir = %q, want %q", cfg.Cache.Dir, "cache/httpcache")
	}
	if cfg.Intercept.NoProxyMode != NoProxyNative {
		t.Errorf("default Intercept.NoProxyMode = %q, want %q", cfg.Intercept.NoProxyMode, NoProxyNative)
	}
	if cfg.Intercept.ReasonPhrase != "OK" {
		t.Errorf("default Intercept.ReasonPhrase = %q, want %q", cfg.Intercept.ReasonPhrase, "OK")
	}
	if cfg.Upstream.ConnectTimeoutSeconds != 15 {
		t.Errorf("default Upstream.ConnectTimeoutSeconds = %d, want %d", cfg.Upstream.ConnectTimeoutSeconds, 15)
	}
	if cfg.Upstream.ResponseHeaderTimeoutSeconds != 30 {
		t.Errorf("default Upstream.ResponseHeaderTimeoutSeconds = %d, want %d", cfg.Upstream.ResponseHeaderTimeoutSeconds, 30)
	}
	if cfg.Notify.QueueSize != 256 {
		t.Errorf("default Notify.QueueSize = %d, want %d", cfg.Notify.QueueSize, 256)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[proxy]
host = "10.0.0.5"
port = 1080

[log]
level = "info"
`)

	cli := &CLI{
		Config:    path,
		Host:      "127.0.0.1",
		Port:      3000,
		ProxyHost: "192.168.1.1",
		ProxyPort: 9050,
		LogLevel:  "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Proxy.Host != "192.168.1.1" {
		t.Errorf("Proxy.Host = %q, want %q (CLI override)", cfg.Proxy.Host, "192.168.1.1")
	}
	if cfg.Proxy.Port != 9050 {
		t.Errorf("Proxy.Port = %d, want %d (CLI override)", cfg.Proxy.Port, 9050)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\n", "requests_per_second"},
		{"negative connect timeout", "[upstream]\nconnect_timeout_seconds = -1\n", "connect_timeout_seconds"},
		{"negative header timeout", "[upstream]\nresponse_header_timeout_seconds = -5\n", "response_header_timeout_seconds"},
		{"negative idle", "[upstream]\nidle_connections = -1\n", "idle_connections"},
		{"negative cache", "[cache]\nmax_bytes = -1\n", "cache.max_bytes"},
		{"negative queue", "[notify]\nqueue_size = -1\n", "queue_size"},
		{"proxy without port", "[proxy]\nhost = \"10.0.0.1\"\n", "proxy.port"},
		{"credentials without host", "[proxy]\nusername = \"bob\"\n", "proxy.host"},
		{"bad no proxy mode", "[intercept]\nno_proxy_mode = \"always\"\n", "no_proxy_mode"},
		{"empty bypass template", "[[intercept.bypass]]\n", "intercept.bypass[0]"},
		{"bad log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"bad log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"metrics path no slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", "must start with"},
		{"metrics path conflicts", "[metrics]\nenabled = true\npath = \"/intercept/metrics\"\n", "conflicts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = false\npath = \"no-slash\"\n")

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, "[server.rate_limit]\nenabled = true\nrequests_per_second = 50.5\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want %v", cfg.Server.RateLimit.RequestsPerSecond, 50.5)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "# first\n")
	path2 := writeConfig(t, "# second\n")

	got := findConfigInPaths([]string{"/nonexistent/a.toml", path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
