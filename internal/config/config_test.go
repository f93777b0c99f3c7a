package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tsoled/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: "127.0.0.1:9464"
  log_level: debug
query:
  host: 127.0.0.1
  port: 25640
  api_key: ABCD-1234
  command: "clientlist -voice -uid"
  timeout: 1500ms
  dial_timeout: 5s
display:
  address: "127.0.0.1:51234"
  game: TS3
  event: TALKING
  timeout: 1s
  idle_text: "-"
  max_speakers: 2
  max_nick_length: 8
  retry_undelivered: false
  breaker_max_failures: 3
  breaker_reset: 30s
tracking:
  poll_interval: 50ms
  debounce: 250ms
reconnect:
  max_retries: -1
  backoff: 500ms
  max_backoff: 10s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9464" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if got := cfg.Query.Addr(); got != "127.0.0.1:25640" {
		t.Errorf("Query.Addr() = %q", got)
	}
	if cfg.Query.Timeout != 1500*time.Millisecond || cfg.Query.DialTimeout != 5*time.Second {
		t.Errorf("query timeouts = %s/%s", cfg.Query.Timeout, cfg.Query.DialTimeout)
	}
	d := cfg.Display
	if d.Game != "TS3" || d.Event != "TALKING" || d.IdleText != "-" {
		t.Errorf("display = %+v", d)
	}
	if d.MaxSpeakers != 2 || d.MaxNickLength != 8 || d.RetryUndelivered {
		t.Errorf("display limits = %+v", d)
	}
	if d.BreakerMaxFailures != 3 || d.BreakerReset != 30*time.Second {
		t.Errorf("display breaker = %d/%s", d.BreakerMaxFailures, d.BreakerReset)
	}
	if cfg.Tracking.PollInterval != 50*time.Millisecond || cfg.Tracking.Debounce != 250*time.Millisecond {
		t.Errorf("tracking = %+v", cfg.Tracking)
	}
	if !cfg.Reconnect.Enabled() || cfg.Reconnect.MaxRetries != -1 {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("query:\n  api_key: KEY\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	want := config.Default()
	want.Query.APIKey = "KEY"
	if *cfg != want {
		t.Errorf("config = %+v\nwant %+v", *cfg, want)
	}
	if cfg.Query.Addr() != "localhost:25639" {
		t.Errorf("Query.Addr() = %q", cfg.Query.Addr())
	}
	if cfg.Display.IdleText != "" || !cfg.Display.RetryUndelivered {
		t.Errorf("display defaults = %+v", cfg.Display)
	}
	if cfg.Reconnect.Enabled() {
		t.Error("reconnect enabled by default")
	}
}

func TestLoadFromReader_ExplicitZeroKept(t *testing.T) {
	t.Parallel()
	yaml := `
query: {api_key: KEY}
display: {max_speakers: 0, max_nick_length: 0}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Display.MaxSpeakers != 0 || cfg.Display.MaxNickLength != 0 {
		t.Errorf("explicit zero replaced: %+v", cfg.Display)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("query:\n  api_key: KEY\n  apikey: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsoled.yaml")
	if err := os.WriteFile(path, []byte("query:\n  api_key: FROM-FILE\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvAPIKey, "FROM-ENV")
	t.Setenv(config.EnvGameSenseAddress, "127.0.0.1:40000")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Query.APIKey != "FROM-ENV" {
		t.Errorf("api key = %q, want FROM-ENV", cfg.Query.APIKey)
	}
	if cfg.Display.Address != "127.0.0.1:40000" {
		t.Errorf("address = %q", cfg.Display.Address)
	}
}

func TestLoad_EmptyPathUsesEnvOnly(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "FROM-ENV")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Query.APIKey != "FROM-ENV" {
		t.Errorf("api key = %q", cfg.Query.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Fatalf("err = %v, want open error", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace".IsValid() = true`)
	}
}
