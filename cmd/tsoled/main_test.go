package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/tsoled/internal/config"
)

// engine is a fake SteelSeries engine that records request paths.
type engine struct {
	mu     sync.Mutex
	paths  []string
	status int
}

func newEngine(t *testing.T, status int) (*engine, *httptest.Server) {
	t.Helper()
	e := &engine{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.paths = append(e.paths, r.URL.Path)
		e.mu.Unlock()
		w.WriteHeader(e.status)
	}))
	t.Cleanup(srv.Close)
	return e, srv
}

func (e *engine) requests() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

func runCLI(args ...string) (code int, stdout, stderr string) {
	var out, errb bytes.Buffer
	code = run(args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestVersion(t *testing.T) {
	t.Parallel()
	code, out, _ := runCLI("version")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if out != "tsoled dev\n" {
		t.Errorf("output = %q", out)
	}
}

func TestBind(t *testing.T) {
	e, srv := newEngine(t, http.StatusOK)
	t.Setenv(config.EnvGameSenseAddress, srv.URL)

	code, out, errOut := runCLI("bind")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "bound TEAMSPEAK/SPEAKING at "+srv.URL) {
		t.Errorf("output = %q", out)
	}
	if got := e.requests(); len(got) != 1 || got[0] != "/bind_game_event" {
		t.Errorf("requests = %v, want [/bind_game_event]", got)
	}
}

func TestBind_EngineRejects(t *testing.T) {
	_, srv := newEngine(t, http.StatusBadRequest)
	t.Setenv(config.EnvGameSenseAddress, srv.URL)

	code, _, errOut := runCLI("bind")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "bind TEAMSPEAK/SPEAKING") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestBind_EnvFile(t *testing.T) {
	e, srv := newEngine(t, http.StatusOK)
	// Registers restoration of the original value; godotenv skips set keys.
	t.Setenv(config.EnvGameSenseAddress, "")
	os.Unsetenv(config.EnvGameSenseAddress)

	path := filepath.Join(t.TempDir(), "tsoled.env")
	if err := os.WriteFile(path, []byte(config.EnvGameSenseAddress+"="+srv.URL+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := runCLI("bind", "--env-file", path)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if len(e.requests()) != 1 {
		t.Errorf("requests = %v", e.requests())
	}
}

func TestEnvFile_ExplicitMissing(t *testing.T) {
	t.Parallel()
	code, _, errOut := runCLI("version", "--env-file", filepath.Join(t.TempDir(), "nope.env"))
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "load env file") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_MissingConfig(t *testing.T) {
	t.Parallel()
	code, _, errOut := runCLI("run", "--config", filepath.Join(t.TempDir(), "config.yaml"))
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "not found") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	code, _, errOut := runCLI("--config", path)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut, "server.log_level") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRoot_RejectsArguments(t *testing.T) {
	t.Parallel()
	if code, _, _ := runCLI("speakers"); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level   config.LogLevel
		enabled slog.Level
		below   slog.Level
	}{
		{config.LogDebug, slog.LevelDebug, slog.LevelDebug - 1},
		{config.LogInfo, slog.LevelInfo, slog.LevelDebug},
		{config.LogWarn, slog.LevelWarn, slog.LevelInfo},
		{config.LogError, slog.LevelError, slog.LevelWarn},
		{"", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tc := range tests {
		t.Run(string(tc.level), func(t *testing.T) {
			t.Parallel()
			l := newLogger(&bytes.Buffer{}, tc.level)
			ctx := context.Background()
			if !l.Enabled(ctx, tc.enabled) {
				t.Errorf("level %v should be enabled", tc.enabled)
			}
			if l.Enabled(ctx, tc.below) {
				t.Errorf("level %v should be disabled", tc.below)
			}
		})
	}
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:9464"

	var buf bytes.Buffer
	printStartupSummary(&buf, &cfg)
	out := buf.String()
	for _, want := range []string{"localhost:25639", "TEAMSPEAK/SPEAKING", "(disabled)", "127.0.0.1:9464"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
