// Command tsoled shows who is talking in TeamSpeak on the OLED screen of a
// SteelSeries device.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/tsoled/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "tsoled: %v\n", err)
		return 1
	}
	return 0
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         tsoled — startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Version", version)
	printRow(w, "Query", cfg.Query.Addr())
	printRow(w, "Command", cfg.Query.Command)
	printRow(w, "Display", cfg.Display.Game+"/"+cfg.Display.Event)
	printRow(w, "Poll/debounce", cfg.Tracking.PollInterval.String()+" / "+cfg.Tracking.Debounce.String())
	printRow(w, "Max speakers", limitString(cfg.Display.MaxSpeakers))
	switch r := cfg.Reconnect; {
	case !r.Enabled():
		printRow(w, "Reconnect", "(disabled)")
	case r.MaxRetries < 0:
		printRow(w, "Reconnect", "unlimited")
	default:
		printRow(w, "Reconnect", fmt.Sprintf("%d retries", r.MaxRetries))
	}
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s : %-19s ║\n", label, value)
}

func limitString(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
