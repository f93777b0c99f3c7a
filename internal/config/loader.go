package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. Secrets and the
// machine-specific engine address rarely belong in a shared config file.
const (
	EnvAPIKey           = "TSOLED_API_KEY"
	EnvGameSenseAddress = "TSOLED_GAMESENSE_ADDRESS"
)

// gameSenseName matches the names GameSense accepts for games and events.
var gameSenseName = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config]. An empty path loads the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return load(nil, os.LookupEnv)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. No environment overrides are applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, func(string) (string, bool) { return "", false })
}

func load(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if r != nil {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	ApplyEnv(&cfg, lookup)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with the values of [EnvAPIKey] and
// [EnvGameSenseAddress] when lookup finds them non-empty.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.Query.APIKey = v
	}
	if v, ok := lookup(EnvGameSenseAddress); ok && v != "" {
		cfg.Display.Address = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Query
	q := cfg.Query
	if q.Host == "" {
		errs = append(errs, errors.New("query.host is required"))
	}
	if q.Port < 1 || q.Port > 65535 {
		errs = append(errs, fmt.Errorf("query.port %d is out of range [1, 65535]", q.Port))
	}
	if q.Command == "" {
		errs = append(errs, errors.New("query.command is required"))
	}
	if q.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("query.timeout %s must be positive", q.Timeout))
	}
	if q.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("query.dial_timeout %s must be positive", q.DialTimeout))
	}

	// Display
	d := cfg.Display
	if !gameSenseName.MatchString(d.Game) {
		errs = append(errs, fmt.Errorf("display.game %q must consist of A-Z, 0-9, _ and -", d.Game))
	}
	if !gameSenseName.MatchString(d.Event) {
		errs = append(errs, fmt.Errorf("display.event %q must consist of A-Z, 0-9, _ and -", d.Event))
	}
	if d.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("display.timeout %s must be positive", d.Timeout))
	}
	if d.MaxSpeakers < 0 {
		errs = append(errs, fmt.Errorf("display.max_speakers %d must not be negative", d.MaxSpeakers))
	}
	if d.MaxNickLength < 0 {
		errs = append(errs, fmt.Errorf("display.max_nick_length %d must not be negative", d.MaxNickLength))
	}
	if d.BreakerMaxFailures < 0 {
		errs = append(errs, fmt.Errorf("display.breaker_max_failures %d must not be negative", d.BreakerMaxFailures))
	}
	if d.BreakerReset < 0 {
		errs = append(errs, fmt.Errorf("display.breaker_reset %s must not be negative", d.BreakerReset))
	}

	// Tracking
	if cfg.Tracking.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("tracking.poll_interval %s must be positive", cfg.Tracking.PollInterval))
	}
	if cfg.Tracking.Debounce < 0 {
		errs = append(errs, fmt.Errorf("tracking.debounce %s must not be negative", cfg.Tracking.Debounce))
	}
	if cfg.Tracking.Debounce > 0 && cfg.Tracking.Debounce < cfg.Tracking.PollInterval {
		slog.Warn("tracking.debounce is shorter than tracking.poll_interval; names may flicker",
			"debounce", cfg.Tracking.Debounce,
			"poll_interval", cfg.Tracking.PollInterval,
		)
	}

	// Reconnect
	r := cfg.Reconnect
	if r.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries %d is invalid; use -1 for unlimited", r.MaxRetries))
	}
	if r.Enabled() {
		if r.Backoff <= 0 {
			errs = append(errs, fmt.Errorf("reconnect.backoff %s must be positive", r.Backoff))
		}
		if r.MaxBackoff < r.Backoff {
			errs = append(errs, fmt.Errorf("reconnect.max_backoff %s is below reconnect.backoff %s", r.MaxBackoff, r.Backoff))
		}
	}

	return errors.Join(errs...)
}
