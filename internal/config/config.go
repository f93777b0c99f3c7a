// Package config provides the configuration schema and loader for tsoled.
//
// A [Config] is loaded once at start-up and passed by value to the
// constructors that need it; nothing reads configuration at run time.
package config

import (
	"net"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Query     QueryConfig     `yaml:"query"`
	Display   DisplayConfig   `yaml:"display"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ServerConfig holds the health/metrics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g. "127.0.0.1:9464"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// QueryConfig describes the voice client's query interface.
type QueryConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// APIKey authenticates the session. Overridden by TSOLED_API_KEY.
	APIKey string `yaml:"api_key"`

	// Command lists clients with their voice flags.
	Command string `yaml:"command"`

	// Timeout bounds every command round trip.
	Timeout time.Duration `yaml:"timeout"`

	// DialTimeout bounds connecting and reading the banner.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Addr returns host:port of the query interface.
func (q QueryConfig) Addr() string {
	return net.JoinHostPort(q.Host, strconv.Itoa(q.Port))
}

// DisplayConfig describes the display service and what is shown on it.
type DisplayConfig struct {
	// Address is the GameSense engine address. When empty it is read from
	// CorePropsPath. Overridden by TSOLED_GAMESENSE_ADDRESS.
	Address string `yaml:"address"`

	// CorePropsPath locates coreProps.json. Empty means the platform default.
	CorePropsPath string `yaml:"core_props_path"`

	Game  string `yaml:"game"`
	Event string `yaml:"event"`

	// Timeout bounds every push.
	Timeout time.Duration `yaml:"timeout"`

	// IdleText is shown while nobody talks. Empty clears the screen.
	IdleText string `yaml:"idle_text"`

	// MaxSpeakers caps the names shown at once; 0 shows all.
	MaxSpeakers int `yaml:"max_speakers"`

	// MaxNickLength truncates nicknames to this many characters; 0 disables.
	MaxNickLength int `yaml:"max_nick_length"`

	// RetryUndelivered re-sends a text whose push failed until one succeeds.
	RetryUndelivered bool `yaml:"retry_undelivered"`

	// BreakerMaxFailures consecutive push failures stop pushes for
	// BreakerReset.
	BreakerMaxFailures int           `yaml:"breaker_max_failures"`
	BreakerReset       time.Duration `yaml:"breaker_reset"`
}

// TrackingConfig tunes the poll loop.
type TrackingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`

	// Debounce keeps a speaker listed this long after they stop talking.
	Debounce time.Duration `yaml:"debounce"`
}

// ReconnectConfig controls re-establishing a lost query connection.
type ReconnectConfig struct {
	// MaxRetries is the number of consecutive failed attempts before giving
	// up. 0 disables reconnecting, -1 retries forever.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the first delay, doubled per failed attempt up to MaxBackoff.
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Enabled reports whether lost connections are re-established.
func (r ReconnectConfig) Enabled() bool {
	return r.MaxRetries != 0
}

// Default returns the configuration used for every field a file leaves out.
func Default() Config {
	return Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Query: QueryConfig{
			Host:        "localhost",
			Port:        25639,
			Command:     "clientlist -voice",
			Timeout:     2 * time.Second,
			DialTimeout: 3 * time.Second,
		},
		Display: DisplayConfig{
			Game:               "TEAMSPEAK",
			Event:              "SPEAKING",
			Timeout:            2 * time.Second,
			MaxSpeakers:        4,
			MaxNickLength:      6,
			RetryUndelivered:   true,
			BreakerMaxFailures: 5,
			BreakerReset:       10 * time.Second,
		},
		Tracking: TrackingConfig{
			PollInterval: 100 * time.Millisecond,
			Debounce:     100 * time.Millisecond,
		},
		Reconnect: ReconnectConfig{
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}
