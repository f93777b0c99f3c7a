// Package app wires the bridge's subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the display transport,
// the speaker tracker, the composer and the poll driver from the config and
// binds the HTTP listener; Run connects to the voice client and polls until
// the context ends; Shutdown tears down what is left.
//
// For testing, inject doubles via functional options (WithDialer,
// WithTransport, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tsoled/internal/config"
	"github.com/MrWong99/tsoled/internal/display"
	"github.com/MrWong99/tsoled/internal/health"
	"github.com/MrWong99/tsoled/internal/observe"
	"github.com/MrWong99/tsoled/internal/poller"
	"github.com/MrWong99/tsoled/internal/resilience"
	"github.com/MrWong99/tsoled/internal/speaker"
	"github.com/MrWong99/tsoled/pkg/clientquery"
	"github.com/MrWong99/tsoled/pkg/gamesense"
)

// Bounds for stopping the bridge.
const (
	serverShutdownTimeout = 5 * time.Second
	minQueryStaleness     = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	dial      Dialer
	transport display.Transport
	breaker   *display.BreakerTransport
	metrics   *observe.Metrics
	registry  *prometheus.Registry
	now       func() time.Time

	driver *poller.Driver
	conn   *reconnector

	ln     net.Listener
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer replaces the query connection factory.
func WithDialer(d Dialer) Option {
	return func(a *App) { a.dial = d }
}

// WithTransport replaces the GameSense client. The transport is still
// wrapped in the display circuit breaker.
func WithTransport(t display.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry serves /metrics from reg instead of the default Prometheus
// gatherer.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithClock replaces the time source for debounce and health decisions.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App from cfg. When cfg.Server.ListenAddr is set the HTTP
// listener is bound here, so address conflicts surface before polling starts.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.dial == nil {
		if cfg.Query.APIKey == "" {
			return nil, fmt.Errorf("app: query.api_key is required (or set %s)", config.EnvAPIKey)
		}
		a.dial = QueryDialer(cfg.Query)
	}
	a.conn = newReconnector(a.dial, cfg.Reconnect)

	// ── 1. Display transport ─────────────────────────────────────────────
	if a.transport == nil {
		client, err := DisplayClient(cfg.Display)
		if err != nil {
			return nil, fmt.Errorf("app: init display: %w", err)
		}
		slog.Info("using GameSense engine", "url", client.BaseURL())
		a.transport = client
	}
	a.breaker = display.NewBreakerTransport(a.transport, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "display",
		MaxFailures:  cfg.Display.BreakerMaxFailures,
		ResetTimeout: cfg.Display.BreakerReset,
		Now:          a.now,
	}))

	// ── 2. Tracker, composer, driver ─────────────────────────────────────
	tracker := speaker.NewTracker(speaker.TrackerConfig{
		MaxNickLength: cfg.Display.MaxNickLength,
		Debounce:      cfg.Tracking.Debounce,
	})
	composer := display.NewComposer(display.ComposerConfig{
		MaxDisplayed:     cfg.Display.MaxSpeakers,
		IdleText:         cfg.Display.IdleText,
		RetryUndelivered: cfg.Display.RetryUndelivered,
	})
	a.driver = poller.New(poller.Config{
		Command:      cfg.Query.Command,
		PollInterval: cfg.Tracking.PollInterval,
	}, tracker, composer, a.breaker,
		poller.WithClock(a.now),
		poller.WithMetrics(a.metrics),
	)

	// ── 3. Health and metrics endpoint ───────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		if err := a.initServer(); err != nil {
			return nil, fmt.Errorf("app: init server: %w", err)
		}
	}

	return a, nil
}

// DisplayClient builds the GameSense client for cfg, discovering the engine
// address from coreProps.json when none is configured.
func DisplayClient(cfg config.DisplayConfig) (*gamesense.Client, error) {
	addr := cfg.Address
	if addr == "" {
		path := cfg.CorePropsPath
		if path == "" {
			path = gamesense.DefaultCorePropsPath()
		}
		var err error
		if addr, err = gamesense.DiscoverAddress(path); err != nil {
			return nil, err
		}
	}
	return gamesense.New(addr,
		gamesense.WithGame(cfg.Game),
		gamesense.WithEvent(cfg.Event),
		gamesense.WithTimeout(cfg.Timeout),
	), nil
}

func (a *App) initServer() error {
	staleAfter := max(10*a.cfg.Tracking.PollInterval, minQueryStaleness)
	checks := health.New(
		health.Fresh("query", a.driver.LastPoll, staleAfter, a.now),
		health.Checker{Name: "display", Check: func(context.Context) error {
			if a.driver.LastPushFailed() {
				return fmt.Errorf("last push failed (breaker %s)", a.breaker.State())
			}
			return nil
		}},
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("GET /metrics", observe.Handler(a.registry))

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.server = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		err := errors.Join(a.server.Close(), a.ln.Close())
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	return nil
}

// Addr returns the bound HTTP address, or nil when the server is disabled.
func (a *App) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Run polls the voice client until ctx is cancelled or the query connection
// is lost for good, serving HTTP alongside. On return the display shows the
// idle text (best effort). Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return a.poll(gctx)
	})

	if a.server != nil {
		slog.Info("serving health and metrics", "addr", a.ln.Addr().String())
		g.Go(func() error {
			if err := a.server.Serve(a.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer done()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// poll runs driver sessions, reconnecting per policy, and clears the display
// when it stops.
func (a *App) poll(ctx context.Context) error {
	defer a.clearDisplay(ctx)

	for sessions := 0; ; sessions++ {
		s, err := a.conn.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: connect query: %w", err)
		}
		if sessions > 0 {
			a.metrics.Reconnects.Add(ctx, 1)
		}
		slog.Info("polling speakers",
			"query", a.cfg.Query.Addr(),
			"interval", a.cfg.Tracking.PollInterval,
		)

		err = a.driver.Run(ctx, s)
		switch {
		case err == nil:
			return nil
		case a.cfg.Reconnect.Enabled() && errors.Is(err, clientquery.ErrConnection):
			slog.Warn("query connection lost", "err", err)
		default:
			return err
		}
	}
}

func (a *App) clearDisplay(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Display.Timeout)
	defer cancel()
	if err := a.driver.Clear(ctx); err != nil {
		slog.Warn("could not reset display", "err", err)
	}
}

// Shutdown tears down remaining subsystems. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
