package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/tsoled/internal/config"
	"github.com/MrWong99/tsoled/internal/poller"
	"github.com/MrWong99/tsoled/pkg/clientquery"
)

// Dialer opens an authenticated query session.
type Dialer func(ctx context.Context) (poller.Session, error)

// QueryDialer returns a [Dialer] that connects to the query interface
// described by cfg and authenticates with its API key.
func QueryDialer(cfg config.QueryConfig) Dialer {
	return func(ctx context.Context) (poller.Session, error) {
		c, err := clientquery.Dial(ctx, cfg.Addr(),
			clientquery.WithTimeout(cfg.Timeout),
			clientquery.WithDialTimeout(cfg.DialTimeout),
		)
		if err != nil {
			return nil, err
		}
		if err := c.Auth(ctx, cfg.APIKey); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}
}

// reconnector dials with exponential backoff according to a
// [config.ReconnectConfig].
type reconnector struct {
	dial       Dialer
	maxRetries int // 0: single attempt, -1: unlimited
	backoff    time.Duration
	maxBackoff time.Duration

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

func newReconnector(dial Dialer, cfg config.ReconnectConfig) *reconnector {
	return &reconnector{
		dial:       dial,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		sleep:      sleepCtx,
	}
}

// Connect dials until a session is established, the retry budget is spent
// or ctx is done. Query-level errors (a rejected API key) are not retried.
func (r *reconnector) Connect(ctx context.Context) (poller.Session, error) {
	s, err := r.dial(ctx)
	if err == nil {
		return s, nil
	}
	if r.maxRetries == 0 || !retryable(err) {
		return nil, err
	}

	currentBackoff := r.backoff
	for attempt := 1; r.maxRetries < 0 || attempt <= r.maxRetries; attempt++ {
		slog.Warn("query connection failed, retrying",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
			"err", err,
		)
		if serr := r.sleep(ctx, currentBackoff); serr != nil {
			return nil, serr
		}

		s, err = r.dial(ctx)
		if err == nil {
			slog.Info("query connection established", "attempt", attempt)
			return s, nil
		}
		if !retryable(err) {
			return nil, err
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}
	return nil, fmt.Errorf("app: query connection failed after %d retries: %w", r.maxRetries, err)
}

func retryable(err error) bool {
	var qerr *clientquery.QueryError
	return !errors.As(err, &qerr) && !errors.Is(err, context.Canceled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
