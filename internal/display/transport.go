package display

import (
	"context"
	"fmt"

	"github.com/MrWong99/tsoled/internal/resilience"
)

// Transport pushes a text to the display. A nil error means the display
// service accepted it. Implementations bound each call with their own timeout.
type Transport interface {
	SetDisplayText(ctx context.Context, text string) error
}

// TransportFunc adapts a function to [Transport].
type TransportFunc func(ctx context.Context, text string) error

// SetDisplayText calls f.
func (f TransportFunc) SetDisplayText(ctx context.Context, text string) error {
	return f(ctx, text)
}

// BreakerTransport short-circuits pushes while the display service keeps
// failing. A rejected push surfaces as an error wrapping
// [resilience.ErrCircuitOpen] and counts as undelivered like any other failure.
type BreakerTransport struct {
	next    Transport
	breaker *resilience.CircuitBreaker
}

// Compile-time interface assertion.
var _ Transport = (*BreakerTransport)(nil)

// NewBreakerTransport wraps next with breaker.
func NewBreakerTransport(next Transport, breaker *resilience.CircuitBreaker) *BreakerTransport {
	return &BreakerTransport{next: next, breaker: breaker}
}

// SetDisplayText forwards to the wrapped transport unless the breaker is open.
func (t *BreakerTransport) SetDisplayText(ctx context.Context, text string) error {
	err := t.breaker.Execute(func() error {
		return t.next.SetDisplayText(ctx, text)
	})
	if err != nil {
		return fmt.Errorf("display: push: %w", err)
	}
	return nil
}

// State exposes the breaker state for health reporting.
func (t *BreakerTransport) State() resilience.State {
	return t.breaker.State()
}
