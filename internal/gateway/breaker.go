package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/workpact/workpact/internal/circuitbreaker"
)

// breakerKey identifies the refund path in the circuit breaker.
const breakerKey = "gateway_refund"

// BreakerGateway wraps a Gateway with a circuit breaker. When the
// underlying gateway fails repeatedly, further refund attempts are
// rejected immediately instead of piling timeouts onto a provider that
// is already down. Rejected calls return ErrRefundFailed, so callers
// handle an open circuit the same way as any other gateway failure.
type BreakerGateway struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
}

// NewBreakerGateway wraps inner with a circuit breaker.
func NewBreakerGateway(inner Gateway, breaker *circuitbreaker.Breaker, logger *slog.Logger) *BreakerGateway {
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		logger.Warn("gateway circuit state changed",
			"key", key, "from", from.String(), "to", to.String())
	})
	return &BreakerGateway{inner: inner, breaker: breaker}
}

// RefundPayment forwards to the inner gateway unless the circuit is open.
func (g *BreakerGateway) RefundPayment(ctx context.Context, gatewayTransactionID string, amountMinor int64, idempotencyKey string) (*Refund, error) {
	if !g.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("%w: circuit open", ErrRefundFailed)
	}

	r, err := g.inner.RefundPayment(ctx, gatewayTransactionID, amountMinor, idempotencyKey)
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return nil, err
	}
	g.breaker.RecordSuccess(breakerKey)
	return r, nil
}

var _ Gateway = (*BreakerGateway)(nil)
