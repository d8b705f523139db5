package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/workpact/workpact/internal/idgen"
)

// MemoryGateway is an in-memory gateway for development and tests.
// It deduplicates on the idempotency key the way a real gateway would.
type MemoryGateway struct {
	mu      sync.Mutex
	byKey   map[string]*Refund // idempotency key -> refund
	FailAll bool               // when set, every new refund fails
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{byKey: make(map[string]*Refund)}
}

// RefundPayment records a refund, returning the previously recorded one
// if the idempotency key has been seen before.
func (g *MemoryGateway) RefundPayment(ctx context.Context, gatewayTransactionID string, amountMinor int64, idempotencyKey string) (*Refund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.byKey[idempotencyKey]; ok {
		cp := *r
		return &cp, nil
	}

	if g.FailAll {
		return nil, fmt.Errorf("%w: simulated failure", ErrRefundFailed)
	}

	r := &Refund{
		GatewayRefundID: idgen.WithPrefix("re_"),
		AmountMinor:     amountMinor,
	}
	g.byKey[idempotencyKey] = r

	cp := *r
	return &cp, nil
}

// RefundCount returns how many distinct refunds have been issued.
func (g *MemoryGateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byKey)
}

var _ Gateway = (*MemoryGateway)(nil)
