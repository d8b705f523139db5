// Package gateway abstracts the payment gateway used to issue refunds.
//
// Settled funds never move through the gateway; only refunds back to the
// client's original payment method do. Every refund call carries an
// idempotency key so a retried or concurrently duplicated call cannot
// produce a second refund.
package gateway

import (
	"context"
	"errors"
)

// ErrRefundFailed indicates the gateway rejected or could not complete a refund.
var ErrRefundFailed = errors.New("gateway refund failed")

// Refund is the result of a successful refund call.
type Refund struct {
	// GatewayRefundID is the gateway's identifier for the refund.
	GatewayRefundID string
	// AmountMinor is the refunded amount in minor currency units.
	AmountMinor int64
}

// Gateway issues refunds against previously captured payments.
type Gateway interface {
	// RefundPayment refunds amountMinor of the captured payment identified
	// by gatewayTransactionID. idempotencyKey must be stable across retries
	// of the same logical refund; the gateway deduplicates on it.
	RefundPayment(ctx context.Context, gatewayTransactionID string, amountMinor int64, idempotencyKey string) (*Refund, error)
}
