package gateway

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeGateway issues refunds through the Stripe API. The captured
// payment's gateway transaction ID is the Stripe PaymentIntent ID.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a gateway backed by the Stripe API.
func NewStripeGateway(apiKey string) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api}
}

// RefundPayment issues a partial or full refund against a PaymentIntent.
// Stripe deduplicates on the idempotency key, so a retried call returns
// the original refund instead of creating a new one.
func (g *StripeGateway) RefundPayment(ctx context.Context, gatewayTransactionID string, amountMinor int64, idempotencyKey string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(gatewayTransactionID),
		Amount:        stripe.Int64(amountMinor),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, fmt.Errorf("%w: refund %s status %s", ErrRefundFailed, r.ID, r.Status)
	}

	return &Refund{GatewayRefundID: r.ID, AmountMinor: r.Amount}, nil
}

var _ Gateway = (*StripeGateway)(nil)
