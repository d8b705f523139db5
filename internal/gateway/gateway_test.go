package gateway

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryGateway_Refund(t *testing.T) {
	g := NewMemoryGateway()

	r, err := g.RefundPayment(context.Background(), "pi_123", 4000, "dst_abc")
	if err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if r.AmountMinor != 4000 {
		t.Errorf("amount = %d, want 4000", r.AmountMinor)
	}
	if r.GatewayRefundID == "" {
		t.Error("expected a refund ID")
	}
}

func TestMemoryGateway_IdempotencyKeyDedupes(t *testing.T) {
	g := NewMemoryGateway()

	first, err := g.RefundPayment(context.Background(), "pi_123", 4000, "dst_abc")
	if err != nil {
		t.Fatalf("first refund: %v", err)
	}
	second, err := g.RefundPayment(context.Background(), "pi_123", 4000, "dst_abc")
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}

	if first.GatewayRefundID != second.GatewayRefundID {
		t.Errorf("retry created a new refund: %s vs %s", first.GatewayRefundID, second.GatewayRefundID)
	}
	if g.RefundCount() != 1 {
		t.Errorf("refund count = %d, want 1", g.RefundCount())
	}
}

func TestMemoryGateway_FailAll(t *testing.T) {
	g := NewMemoryGateway()
	g.FailAll = true

	_, err := g.RefundPayment(context.Background(), "pi_123", 4000, "dst_abc")
	if !errors.Is(err, ErrRefundFailed) {
		t.Errorf("err = %v, want ErrRefundFailed", err)
	}
}

func TestMemoryGateway_ContextCancelled(t *testing.T) {
	g := NewMemoryGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.RefundPayment(ctx, "pi_123", 4000, "dst_abc"); err == nil {
		t.Error("expected error on cancelled context")
	}
}
