package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/workpact/workpact/internal/balances"
	"github.com/workpact/workpact/internal/events"
	"github.com/workpact/workpact/internal/gateway"
)

func TestSettlement_GatewayFailureLeavesRecordUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.pendingRelease(t, individualCapture("eng_1"))
	d, _ := env.svc.OpenDispute(ctx, rec.ID, "cli_1", nil)

	env.gw.FailAll = true
	_, err := env.svc.ResolveDispute(ctx, d.ID, ResolutionFavorClient, 0, "admin_1")
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", err)
	}

	fresh, _ := env.svc.Get(ctx, rec.ID)
	if fresh.Status != StatusDisputed {
		t.Errorf("status = %s, want %s (unchanged)", fresh.Status, StatusDisputed)
	}
	if _, err := env.svc.GetDistribution(ctx, rec.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("distribution present after failed settlement: err = %v", err)
	}
	dsp, _ := env.svc.GetDisputeByRecord(ctx, rec.ID)
	if dsp.Status != DisputeOpen {
		t.Errorf("dispute status = %s, want %s", dsp.Status, DisputeOpen)
	}
}

func TestSettlement_RetryAfterGatewayRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.pendingRelease(t, individualCapture("eng_1"))
	d, _ := env.svc.OpenDispute(ctx, rec.ID, "cli_1", nil)

	env.gw.FailAll = true
	if _, err := env.svc.ResolveDispute(ctx, d.ID, ResolutionFavorClient, 0, "admin_1"); !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", err)
	}

	env.gw.FailAll = false
	if _, err := env.svc.ResolveDispute(ctx, d.ID, ResolutionFavorClient, 0, "admin_1"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}

	fresh, _ := env.svc.Get(ctx, rec.ID)
	if fresh.Status != StatusRefunded {
		t.Errorf("status = %s, want %s", fresh.Status, StatusRefunded)
	}
	if env.gw.RefundCount() != 1 {
		t.Errorf("gateway refunds = %d, want 1", env.gw.RefundCount())
	}
}

// commitFailStore fails ApplySettlement a configured number of times,
// simulating a store outage after the refund already reached the gateway.
type commitFailStore struct {
	Store
	failures int
}

func (s *commitFailStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("connection reset")
	}
	return s.Store.ApplySettlement(ctx, st)
}

func TestSettlement_CommitFailureDoesNotDuplicateRefund(t *testing.T) {
	bal := balances.NewMemoryStore()
	mem := NewMemoryStore(bal)
	store := &commitFailStore{Store: mem, failures: 1}
	gw := gateway.NewMemoryGateway()
	svc := NewService(store, gw, events.NewEmitter(nil), Settings{
		IndividualFeePercent:     10,
		FirmFeePercent:           15,
		ReleaseWindow:            7 * 24 * time.Hour,
		RefundTimeout:            time.Second,
		DefaultCommissionPercent: 50,
	}, slog.Default())
	ctx := context.Background()

	if _, err := svc.Capture(ctx, individualCapture("eng_1")); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	rec, err := svc.Complete(ctx, "eng_1", time.Now().Add(-8*24*time.Hour))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	d, err := svc.OpenDispute(ctx, rec.ID, "cli_1", nil)
	if err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}

	// The refund lands at the gateway, then the commit fails.
	if _, err := svc.ResolveDispute(ctx, d.ID, ResolutionFavorClient, 0, "admin_1"); !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", err)
	}
	if gw.RefundCount() != 1 {
		t.Fatalf("gateway refunds = %d, want 1", gw.RefundCount())
	}

	// The retry hits the same idempotency key, so the gateway returns the
	// original refund instead of issuing another.
	if _, err := svc.ResolveDispute(ctx, d.ID, ResolutionFavorClient, 0, "admin_1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if gw.RefundCount() != 1 {
		t.Errorf("gateway refunds = %d, want 1 after retry", gw.RefundCount())
	}

	fresh, _ := svc.Get(ctx, rec.ID)
	if fresh.Status != StatusRefunded {
		t.Errorf("status = %s, want %s", fresh.Status, StatusRefunded)
	}
}

func TestSettlement_NoCreditsOnFullRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.pendingRelease(t, individualCapture("eng_1"))
	d, _ := env.svc.OpenDispute(ctx, rec.ID, "cli_1", nil)

	if _, err := env.svc.ResolveDispute(ctx, d.ID, ResolutionFavorClient, 0, "admin_1"); err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}

	entries, err := env.bal.GetHistory(ctx, "pro_1", nil, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("professional got %d ledger entries on a full refund", len(entries))
	}
	platform, _ := env.bal.GetBalance(ctx, balances.PlatformPayeeID, balances.KindPlatform)
	if platform.AmountMinor != 0 {
		t.Errorf("platform balance = %d, want 0", platform.AmountMinor)
	}
}
