package escrow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/workpact/workpact/internal/balances"
	"github.com/workpact/workpact/internal/events"
	"github.com/workpact/workpact/internal/gateway"
)

type testEnv struct {
	svc   *Service
	store *MemoryStore
	bal   *balances.MemoryStore
	gw    *gateway.MemoryGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bal := balances.NewMemoryStore()
	store := NewMemoryStore(bal)
	gw := gateway.NewMemoryGateway()
	svc := NewService(store, gw, events.NewEmitter(nil), Settings{
		IndividualFeePercent:     10,
		FirmFeePercent:           15,
		ReleaseWindow:            7 * 24 * time.Hour,
		RefundTimeout:            time.Second,
		CommissionRules:          map[string]int{"lead": 70, "associate": 30},
		DefaultCommissionPercent: 50,
	}, slog.Default())
	return &testEnv{svc: svc, store: store, bal: bal, gw: gw}
}

func (e *testEnv) capture(t *testing.T, req CaptureRequest) *Record {
	t.Helper()
	rec, err := e.svc.Capture(context.Background(), req)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return rec
}

// pendingRelease captures and completes an engagement with the release
// timer already elapsed.
func (e *testEnv) pendingRelease(t *testing.T, req CaptureRequest) *Record {
	t.Helper()
	e.capture(t, req)
	rec, err := e.svc.Complete(context.Background(), req.EngagementID, time.Now().Add(-8*24*time.Hour))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return rec
}

func individualCapture(engagementID string) CaptureRequest {
	return CaptureRequest{
		EngagementID:         engagementID,
		ClientID:             "cli_1",
		ProfessionalID:       "pro_1",
		GrossAmount:          10000,
		GatewayTransactionID: "pi_" + engagementID,
	}
}

func TestCapture_CreatesHeldRecord(t *testing.T) {
	env := newTestEnv(t)

	rec := env.capture(t, individualCapture("eng_1"))

	if rec.Status != StatusHeld {
		t.Errorf("status = %s, want %s", rec.Status, StatusHeld)
	}
	if rec.PlatformFeePercent != 10 {
		t.Errorf("fee = %d, want 10 (individual snapshot)", rec.PlatformFeePercent)
	}
	if rec.Version != 1 {
		t.Errorf("version = %d, want 1", rec.Version)
	}
}

func TestCapture_FirmFeeSnapshot(t *testing.T) {
	env := newTestEnv(t)

	rec := env.capture(t, CaptureRequest{
		EngagementID:         "eng_1",
		ClientID:             "cli_1",
		ProfessionalID:       "pro_1",
		FirmID:               "firm_1",
		MemberRole:           "associate",
		GrossAmount:          10000,
		GatewayTransactionID: "pi_1",
	})

	if rec.PlatformFeePercent != 15 {
		t.Errorf("fee = %d, want 15 (firm snapshot)", rec.PlatformFeePercent)
	}
}

func TestCapture_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)

	for _, gross := range []int64{0, -100} {
		req := individualCapture("eng_1")
		req.GrossAmount = gross
		if _, err := env.svc.Capture(context.Background(), req); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("gross %d: err = %v, want ErrInvalidAmount", gross, err)
		}
	}
}

func TestCapture_DuplicateEngagement(t *testing.T) {
	env := newTestEnv(t)
	env.capture(t, individualCapture("eng_1"))

	_, err := env.svc.Capture(context.Background(), individualCapture("eng_1"))
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestCapture_ReactivatesWaivedEngagement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	waived, err := env.svc.MarkNotRequired(ctx, "eng_1", "cli_1", "pro_1")
	if err != nil {
		t.Fatalf("MarkNotRequired: %v", err)
	}
	if waived.Status != StatusNotRequired {
		t.Fatalf("status = %s, want %s", waived.Status, StatusNotRequired)
	}

	rec, err := env.svc.Capture(ctx, individualCapture("eng_1"))
	if err != nil {
		t.Fatalf("Capture after waive: %v", err)
	}
	if rec.Status != StatusHeld {
		t.Errorf("status = %s, want %s", rec.Status, StatusHeld)
	}
	if rec.ID != waived.ID {
		t.Errorf("capture created a second record for the engagement")
	}
}

func TestComplete_StartsReleaseTimer(t *testing.T) {
	env := newTestEnv(t)
	env.capture(t, individualCapture("eng_1"))

	completedAt := time.Now()
	rec, err := env.svc.Complete(context.Background(), "eng_1", completedAt)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if rec.Status != StatusPendingRelease {
		t.Errorf("status = %s, want %s", rec.Status, StatusPendingRelease)
	}
	want := completedAt.Add(7 * 24 * time.Hour)
	if rec.AutoReleaseAt == nil || !rec.AutoReleaseAt.Equal(want) {
		t.Errorf("autoReleaseAt = %v, want %v", rec.AutoReleaseAt, want)
	}
}

func TestComplete_RequiresHeld(t *testing.T) {
	env := newTestEnv(t)
	env.pendingRelease(t, individualCapture("eng_1"))

	_, err := env.svc.Complete(context.Background(), "eng_1", time.Now())
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("err = %v, want ErrIllegalTransition", err)
	}
}

func TestForceRelease_SettlesAndCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.pendingRelease(t, individualCapture("eng_1"))

	released, err := env.svc.ForceRelease(ctx, rec.ID, "admin_1")
	if err != nil {
		t.Fatalf("ForceRelease: %v", err)
	}

	if released.Status != StatusReleased {
		t.Errorf("status = %s, want %s", released.Status, StatusReleased)
	}
	if released.ReleaseApprovedBy != "admin_1" {
		t.Errorf("approvedBy = %s, want admin_1", released.ReleaseApprovedBy)
	}
	if released.ReleasedAt == nil {
		t.Error("releasedAt not set")
	}

	dist, err := env.svc.GetDistribution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetDistribution: %v", err)
	}
	if dist.ProfessionalAmount != 9000 || dist.PlatformAmount != 1000 {
		t.Errorf("distribution = %+v, want 9000/1000", dist)
	}

	bal, _ := env.bal.GetBalance(ctx, "pro_1", balances.KindProfessional)
	if bal.AmountMinor != 9000 {
		t.Errorf("professional balance = %d, want 9000", bal.AmountMinor)
	}
	platform, _ := env.bal.GetBalance(ctx, balances.PlatformPayeeID, balances.KindPlatform)
	if platform.AmountMinor != 1000 {
		t.Errorf("platform balance = %d, want 1000", platform.AmountMinor)
	}
}

func TestForceRelease_RequiresPendingRelease(t *testing.T) {
	env := newTestEnv(t)
	rec := env.capture(t, individualCapture("eng_1"))

	_, err := env.svc.ForceRelease(context.Background(), rec.ID, "admin_1")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("held record: err = %v, want ErrIllegalTransition", err)
	}
}

func TestForceRelease_BlockedByOpenDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.pendingRelease(t, individualCapture("eng_1"))

	if _, err := env.svc.OpenDispute(ctx, rec.ID, "cli_1", nil); err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}

	_, err := env.svc.ForceRelease(ctx, rec.ID, "admin_1")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestTerminalImmutability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.pendingRelease(t, individualCapture("eng_1"))

	if _, err := env.svc.ForceRelease(ctx, rec.ID, "admin_1"); err != nil {
		t.Fatalf("ForceRelease: %v", err)
	}

	if _, err := env.svc.ForceRelease(ctx, rec.ID, "admin_2"); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("second release: err = %v, want ErrIllegalTransition", err)
	}
	if _, err := env.svc.Complete(ctx, "eng_1", time.Now()); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("complete after release: err = %v, want ErrIllegalTransition", err)
	}
	if _, err := env.svc.OpenDispute(ctx, rec.ID, "cli_1", nil); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("dispute after release: err = %v, want ErrIllegalTransition", err)
	}
}

func TestNoDoubleRelease_ConcurrentTriggers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.pendingRelease(t, individualCapture("eng_1"))

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = env.svc.ForceRelease(ctx, rec.ID, "admin_1")
			} else {
				errs[i] = env.svc.AutoRelease(ctx, rec)
			}
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("loser got unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	bal, _ := env.bal.GetBalance(ctx, "pro_1", balances.KindProfessional)
	if bal.AmountMinor != 9000 {
		t.Errorf("professional balance = %d, want 9000 (single credit)", bal.AmountMinor)
	}
}

func TestAutoRelease_NotDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.capture(t, individualCapture("eng_1"))
	rec, err := env.svc.Complete(ctx, "eng_1", time.Now())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if err := env.svc.AutoRelease(ctx, rec); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict for not-yet-due record", err)
	}
}

func TestUpdateVersioned_StaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.capture(t, individualCapture("eng_1"))

	stale := *rec
	stale.Status = StatusPendingRelease
	if err := env.store.UpdateVersioned(ctx, &stale, rec.Version); err != nil {
		t.Fatalf("first update: %v", err)
	}

	again := *rec
	again.Status = StatusPendingRelease
	if err := env.store.UpdateVersioned(ctx, &again, rec.Version); !errors.Is(err, ErrConflict) {
		t.Errorf("stale update: err = %v, want ErrConflict", err)
	}
}
