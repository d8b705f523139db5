package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/workpact/workpact/internal/idgen"
	"github.com/workpact/workpact/internal/metrics"
)

// OpenDispute freezes a pending release. The dispute insert and the
// ESCROW_DISPUTED transition commit as one transactional unit: both
// succeed or neither does.
func (s *Service) OpenDispute(ctx context.Context, recordID, raisedBy string, evidenceRefs []string) (*Dispute, error) {
	unlock := s.lockRecord(recordID)
	defer unlock()

	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if rec.IsTerminal() {
		return nil, fmt.Errorf("%w: record %s is %s", ErrIllegalTransition, rec.ID, rec.Status)
	}
	if rec.Status != StatusPendingRelease {
		return nil, fmt.Errorf("%w: disputes require a completed engagement, record %s is %s", ErrInvalidState, rec.ID, rec.Status)
	}

	now := time.Now()
	d := &Dispute{
		ID:             idgen.WithPrefix("dsp_"),
		EscrowRecordID: rec.ID,
		RaisedBy:       raisedBy,
		EvidenceRefs:   evidenceRefs,
		Status:         DisputeOpen,
		CreatedAt:      now,
	}

	expectedVersion := rec.Version
	rec.Status = StatusDisputed
	rec.UpdatedAt = now
	// autoReleaseAt is left in place; it is only consulted while the
	// record is PENDING_RELEASE, so the dispute freezes the timer.

	if err := s.store.CreateDisputeAndTransition(ctx, d, rec, expectedVersion); err != nil {
		return nil, err
	}

	metrics.DisputesOpenedTotal.Inc()
	s.emitter.EmitDisputeOpened(d.ID, rec.ID, raisedBy)
	s.logger.Info("dispute opened", "disputeId", d.ID, "escrowId", rec.ID, "raisedBy", raisedBy)
	return d, nil
}

// ResolveDispute converts an arbitration decision into a settlement.
// Idempotent: a second call for the same dispute fails with
// ErrAlreadyResolved and changes no balances.
func (s *Service) ResolveDispute(ctx context.Context, disputeID string, resolution Resolution, refundPercent int, resolvedBy string) (*Distribution, error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status == DisputeResolved {
		return nil, fmt.Errorf("%w: dispute %s", ErrAlreadyResolved, d.ID)
	}

	switch resolution {
	case ResolutionFavorClient, ResolutionFavorProfessional:
		refundPercent = 0
	case ResolutionSplit:
		if refundPercent < 0 || refundPercent > 100 {
			return nil, fmt.Errorf("%w: refund percent must be 0-100, got %d", ErrInvalidState, refundPercent)
		}
	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidState, resolution)
	}

	unlock := s.lockRecord(d.EscrowRecordID)
	defer unlock()

	rec, err := s.store.Get(ctx, d.EscrowRecordID)
	if err != nil {
		return nil, err
	}
	if rec.IsTerminal() {
		// The dispute row lags the record; treat as already handled.
		return nil, fmt.Errorf("%w: dispute %s", ErrAlreadyResolved, d.ID)
	}
	if rec.Status != StatusDisputed {
		return nil, fmt.Errorf("%w: record %s is %s", ErrInvalidState, rec.ID, rec.Status)
	}

	outcome := &Outcome{Resolution: resolution, RefundPercent: refundPercent}
	dist, err := ComputeDistribution(rec, s.commissionFor(rec.MemberRole), outcome)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	d.Status = DisputeResolved
	d.Resolution = resolution
	d.RefundPercent = refundPercent
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &now

	if err := s.execute(ctx, rec, dist, d, dist.FinalStatus(), resolvedBy, "arbitration"); err != nil {
		return nil, err
	}

	metrics.DisputesResolvedTotal.WithLabelValues(string(resolution)).Inc()
	s.emitter.EmitDisputeResolved(d.ID, rec.ID, string(resolution), refundPercent)
	return dist, nil
}
