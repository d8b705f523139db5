package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/workpact/workpact/internal/balances"
	"github.com/workpact/workpact/internal/metrics"
	"github.com/workpact/workpact/internal/retry"
	"github.com/workpact/workpact/internal/traces"
)

// execute applies a computed distribution. The gateway refund (if any)
// runs first with a bounded timeout; then balance credits, the
// distribution row, the status transition, and the dispute resolution
// commit as one failure-atomic store call.
//
// On any failure the record keeps its pre-attempt status. A refund that
// reached the gateway before a failed commit is safe to retry: the
// idempotency key is derived from the record, so the gateway returns
// the original refund instead of issuing a second one.
//
// Caller holds the record lock.
func (s *Service) execute(ctx context.Context, rec *Record, dist *Distribution, dsp *Dispute, finalStatus Status, approvedBy, trigger string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.settle",
		traces.EscrowID(rec.ID),
		traces.EngagementID(rec.EngagementID),
		traces.Amount(rec.GrossAmount),
		traces.Trigger(trigger),
	)
	defer span.End()

	if !canTransition(rec.Status, finalStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, finalStatus)
	}

	if dist.RefundAmount > 0 {
		if err := s.refund(ctx, rec, dist.RefundAmount); err != nil {
			metrics.SettlementFailuresTotal.Inc()
			s.logger.Error("refund failed, record left unchanged",
				"escrowId", rec.ID, "amount", dist.RefundAmount, "error", err)
			return err
		}
	}

	now := time.Now()
	updated := *rec
	expectedVersion := updated.Version
	updated.Status = finalStatus
	updated.ReleasedAt = &now
	updated.ReleaseApprovedBy = approvedBy
	updated.UpdatedAt = now

	st := &Settlement{
		Record:          &updated,
		ExpectedVersion: expectedVersion,
		Distribution:    dist,
		Credits:         s.creditsFor(rec, dist),
		Dispute:         dsp,
	}

	if err := s.store.ApplySettlement(ctx, st); err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.VersionConflictsTotal.Inc()
			return err
		}
		metrics.SettlementFailuresTotal.Inc()
		s.logger.Error("settlement commit failed, record left unchanged",
			"escrowId", rec.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	if finalStatus == StatusReleased {
		metrics.EscrowReleasedTotal.WithLabelValues(trigger).Inc()
		s.emitter.EmitEscrowReleased(rec.ID, rec.EngagementID, trigger,
			dist.ProfessionalAmount, dist.FirmPoolAmount, dist.PlatformAmount)
	}
	if dist.RefundAmount > 0 {
		metrics.EscrowRefundedTotal.Inc()
		s.emitter.EmitEscrowRefunded(rec.ID, rec.EngagementID, dist.RefundAmount, string(finalStatus))
	}

	s.logger.Info("escrow settled",
		"escrowId", rec.ID,
		"engagementId", rec.EngagementID,
		"status", finalStatus,
		"trigger", trigger,
		"platform", dist.PlatformAmount,
		"professional", dist.ProfessionalAmount,
		"firmPool", dist.FirmPoolAmount,
		"refund", dist.RefundAmount,
	)
	return nil
}

// refund sends the refund through the gateway with bounded timeout and
// backoff. The idempotency key is per record: at most one logical
// refund ever exists for an escrow, so concurrent instances collapse to
// a single gateway refund.
func (s *Service) refund(ctx context.Context, rec *Record, amount int64) error {
	refundCtx, cancel := context.WithTimeout(ctx, s.settings.RefundTimeout)
	defer cancel()

	idempotencyKey := "rfd_" + rec.ID
	err := retry.Do(refundCtx, 3, 500*time.Millisecond, func() error {
		_, err := s.gateway.RefundPayment(refundCtx, rec.GatewayTransactionID, amount, idempotencyKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: gateway refund: %v", ErrSettlementFailed, err)
	}
	return nil
}

// creditsFor builds the balance credits for a distribution, skipping
// zero legs.
func (s *Service) creditsFor(rec *Record, dist *Distribution) []balances.Credit {
	desc := "settlement " + dist.Basis
	var credits []balances.Credit
	if dist.ProfessionalAmount > 0 {
		credits = append(credits, balances.Credit{
			PayeeID:     rec.ProfessionalID,
			Kind:        balances.KindProfessional,
			AmountMinor: dist.ProfessionalAmount,
			Reference:   rec.ID,
			Description: desc,
		})
	}
	if dist.FirmPoolAmount > 0 {
		credits = append(credits, balances.Credit{
			PayeeID:     rec.FirmID,
			Kind:        balances.KindFirmPool,
			AmountMinor: dist.FirmPoolAmount,
			Reference:   rec.ID,
			Description: desc,
		})
	}
	if dist.PlatformAmount > 0 {
		credits = append(credits, balances.Credit{
			PayeeID:     balances.PlatformPayeeID,
			Kind:        balances.KindPlatform,
			AmountMinor: dist.PlatformAmount,
			Reference:   rec.ID,
			Description: "platform fee",
		})
	}
	return credits
}
