package escrow

import (
	"fmt"
	"time"

	"github.com/workpact/workpact/internal/idgen"
)

// Resolution is the closed set of arbitration outcomes.
type Resolution string

const (
	ResolutionFavorClient       Resolution = "FAVOR_CLIENT"
	ResolutionFavorProfessional Resolution = "FAVOR_PROFESSIONAL"
	ResolutionSplit             Resolution = "SPLIT"
)

// Outcome is a resolved dispute decision fed to the calculator.
// RefundPercent is meaningful only for SPLIT.
type Outcome struct {
	Resolution    Resolution
	RefundPercent int
}

// Distribution basis values.
const (
	BasisRelease = "release"
	BasisRefund  = "refund"
	BasisSplit   = "split"
)

// ComputeDistribution computes the settlement split for a record. It is
// pure: no I/O, no clock reads beyond the created-at stamp.
//
// All division is integer floor division on minor currency units. Any
// remainder from the platform fee is assigned to the platform; any
// remainder from the member commission stays with the firm pool. This
// is a deliberate tie-break, not an approximation: the four legs always
// sum to the gross amount exactly.
//
// outcome == nil means a plain full release (no dispute). A resolved
// dispute passes its outcome; FAVOR_PROFESSIONAL is identical to a full
// release, FAVOR_CLIENT refunds everything, and SPLIT refunds
// floor(gross*p/100) and settles the remainder as a release.
func ComputeDistribution(rec *Record, commissionPercent int, outcome *Outcome) (*Distribution, error) {
	if rec.GrossAmount <= 0 {
		return nil, fmt.Errorf("%w: gross amount %d", ErrInvalidAmount, rec.GrossAmount)
	}
	if rec.PlatformFeePercent < 0 || rec.PlatformFeePercent > 100 {
		return nil, fmt.Errorf("%w: fee percent %d", ErrInvalidAmount, rec.PlatformFeePercent)
	}
	if commissionPercent < 0 || commissionPercent > 100 {
		return nil, fmt.Errorf("%w: commission percent %d", ErrInvalidAmount, commissionPercent)
	}

	d := &Distribution{
		ID:             idgen.WithPrefix("stl_"),
		EscrowRecordID: rec.ID,
		Basis:          BasisRelease,
		CreatedAt:      time.Now(),
	}

	switch {
	case outcome == nil || outcome.Resolution == ResolutionFavorProfessional:
		d.PlatformAmount, d.ProfessionalAmount, d.FirmPoolAmount = splitRelease(
			rec.GrossAmount, rec.PlatformFeePercent, commissionPercent, rec.FirmID != "")

	case outcome.Resolution == ResolutionFavorClient:
		d.RefundAmount = rec.GrossAmount
		d.Basis = BasisRefund

	case outcome.Resolution == ResolutionSplit:
		if outcome.RefundPercent < 0 || outcome.RefundPercent > 100 {
			return nil, fmt.Errorf("%w: refund percent %d", ErrInvalidState, outcome.RefundPercent)
		}
		d.RefundAmount = rec.GrossAmount * int64(outcome.RefundPercent) / 100
		d.Basis = BasisSplit
		// The kept remainder settles as if it were the gross amount.
		// The refund leg carries no fee of its own.
		remaining := rec.GrossAmount - d.RefundAmount
		if remaining > 0 {
			d.PlatformAmount, d.ProfessionalAmount, d.FirmPoolAmount = splitRelease(
				remaining, rec.PlatformFeePercent, commissionPercent, rec.FirmID != "")
		}

	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidState, outcome.Resolution)
	}

	if d.Total() != rec.GrossAmount {
		// Unreachable by construction; guard against future edits.
		return nil, fmt.Errorf("%w: distribution total %d != gross %d", ErrSettlementFailed, d.Total(), rec.GrossAmount)
	}
	return d, nil
}

// splitRelease divides a released amount among platform, professional,
// and firm pool. Floor division; the platform absorbs the fee remainder
// and the firm pool absorbs the commission remainder.
func splitRelease(amount int64, feePercent, commissionPercent int, hasFirm bool) (platform, professional, firmPool int64) {
	platform = amount * int64(feePercent) / 100
	pool := amount - platform

	if !hasFirm {
		return platform, pool, 0
	}
	professional = pool * int64(commissionPercent) / 100
	firmPool = pool - professional
	return platform, professional, firmPool
}

// FinalStatus returns the terminal status a distribution drives the
// record to: REFUNDED when nothing settled to payees, else RELEASED.
func (d *Distribution) FinalStatus() Status {
	if d.ProfessionalAmount == 0 && d.FirmPoolAmount == 0 && d.PlatformAmount == 0 && d.RefundAmount > 0 {
		return StatusRefunded
	}
	return StatusReleased
}
