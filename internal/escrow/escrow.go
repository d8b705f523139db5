// Package escrow holds client funds for commissioned engagements and
// settles them exactly once.
//
// Flow:
//  1. Client payment captured → record created and held
//  2. Engagement completed → release timer starts
//  3. Timer elapses with no dispute → funds released and split
//  4. Dispute opened → timer frozen until arbitration decides
//  5. Admin may force release ahead of the timer
//
// Every mutation is guarded by the record's version: writes are
// conditional on the version the caller read, and a mismatch fails with
// ErrConflict. That is the only concurrency control across instances;
// there are no distributed locks.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workpact/workpact/internal/balances"
	"github.com/workpact/workpact/internal/events"
	"github.com/workpact/workpact/internal/gateway"
	"github.com/workpact/workpact/internal/idgen"
	"github.com/workpact/workpact/internal/metrics"
	"github.com/workpact/workpact/internal/syncutil"
)

var (
	ErrRecordNotFound    = errors.New("escrow record not found")
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("version conflict")
	ErrInvalidState      = errors.New("invalid state for this operation")
	ErrAlreadyResolved   = errors.New("dispute already resolved")
	ErrSettlementFailed  = errors.New("settlement failed")
)

// Status represents the state of an escrow record.
type Status string

const (
	StatusNotRequired    Status = "NOT_REQUIRED"    // billed off-platform, nothing held
	StatusPendingPayment Status = "PENDING_PAYMENT" // client initiated payment
	StatusHeld           Status = "ESCROW_HELD"     // capture confirmed, funds in custody
	StatusPendingRelease Status = "PENDING_RELEASE" // engagement complete, timer running
	StatusDisputed       Status = "ESCROW_DISPUTED" // open dispute, timer frozen
	StatusReleased       Status = "ESCROW_RELEASED" // settled to payees, terminal
	StatusRefunded       Status = "REFUNDED"        // fully refunded to client, terminal
)

// transitions is the legal status graph. Anything not listed fails with
// ErrIllegalTransition.
var transitions = map[Status][]Status{
	StatusNotRequired:    {StatusPendingPayment, StatusHeld},
	StatusPendingPayment: {StatusHeld},
	StatusHeld:           {StatusPendingRelease},
	StatusPendingRelease: {StatusDisputed, StatusReleased},
	StatusDisputed:       {StatusReleased, StatusRefunded},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Record is the durable escrow entry, one per paid engagement.
type Record struct {
	ID                   string     `json:"id"`
	EngagementID         string     `json:"engagementId"`
	ClientID             string     `json:"clientId"`
	ProfessionalID       string     `json:"professionalId"`
	FirmID               string     `json:"firmId,omitempty"`     // empty = solo professional
	MemberRole           string     `json:"memberRole,omitempty"` // firm member role at capture
	GrossAmount          int64      `json:"grossAmount"`          // minor currency units
	PlatformFeePercent   int        `json:"platformFeePercent"`   // snapshot at capture
	GatewayTransactionID string     `json:"gatewayTransactionId,omitempty"`
	Status               Status     `json:"status"`
	AutoReleaseAt        *time.Time `json:"autoReleaseAt,omitempty"`
	ReleasedAt           *time.Time `json:"releasedAt,omitempty"`
	ReleaseApprovedBy    string     `json:"releaseApprovedBy,omitempty"` // empty = automatic
	Version              int64      `json:"version"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the record is in a final state.
// Terminal records are immutable; corrections happen via new
// compensating records, never in-place edits.
func (r *Record) IsTerminal() bool {
	return r.Status == StatusReleased || r.Status == StatusRefunded
}

// Distribution is the computed split of a settled escrow. Immutable once
// persisted; exactly one exists per terminal record.
//
// Invariant: PlatformAmount + ProfessionalAmount + FirmPoolAmount +
// RefundAmount == the record's GrossAmount, exactly.
type Distribution struct {
	ID                 string    `json:"id"`
	EscrowRecordID     string    `json:"escrowRecordId"`
	PlatformAmount     int64     `json:"platformAmount"`
	ProfessionalAmount int64     `json:"professionalAmount"`
	FirmPoolAmount     int64     `json:"firmPoolAmount"`
	RefundAmount       int64     `json:"refundAmount"`
	Basis              string    `json:"basis"` // release, refund, split
	CreatedAt          time.Time `json:"createdAt"`
}

// Total returns the sum of all distribution legs.
func (d *Distribution) Total() int64 {
	return d.PlatformAmount + d.ProfessionalAmount + d.FirmPoolAmount + d.RefundAmount
}

// DisputeStatus is the state of a dispute.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "OPEN"
	DisputeResolved DisputeStatus = "RESOLVED"
)

// Dispute freezes a pending release until arbitration decides. At most
// one open dispute exists per record.
type Dispute struct {
	ID             string        `json:"id"`
	EscrowRecordID string        `json:"escrowRecordId"`
	RaisedBy       string        `json:"raisedBy"`
	EvidenceRefs   []string      `json:"evidenceRefs,omitempty"` // opaque references, storage is external
	Status         DisputeStatus `json:"status"`
	Resolution     Resolution    `json:"resolution,omitempty"`
	RefundPercent  int           `json:"refundPercent,omitempty"`
	ResolvedBy     string        `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Settlement is the failure-atomic unit the executor hands to the store:
// either every part commits or none do.
type Settlement struct {
	Record          *Record // final status, timestamps, approver already set
	ExpectedVersion int64
	Distribution    *Distribution
	Credits         []balances.Credit
	Dispute         *Dispute // non-nil: flip to RESOLVED in the same unit
}

// Store persists escrow data. Mutations that carry an expectedVersion
// must write conditionally on it and return ErrConflict on mismatch.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByEngagement(ctx context.Context, engagementID string) (*Record, error)
	UpdateVersioned(ctx context.Context, rec *Record, expectedVersion int64) error
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// CreateDisputeAndTransition inserts the dispute and moves the record
	// to ESCROW_DISPUTED as one transactional unit.
	CreateDisputeAndTransition(ctx context.Context, d *Dispute, rec *Record, expectedVersion int64) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	GetDisputeByRecord(ctx context.Context, recordID string) (*Dispute, error)

	GetDistribution(ctx context.Context, recordID string) (*Distribution, error)

	// ApplySettlement commits the settlement unit atomically.
	ApplySettlement(ctx context.Context, st *Settlement) error
}

// Settings carries the rate configuration snapshot sources and executor
// tuning. Fee percents are read here at capture time only.
type Settings struct {
	IndividualFeePercent     int
	FirmFeePercent           int
	ReleaseWindow            time.Duration
	RefundTimeout            time.Duration
	CommissionRules          map[string]int // role -> percent kept by the member
	DefaultCommissionPercent int
}

// CaptureRequest is the payment-capture event from the gateway collaborator.
type CaptureRequest struct {
	EngagementID         string `json:"engagementId" binding:"required"`
	ClientID             string `json:"clientId" binding:"required"`
	ProfessionalID       string `json:"professionalId" binding:"required"`
	FirmID               string `json:"firmId"`
	MemberRole           string `json:"memberRole"`
	GrossAmount          int64  `json:"grossAmount" binding:"required"`
	GatewayTransactionID string `json:"gatewayTransactionId" binding:"required"`
}

// Service implements the escrow engine.
type Service struct {
	store    Store
	gateway  gateway.Gateway
	emitter  *events.Emitter
	settings Settings
	logger   *slog.Logger
	locks    syncutil.ShardedMutex // per-record locks serialize in-process transitions
}

// NewService creates a new escrow service.
func NewService(store Store, gw gateway.Gateway, emitter *events.Emitter, settings Settings, logger *slog.Logger) *Service {
	if settings.RefundTimeout <= 0 {
		settings.RefundTimeout = 10 * time.Second
	}
	return &Service{
		store:    store,
		gateway:  gw,
		emitter:  emitter,
		settings: settings,
		logger:   logger,
	}
}

// lockRecord serializes transitions for a record within this process;
// the version guard covers races across instances.
func (s *Service) lockRecord(id string) func() {
	return s.locks.Lock(id)
}

// commissionFor resolves the commission percent a firm member keeps.
func (s *Service) commissionFor(role string) int {
	if pct, ok := s.settings.CommissionRules[role]; ok {
		return pct
	}
	return s.settings.DefaultCommissionPercent
}

// Capture handles the payment-capture event: the record is created and
// advanced to ESCROW_HELD in one step. A previously waived engagement
// (NOT_REQUIRED) is re-activated instead.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*Record, error) {
	if req.GrossAmount <= 0 {
		return nil, fmt.Errorf("%w: gross amount must be positive, got %d", ErrInvalidAmount, req.GrossAmount)
	}

	feePercent := s.settings.IndividualFeePercent
	if req.FirmID != "" {
		feePercent = s.settings.FirmFeePercent
	}

	existing, err := s.store.GetByEngagement(ctx, req.EngagementID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Status != StatusNotRequired {
			return nil, fmt.Errorf("%w: engagement %s already has an escrow record", ErrInvalidState, req.EngagementID)
		}
		// Waived engagement paying through the platform after all.
		unlock := s.lockRecord(existing.ID)
		defer unlock()

		existing.ClientID = req.ClientID
		existing.ProfessionalID = req.ProfessionalID
		existing.FirmID = req.FirmID
		existing.MemberRole = req.MemberRole
		existing.GrossAmount = req.GrossAmount
		existing.PlatformFeePercent = feePercent
		existing.GatewayTransactionID = req.GatewayTransactionID
		existing.Status = StatusHeld
		existing.UpdatedAt = time.Now()
		if err := s.store.UpdateVersioned(ctx, existing, existing.Version); err != nil {
			return nil, err
		}
		metrics.EscrowCapturedTotal.Inc()
		s.emitter.EmitEscrowCaptured(existing.ID, existing.EngagementID, existing.GrossAmount)
		return existing, nil
	}

	now := time.Now()
	rec := &Record{
		ID:                   idgen.WithPrefix("esc_"),
		EngagementID:         req.EngagementID,
		ClientID:             req.ClientID,
		ProfessionalID:       req.ProfessionalID,
		FirmID:               req.FirmID,
		MemberRole:           req.MemberRole,
		GrossAmount:          req.GrossAmount,
		PlatformFeePercent:   feePercent,
		GatewayTransactionID: req.GatewayTransactionID,
		Status:               StatusHeld,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	metrics.EscrowCapturedTotal.Inc()
	s.emitter.EmitEscrowCaptured(rec.ID, rec.EngagementID, rec.GrossAmount)
	return rec, nil
}

// MarkNotRequired records that an engagement is billed off-platform.
func (s *Service) MarkNotRequired(ctx context.Context, engagementID, clientID, professionalID string) (*Record, error) {
	existing, err := s.store.GetByEngagement(ctx, engagementID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: engagement %s already has an escrow record", ErrInvalidState, engagementID)
	}

	now := time.Now()
	rec := &Record{
		ID:             idgen.WithPrefix("esc_"),
		EngagementID:   engagementID,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		Status:         StatusNotRequired,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}
	return rec, nil
}

// Complete handles the engagement-completion event: the held record
// starts its release timer.
func (s *Service) Complete(ctx context.Context, engagementID string, completedAt time.Time) (*Record, error) {
	rec, err := s.store.GetByEngagement(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockRecord(rec.ID)
	defer unlock()

	rec, err = s.store.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	if !canTransition(rec.Status, StatusPendingRelease) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, StatusPendingRelease)
	}

	releaseAt := completedAt.Add(s.settings.ReleaseWindow)
	rec.Status = StatusPendingRelease
	rec.AutoReleaseAt = &releaseAt
	rec.UpdatedAt = time.Now()

	if err := s.store.UpdateVersioned(ctx, rec, rec.Version); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// GetByEngagement returns the record backing an engagement.
func (s *Service) GetByEngagement(ctx context.Context, engagementID string) (*Record, error) {
	return s.store.GetByEngagement(ctx, engagementID)
}

// GetDistribution returns the settlement distribution for a record.
func (s *Service) GetDistribution(ctx context.Context, recordID string) (*Distribution, error) {
	return s.store.GetDistribution(ctx, recordID)
}

// GetDisputeByRecord returns the dispute attached to a record.
func (s *Service) GetDisputeByRecord(ctx context.Context, recordID string) (*Dispute, error) {
	return s.store.GetDisputeByRecord(ctx, recordID)
}

// ForceRelease is the admin override of the release timer. It runs the
// same state machine and version guard as the scheduler path.
func (s *Service) ForceRelease(ctx context.Context, recordID, approvedBy string) (*Record, error) {
	unlock := s.lockRecord(recordID)
	defer unlock()

	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if rec.IsTerminal() {
		return nil, fmt.Errorf("%w: record %s is %s", ErrIllegalTransition, rec.ID, rec.Status)
	}
	if rec.Status == StatusDisputed {
		return nil, fmt.Errorf("%w: record %s has an open dispute", ErrInvalidState, rec.ID)
	}
	if rec.Status != StatusPendingRelease {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, StatusReleased)
	}

	if err := s.release(ctx, rec, approvedBy, "admin"); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, recordID)
}

// AutoRelease is the scheduler path. Callers treat ErrConflict as
// already-handled: the record was disputed or released concurrently.
func (s *Service) AutoRelease(ctx context.Context, rec *Record) error {
	unlock := s.lockRecord(rec.ID)
	defer unlock()

	// Re-read under lock; the listing may be stale.
	fresh, err := s.store.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	if fresh.Status != StatusPendingRelease {
		return fmt.Errorf("%w: record %s is %s", ErrConflict, fresh.ID, fresh.Status)
	}
	if fresh.AutoReleaseAt == nil || fresh.AutoReleaseAt.After(time.Now()) {
		return fmt.Errorf("%w: record %s not yet due", ErrConflict, fresh.ID)
	}

	return s.release(ctx, fresh, "", "auto")
}

// release computes the full-release distribution and hands it to the
// executor. Caller holds the record lock and has verified PENDING_RELEASE.
func (s *Service) release(ctx context.Context, rec *Record, approvedBy, trigger string) error {
	dist, err := ComputeDistribution(rec, s.commissionFor(rec.MemberRole), nil)
	if err != nil {
		return err
	}
	return s.execute(ctx, rec, dist, nil, StatusReleased, approvedBy, trigger)
}
