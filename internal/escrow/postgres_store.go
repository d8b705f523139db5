package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/workpact/workpact/internal/balances"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, engagement_id, client_id, professional_id, firm_id, member_role,
		       gross_amount, platform_fee_percent, gateway_transaction_id,
		       status, auto_release_at, released_at, release_approved_by,
		       version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_records (
			id, engagement_id, client_id, professional_id, firm_id, member_role,
			gross_amount, platform_fee_percent, gateway_transaction_id,
			status, auto_release_at, released_at, release_approved_by,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16
		)`,
		rec.ID, rec.EngagementID, rec.ClientID, rec.ProfessionalID,
		nullString(rec.FirmID), nullString(rec.MemberRole),
		rec.GrossAmount, rec.PlatformFeePercent, nullString(rec.GatewayTransactionID),
		string(rec.Status), nullTime(rec.AutoReleaseAt), nullTime(rec.ReleasedAt),
		nullString(rec.ReleaseApprovedBy),
		rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM escrow_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (p *PostgresStore) GetByEngagement(ctx context.Context, engagementID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM escrow_records WHERE engagement_id = $1`, engagementID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// UpdateVersioned writes the record conditionally on the expected
// version and bumps it. Zero rows affected with an existing record
// means another writer got there first.
func (p *PostgresStore) UpdateVersioned(ctx context.Context, rec *Record, expectedVersion int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_records SET
			client_id = $1, professional_id = $2, firm_id = $3, member_role = $4,
			gross_amount = $5, platform_fee_percent = $6, gateway_transaction_id = $7,
			status = $8, auto_release_at = $9, released_at = $10,
			release_approved_by = $11, version = version + 1, updated_at = $12
		WHERE id = $13 AND version = $14`,
		rec.ClientID, rec.ProfessionalID, nullString(rec.FirmID), nullString(rec.MemberRole),
		rec.GrossAmount, rec.PlatformFeePercent, nullString(rec.GatewayTransactionID),
		string(rec.Status), nullTime(rec.AutoReleaseAt), nullTime(rec.ReleasedAt),
		nullString(rec.ReleaseApprovedBy), rec.UpdatedAt,
		rec.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return p.conflictOrMissing(ctx, rec.ID)
	}
	rec.Version = expectedVersion + 1
	return nil
}

func (p *PostgresStore) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM escrow_records
		WHERE status = $1 AND auto_release_at IS NOT NULL AND auto_release_at <= $2
		ORDER BY auto_release_at ASC
		LIMIT $3`, string(StatusPendingRelease), now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func (p *PostgresStore) CreateDisputeAndTransition(ctx context.Context, d *Dispute, rec *Record, expectedVersion int64) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE escrow_records SET
			status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		string(rec.Status), rec.UpdatedAt, rec.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return p.conflictOrMissing(ctx, rec.ID)
	}

	evidenceJSON, _ := json.Marshal(d.EvidenceRefs)
	if d.EvidenceRefs == nil {
		evidenceJSON = []byte("[]")
	}
	// The partial unique index on open disputes rejects a second OPEN
	// dispute for the same record.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO disputes (
			id, escrow_record_id, raised_by, evidence_refs, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.EscrowRecordID, d.RaisedBy, evidenceJSON, string(d.Status), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	rec.Version = expectedVersion + 1
	return nil
}

const disputeColumns = `id, escrow_record_id, raised_by, evidence_refs, status,
		       resolution, refund_percent, resolved_by, resolved_at, created_at`

func (p *PostgresStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetDisputeByRecord(ctx context.Context, recordID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE escrow_record_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, recordID)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetDistribution(ctx context.Context, recordID string) (*Distribution, error) {
	dist := &Distribution{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, escrow_record_id, platform_amount, professional_amount,
		       firm_pool_amount, refund_amount, basis, created_at
		FROM settlement_distributions WHERE escrow_record_id = $1`, recordID,
	).Scan(&dist.ID, &dist.EscrowRecordID, &dist.PlatformAmount, &dist.ProfessionalAmount,
		&dist.FirmPoolAmount, &dist.RefundAmount, &dist.Basis, &dist.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return dist, nil
}

// ApplySettlement commits the whole settlement unit in one serializable
// transaction: record transition, distribution row, balance credits,
// and (for dispute paths) the dispute resolution. The unique index on
// settlement_distributions.escrow_record_id is a second line of defense
// against double settlement.
func (p *PostgresStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec := st.Record
	result, err := tx.ExecContext(ctx, `
		UPDATE escrow_records SET
			status = $1, released_at = $2, release_approved_by = $3,
			version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		string(rec.Status), nullTime(rec.ReleasedAt), nullString(rec.ReleaseApprovedBy),
		rec.UpdatedAt, rec.ID, st.ExpectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return p.conflictOrMissing(ctx, rec.ID)
	}

	dist := st.Distribution
	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlement_distributions (
			id, escrow_record_id, platform_amount, professional_amount,
			firm_pool_amount, refund_amount, basis, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dist.ID, dist.EscrowRecordID, dist.PlatformAmount, dist.ProfessionalAmount,
		dist.FirmPoolAmount, dist.RefundAmount, dist.Basis, dist.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist distribution: %w", err)
	}

	if err := balances.ApplyCreditsTx(ctx, tx, st.Credits); err != nil {
		return err
	}

	if st.Dispute != nil {
		d := st.Dispute
		result, err := tx.ExecContext(ctx, `
			UPDATE disputes SET
				status = $1, resolution = $2, refund_percent = $3,
				resolved_by = $4, resolved_at = $5
			WHERE id = $6 AND status = $7`,
			string(DisputeResolved), string(d.Resolution), d.RefundPercent,
			nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
			d.ID, string(DisputeOpen),
		)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrAlreadyResolved
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	rec.Version = st.ExpectedVersion + 1
	return nil
}

// conflictOrMissing distinguishes a stale version from a missing record
// after a zero-row conditional update.
func (p *PostgresStore) conflictOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM escrow_records WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrRecordNotFound
	}
	return ErrConflict
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	rec := &Record{}
	var (
		firmID        sql.NullString
		memberRole    sql.NullString
		gatewayTxID   sql.NullString
		autoReleaseAt sql.NullTime
		releasedAt    sql.NullTime
		approvedBy    sql.NullString
		status        string
	)

	err := s.Scan(
		&rec.ID, &rec.EngagementID, &rec.ClientID, &rec.ProfessionalID,
		&firmID, &memberRole,
		&rec.GrossAmount, &rec.PlatformFeePercent, &gatewayTxID,
		&status, &autoReleaseAt, &releasedAt, &approvedBy,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.FirmID = firmID.String
	rec.MemberRole = memberRole.String
	rec.GatewayTransactionID = gatewayTxID.String
	rec.ReleaseApprovedBy = approvedBy.String
	if autoReleaseAt.Valid {
		rec.AutoReleaseAt = &autoReleaseAt.Time
	}
	if releasedAt.Valid {
		rec.ReleasedAt = &releasedAt.Time
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanDispute(s scanner) (*Dispute, error) {
	d := &Dispute{}
	var (
		evidenceJSON  []byte
		status        string
		resolution    sql.NullString
		refundPercent sql.NullInt64
		resolvedBy    sql.NullString
		resolvedAt    sql.NullTime
	)

	err := s.Scan(
		&d.ID, &d.EscrowRecordID, &d.RaisedBy, &evidenceJSON, &status,
		&resolution, &refundPercent, &resolvedBy, &resolvedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = DisputeStatus(status)
	d.Resolution = Resolution(resolution.String)
	d.RefundPercent = int(refundPercent.Int64)
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	if len(evidenceJSON) > 0 {
		_ = json.Unmarshal(evidenceJSON, &d.EvidenceRefs)
	}
	return d, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
