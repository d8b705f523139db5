package balances

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/workpact/workpact/internal/idgen"
	"github.com/workpact/workpact/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed balance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBalance retrieves a payee's balance. Unknown payees read as zero.
func (p *PostgresStore) GetBalance(ctx context.Context, payeeID, kind string) (*Balance, error) {
	bal := &Balance{PayeeID: payeeID, Kind: kind}

	err := p.db.QueryRowContext(ctx, `
		SELECT amount_minor, updated_at
		FROM payee_balances WHERE payee_id = $1 AND kind = $2
	`, payeeID, kind).Scan(&bal.AmountMinor, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		bal.UpdatedAt = time.Now()
		return bal, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// ApplyCredits applies all credits in one serializable transaction.
func (p *PostgresStore) ApplyCredits(ctx context.Context, credits []Credit) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ApplyCreditsTx(ctx, tx, credits); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyCreditsTx applies credits inside an existing transaction. Callers
// that need balance updates atomic with their own writes (settlement)
// pass their transaction here.
func ApplyCreditsTx(ctx context.Context, tx *sql.Tx, credits []Credit) error {
	for _, c := range credits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payee_balances (payee_id, kind, amount_minor, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (payee_id, kind) DO UPDATE SET
				amount_minor = payee_balances.amount_minor + $3,
				updated_at   = NOW()
		`, c.PayeeID, c.Kind, c.AmountMinor)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO balance_entries (id, payee_id, kind, amount_minor, reference, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, idgen.WithPrefix("ent_"), c.PayeeID, c.Kind, c.AmountMinor, c.Reference, c.Description)
		if err != nil {
			return fmt.Errorf("failed to record entry: %w", err)
		}
	}
	return nil
}

// GetHistory retrieves a payee's entries, newest first, using keyset
// pagination on (created_at, id) when a cursor is given.
func (p *PostgresStore) GetHistory(ctx context.Context, payeeID string, cursor *pagination.Cursor, limit int) ([]*Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, payee_id, kind, amount_minor, reference, description, created_at
			FROM balance_entries
			WHERE payee_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, payeeID, cursor.CreatedAt, cursor.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, payee_id, kind, amount_minor, reference, description, created_at
			FROM balance_entries
			WHERE payee_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, payeeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var reference, description sql.NullString
		if err := rows.Scan(&e.ID, &e.PayeeID, &e.Kind, &e.AmountMinor, &reference, &description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = reference.String
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
