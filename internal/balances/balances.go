// Package balances tracks settled funds owed to payees.
//
// Settlement credits professionals, firm commission pools, and the
// platform revenue account in integer minor currency units. Balances
// only ever grow here; payouts to bank accounts happen in a separate
// system and are out of scope.
package balances

import (
	"context"
	"errors"
	"time"

	"github.com/workpact/workpact/internal/pagination"
)

var (
	ErrPayeeNotFound = errors.New("payee not found")
	ErrInvalidAmount = errors.New("invalid amount")
)

// Balance kinds. A payee ID is unique within a kind.
const (
	KindProfessional = "professional"
	KindFirmPool     = "firm_pool"
	KindPlatform     = "platform"
)

// PlatformPayeeID is the single payee holding platform fee revenue.
const PlatformPayeeID = "platform"

// Balance is a payee's settled balance.
type Balance struct {
	PayeeID     string    `json:"payeeId"`
	Kind        string    `json:"kind"`
	AmountMinor int64     `json:"amountMinor"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Entry is one credit applied to a balance.
type Entry struct {
	ID          string    `json:"id"`
	PayeeID     string    `json:"payeeId"`
	Kind        string    `json:"kind"`
	AmountMinor int64     `json:"amountMinor"`
	Reference   string    `json:"reference,omitempty"` // escrow record or distribution ID
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Credit is one pending credit to apply.
type Credit struct {
	PayeeID     string
	Kind        string
	AmountMinor int64
	Reference   string
	Description string
}

// Store persists balances and their entry history.
type Store interface {
	GetBalance(ctx context.Context, payeeID, kind string) (*Balance, error)
	// ApplyCredits applies all credits atomically: either every balance
	// is updated and every entry recorded, or none are.
	ApplyCredits(ctx context.Context, credits []Credit) error
	// GetHistory returns entries newest first, starting after the cursor
	// position when one is given.
	GetHistory(ctx context.Context, payeeID string, cursor *pagination.Cursor, limit int) ([]*Entry, error)
}

// Service exposes read access and validated credit application.
type Service struct {
	store Store
}

// NewService creates a balance service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetBalance returns a payee's balance. Unknown payees have a zero balance.
func (s *Service) GetBalance(ctx context.Context, payeeID, kind string) (*Balance, error) {
	return s.store.GetBalance(ctx, payeeID, kind)
}

// ApplyCredits validates and applies a batch of credits atomically.
// Zero-amount credits are dropped; negative amounts are rejected.
func (s *Service) ApplyCredits(ctx context.Context, credits []Credit) error {
	filtered := make([]Credit, 0, len(credits))
	for _, c := range credits {
		if c.AmountMinor < 0 {
			return ErrInvalidAmount
		}
		if c.AmountMinor == 0 {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return nil
	}
	return s.store.ApplyCredits(ctx, filtered)
}

// GetHistory returns a page of a payee's credit entries, newest first,
// plus an opaque cursor for the next page (empty when exhausted).
func (s *Service) GetHistory(ctx context.Context, payeeID, cursorStr string, limit int) ([]*Entry, string, error) {
	if limit <= 0 {
		limit = 50
	}
	cursor, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", err
	}

	// Fetch one past the limit to learn whether another page exists.
	entries, err := s.store.GetHistory(ctx, payeeID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	page, next, _ := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return page, next, nil
}
