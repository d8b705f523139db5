package balances

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/workpact/workpact/internal/idgen"
	"github.com/workpact/workpact/internal/pagination"
)

// MemoryStore is an in-memory balance store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*Balance // key: kind + "/" + payeeID
	entries  map[string][]*Entry // key: payeeID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make(map[string][]*Entry),
	}
}

func balanceKey(payeeID, kind string) string {
	return kind + "/" + payeeID
}

// GetBalance returns the payee's balance, or a zero balance if unknown.
func (m *MemoryStore) GetBalance(ctx context.Context, payeeID, kind string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[balanceKey(payeeID, kind)]
	if !ok {
		return &Balance{PayeeID: payeeID, Kind: kind, UpdatedAt: time.Now()}, nil
	}
	cp := *b
	return &cp, nil
}

// ApplyCredits applies all credits under a single lock.
func (m *MemoryStore) ApplyCredits(ctx context.Context, credits []Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, c := range credits {
		key := balanceKey(c.PayeeID, c.Kind)
		b, ok := m.balances[key]
		if !ok {
			b = &Balance{PayeeID: c.PayeeID, Kind: c.Kind}
			m.balances[key] = b
		}
		b.AmountMinor += c.AmountMinor
		b.UpdatedAt = now

		m.entries[c.PayeeID] = append(m.entries[c.PayeeID], &Entry{
			ID:          idgen.WithPrefix("ent_"),
			PayeeID:     c.PayeeID,
			Kind:        c.Kind,
			AmountMinor: c.AmountMinor,
			Reference:   c.Reference,
			Description: c.Description,
			CreatedAt:   now,
		})
	}
	return nil
}

// GetHistory returns the payee's entries, newest first, starting after
// the cursor position when one is given.
func (m *MemoryStore) GetHistory(ctx context.Context, payeeID string, cursor *pagination.Cursor, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Entry, len(m.entries[payeeID]))
	copy(all, m.entries[payeeID])
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	out := make([]*Entry, 0, limit)
	for _, e := range all {
		if cursor != nil {
			if e.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if e.CreatedAt.Equal(cursor.CreatedAt) && e.ID >= cursor.ID {
				continue
			}
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
