package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/workpact/workpact/internal/balances"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
// Balance credits inside ApplySettlement go to the given balance store;
// in-memory writes cannot partially fail, so the settlement unit holds
// the same atomicity the Postgres transaction does.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]*Record
	byEngagement  map[string]string // engagementID -> record ID
	disputes      map[string]*Dispute
	byRecord      map[string]string        // record ID -> dispute ID
	distributions map[string]*Distribution // record ID -> distribution
	balances      balances.Store
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore(bal balances.Store) *MemoryStore {
	return &MemoryStore{
		records:       make(map[string]*Record),
		byEngagement:  make(map[string]string),
		disputes:      make(map[string]*Dispute),
		byRecord:      make(map[string]string),
		distributions: make(map[string]*Distribution),
		balances:      bal,
	}
}

func copyRecord(r *Record) *Record {
	cp := *r
	return &cp
}

func copyDispute(d *Dispute) *Dispute {
	cp := *d
	// Deep-copy the slice so an append on the copy cannot mutate the
	// stored dispute.
	if d.EvidenceRefs != nil {
		cp.EvidenceRefs = make([]string, len(d.EvidenceRefs))
		copy(cp.EvidenceRefs, d.EvidenceRefs)
	}
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEngagement[rec.EngagementID]; exists {
		return ErrInvalidState
	}
	m.records[rec.ID] = copyRecord(rec)
	m.byEngagement[rec.EngagementID] = rec.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) GetByEngagement(ctx context.Context, engagementID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEngagement[engagementID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(m.records[id]), nil
}

func (m *MemoryStore) UpdateVersioned(ctx context.Context, rec *Record, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[rec.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConflict
	}
	rec.Version = expectedVersion + 1
	m.records[rec.ID] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, rec := range m.records {
		if rec.Status == StatusPendingRelease && rec.AutoReleaseAt != nil && !rec.AutoReleaseAt.After(now) {
			result = append(result, copyRecord(rec))
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) CreateDisputeAndTransition(ctx context.Context, d *Dispute, rec *Record, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[rec.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConflict
	}
	if existingID, ok := m.byRecord[rec.ID]; ok && m.disputes[existingID].Status == DisputeOpen {
		return ErrInvalidState
	}

	rec.Version = expectedVersion + 1
	m.records[rec.ID] = copyRecord(rec)
	m.disputes[d.ID] = copyDispute(d)
	m.byRecord[rec.ID] = d.ID
	return nil
}

func (m *MemoryStore) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(d), nil
}

func (m *MemoryStore) GetDisputeByRecord(ctx context.Context, recordID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRecord[recordID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return copyDispute(m.disputes[id]), nil
}

func (m *MemoryStore) GetDistribution(ctx context.Context, recordID string) (*Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dist, ok := m.distributions[recordID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *dist
	return &cp, nil
}

func (m *MemoryStore) ApplySettlement(ctx context.Context, st *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[st.Record.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if stored.Version != st.ExpectedVersion {
		return ErrConflict
	}
	if _, exists := m.distributions[st.Record.ID]; exists {
		return ErrConflict
	}
	if st.Dispute != nil {
		d, ok := m.disputes[st.Dispute.ID]
		if !ok {
			return ErrDisputeNotFound
		}
		if d.Status != DisputeOpen {
			return ErrAlreadyResolved
		}
	}

	st.Record.Version = st.ExpectedVersion + 1
	m.records[st.Record.ID] = copyRecord(st.Record)

	distCp := *st.Distribution
	m.distributions[st.Record.ID] = &distCp

	if st.Dispute != nil {
		m.disputes[st.Dispute.ID] = copyDispute(st.Dispute)
	}

	return m.balances.ApplyCredits(ctx, st.Credits)
}

var _ Store = (*MemoryStore)(nil)
