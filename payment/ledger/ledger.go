// Package ledger records settled payments and reports whether a settlement is
// the first one for its resource.
package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no settlement matches a lookup.
	ErrNotFound = errors.New("ledger: settlement not found")

	// ErrDuplicateTransaction is returned when a transaction was already recorded.
	ErrDuplicateTransaction = errors.New("ledger: transaction already recorded")
)

// Settlement is one settled payment
type Settlement struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Network     string    `json:"network"`
	Transaction string    `json:"transaction"`
	Payer       string    `json:"payer,omitempty"`
	Amount      string    `json:"amount"`
	Asset       string    `json:"asset"`
	PayTo       string    `json:"payTo"`
	SettledAt   time.Time `json:"settledAt"`
}

// Store persists settlements
type Store interface {
	// Record stores s and reports whether it is the first settlement for s.Resource
	Record(ctx context.Context, s Settlement) (first bool, err error)

	// ListByResource returns the settlements of a resource, oldest first
	ListByResource(ctx context.Context, resource string) ([]Settlement, error)

	// FindByTransaction returns the settlement of a transaction on a network
	FindByTransaction(ctx context.Context, network, transaction string) (*Settlement, error)
}

// ============================================================================
// In-memory store
// ============================================================================

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps settlements in process memory
type MemoryStore struct {
	mu         sync.RWMutex
	byResource map[string][]Settlement
	byTx       map[txKey]Settlement
}

type txKey struct {
	network     string
	transaction string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byResource: make(map[string][]Settlement),
		byTx:       make(map[txKey]Settlement),
	}
}

func (m *MemoryStore) Record(ctx context.Context, s Settlement) (bool, error) {
	if s.SettledAt.IsZero() {
		s.SettledAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := txKey{network: s.Network, transaction: s.Transaction}
	if _, exists := m.byTx[key]; exists {
		return false, ErrDuplicateTransaction
	}

	first := len(m.byResource[s.Resource]) == 0
	m.byResource[s.Resource] = append(m.byResource[s.Resource], s)
	m.byTx[key] = s
	return first, nil
}

func (m *MemoryStore) ListByResource(ctx context.Context, resource string) ([]Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Settlement, len(m.byResource[resource]))
	copy(out, m.byResource[resource])
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}

func (m *MemoryStore) FindByTransaction(ctx context.Context, network, transaction string) (*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byTx[txKey{network: network, transaction: transaction}]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}
