package flags

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and demo mode.
type MemoryStore struct {
	mu     sync.RWMutex
	txns   map[string]*Transaction
	flags  []*FraudFlag
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns:   make(map[string]*Transaction),
		nextID: 1,
	}
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.txns[txn.TxnID]; exists {
		return ErrDuplicateTxn
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	cp := *txn
	m.txns[txn.TxnID] = &cp
	return nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, txnID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.txns[txnID]
	if !ok {
		return nil, ErrTxnNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) CreateFlag(ctx context.Context, flag *FraudFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag.ID = m.nextID
	m.nextID++
	if flag.Timestamp.IsZero() {
		flag.Timestamp = time.Now()
	}
	cp := *flag
	m.flags = append(m.flags, &cp)
	return nil
}

func (m *MemoryStore) MaxFlagID(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.flags) == 0 {
		return 0, nil
	}
	return m.flags[len(m.flags)-1].ID, nil
}

func (m *MemoryStore) ListFlagsAfter(ctx context.Context, after int64, limit int) ([]*FraudFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*FraudFlag
	for _, f := range m.flags {
		if f.ID <= after {
			continue
		}
		cp := *f
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
