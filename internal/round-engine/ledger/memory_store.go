package ledger

import (
	"context"
	"sync"
)

// MemoryStore mantém log e snapshot em memória (testes e LEDGER_DRIVER=memory)
type MemoryStore struct {
	mu   sync.Mutex
	txs  []Transaction
	snap *Snapshot
	// falha injetável para testes de durabilidade
	FailAppend error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(ctx context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return m.FailAppend
	}
	m.txs = append(m.txs, tx)
	return nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := snap
	cp.Accounts = append([]Account(nil), snap.Accounts...)
	m.snap = &cp
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) (*Snapshot, []Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var after int64
	var snap *Snapshot
	if m.snap != nil {
		cp := *m.snap
		cp.Accounts = append([]Account(nil), m.snap.Accounts...)
		snap = &cp
		after = cp.LastSeq
	}
	var out []Transaction
	for _, tx := range m.txs {
		if tx.Seq > after {
			out = append(out, tx)
		}
	}
	return snap, out, nil
}

// Transactions retorna todo o log gravado
func (m *MemoryStore) Transactions() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transaction(nil), m.txs...)
}
