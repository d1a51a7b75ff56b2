package store

import (
	"PortfolioLedger/internal/address"
	"context"
	"sync"
)

// MemoryBackend keeps every account in a map. Units of work hold one mutex
// for their whole duration and stage writes in an overlay until commit.
type MemoryBackend struct {
	mu       sync.Mutex
	accounts map[address.PublicKey]*Account
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		accounts: make(map[address.PublicKey]*Account),
	}
}

type memoryTx struct {
	committed map[address.PublicKey]*Account
	pending   map[address.PublicKey]*Account
}

func (tx *memoryTx) get(addr address.PublicKey) (*Account, error) {
	if acct, ok := tx.pending[addr]; ok {
		return acct.Clone(), nil
	}
	if acct, ok := tx.committed[addr]; ok {
		return acct.Clone(), nil
	}
	return nil, nil
}

func (tx *memoryTx) put(acct *Account) error {
	tx.pending[acct.Address] = acct.Clone()
	return nil
}

func (tx *memoryTx) Exists(addr address.PublicKey) (bool, error) { return exists(tx, addr) }

func (tx *memoryTx) Get(addr address.PublicKey) (*Account, error) { return getAccount(tx, addr) }

func (tx *memoryTx) Allocate(p CreateParams) (*Slot, error) { return allocate(tx, p) }

func (tx *memoryTx) WriteData(slot *Slot, data []byte) error { return writeData(tx, slot, data) }

// Update runs fn under the backend lock and applies its writes only if fn and
// ctx both succeed.
func (m *MemoryBackend) Update(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		committed: m.accounts,
		pending:   make(map[address.PublicKey]*Account),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for addr, acct := range tx.pending {
		m.accounts[addr] = acct
	}
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, addr address.PublicKey) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return getAccount(&memoryTx{committed: m.accounts}, addr)
}

func (m *MemoryBackend) Exists(ctx context.Context, addr address.PublicKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[addr]
	return ok && !acct.IsWallet(), nil
}

func (m *MemoryBackend) Fund(ctx context.Context, wallet address.PublicKey, lamports uint64) (uint64, error) {
	var balance uint64
	err := m.Update(ctx, func(tx Tx) error {
		var err error
		balance, err = fund(tx.(*memoryTx), wallet, lamports)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

// Len returns the number of stored accounts.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}
