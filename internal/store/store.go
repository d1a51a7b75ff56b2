// Package store defines the storage backend the allocator runs against.
//
// A backend hosts fixed-size slots at 32-byte addresses. Its one hard
// requirement is Update: every read and write inside the callback forms a
// single unit of work that commits atomically or not at all, and units of
// work that touch the same address are serialized. The allocator's
// allocate-once guarantee rests on that property; it does no locking of its
// own around check-then-create.
package store

import (
	"PortfolioLedger/internal/address"
	"context"
	"errors"
	"fmt"
)

var (
	ErrAccountExists     = errors.New("store: account already exists")
	ErrAccountNotFound   = errors.New("store: account not found")
	ErrInsufficientFunds = errors.New("store: insufficient funds")
	ErrInvalidSlot       = errors.New("store: invalid slot write")
	ErrBalanceOverflow   = errors.New("store: balance overflow")
)

// Account is what a backend stores at an address.
type Account struct {
	Address  address.PublicKey `json:"address"`
	Lamports uint64            `json:"lamports"`
	// Owner is the program allowed to mutate Data. Wallets are owned by the system program.
	Owner address.PublicKey `json:"owner"`
	Data  []byte            `json:"data"`
}

// IsWallet reports whether the account is a bare system account: lamports
// only, no data. Such an account holds no slot, so Allocate may claim it.
func (a *Account) IsWallet() bool {
	return a.Owner == address.SystemProgramID && len(a.Data) == 0
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// CreateParams describes a new slot.
type CreateParams struct {
	Address address.PublicKey
	Payer   address.PublicKey
	Owner   address.PublicKey
	Space   uint64
	// Lamports moved from Payer into the new slot's reserve.
	Lamports uint64
}

// Slot is the handle Allocate returns; WriteData needs it.
type Slot struct {
	Address address.PublicKey
	Owner   address.PublicKey
	Space   uint64
	// Carried is what a claimed bare system account already held.
	Carried uint64
}

// Tx is one unit of work inside Backend.Update.
type Tx interface {
	// Exists reports whether addr holds a slot. A bare system account does not.
	Exists(addr address.PublicKey) (bool, error)
	Get(addr address.PublicKey) (*Account, error)
	// Allocate creates a zero-filled slot, debiting the payer. Lamports already
	// sitting in a bare system account at the address are kept in the slot.
	// It fails with ErrAccountExists when the address holds a slot and
	// ErrInsufficientFunds when the payer cannot cover Lamports.
	Allocate(p CreateParams) (*Slot, error)
	// WriteData replaces the slot's bytes. len(data) must equal slot.Space.
	WriteData(slot *Slot, data []byte) error
}

// Backend is the storage collaborator.
type Backend interface {
	// Update runs fn as one atomic unit of work. Any error from fn rolls the
	// whole unit back.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, addr address.PublicKey) (*Account, error)
	// Exists has Tx.Exists semantics outside a unit of work.
	Exists(ctx context.Context, addr address.PublicKey) (bool, error)
	// Fund credits a wallet, creating it if needed, and returns the new balance.
	Fund(ctx context.Context, wallet address.PublicKey, lamports uint64) (uint64, error)
	Ping(ctx context.Context) error
	Close() error
}

// CheckWrite validates a WriteData call against its slot.
func CheckWrite(slot *Slot, data []byte) error {
	if slot == nil {
		return ErrInvalidSlot
	}
	if uint64(len(data)) != slot.Space {
		return fmt.Errorf("%w: %d bytes into %d-byte slot %s", ErrInvalidSlot, len(data), slot.Space, slot.Address)
	}
	return nil
}

// AddLamports adds lamports to balance with an overflow check.
func AddLamports(balance, lamports uint64) (uint64, error) {
	if balance+lamports < balance {
		return 0, ErrBalanceOverflow
	}
	return balance + lamports, nil
}

// ErrInvalidPayer means the payer is not a plain system-owned wallet.
var ErrInvalidPayer = errors.New("store: payer must be a data-less system account")

// accountRW is the raw access a key-value backend gives its transactions.
// get returns nil, nil for an absent address.
type accountRW interface {
	get(addr address.PublicKey) (*Account, error)
	put(acct *Account) error
}

func exists(rw accountRW, addr address.PublicKey) (bool, error) {
	acct, err := rw.get(addr)
	if err != nil {
		return false, err
	}
	return acct != nil && !acct.IsWallet(), nil
}

func getAccount(rw accountRW, addr address.PublicKey) (*Account, error) {
	acct, err := rw.get(addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acct, nil
}

func allocate(rw accountRW, p CreateParams) (*Slot, error) {
	existing, err := rw.get(p.Address)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.IsWallet() {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, p.Address)
	}
	if p.Payer == p.Address {
		return nil, fmt.Errorf("%w: %s cannot pay for itself", ErrInvalidPayer, p.Payer)
	}
	var carried uint64
	if existing != nil {
		carried = existing.Lamports
	}
	reserve, err := AddLamports(carried, p.Lamports)
	if err != nil {
		return nil, err
	}

	payer, err := rw.get(p.Payer)
	if err != nil {
		return nil, err
	}
	if payer == nil {
		return nil, fmt.Errorf("%w: payer %s has no account (need %d lamports)", ErrInsufficientFunds, p.Payer, p.Lamports)
	}
	if !payer.IsWallet() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayer, p.Payer)
	}
	if payer.Lamports < p.Lamports {
		return nil, fmt.Errorf("%w: payer %s has %d lamports, need %d", ErrInsufficientFunds, p.Payer, payer.Lamports, p.Lamports)
	}

	payer.Lamports -= p.Lamports
	if err := rw.put(payer); err != nil {
		return nil, err
	}

	slot := &Account{
		Address:  p.Address,
		Lamports: reserve,
		Owner:    p.Owner,
		Data:     make([]byte, p.Space),
	}
	if err := rw.put(slot); err != nil {
		return nil, err
	}

	return &Slot{Address: p.Address, Owner: p.Owner, Space: p.Space, Carried: carried}, nil
}

func writeData(rw accountRW, slot *Slot, data []byte) error {
	if err := CheckWrite(slot, data); err != nil {
		return err
	}
	acct, err := getAccount(rw, slot.Address)
	if err != nil {
		return err
	}
	if acct.Owner != slot.Owner {
		return fmt.Errorf("%w: slot %s is owned by %s", ErrInvalidSlot, slot.Address, acct.Owner)
	}
	acct.Data = append([]byte(nil), data...)
	return rw.put(acct)
}

func fund(rw accountRW, wallet address.PublicKey, lamports uint64) (uint64, error) {
	acct, err := rw.get(wallet)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		acct = &Account{Address: wallet, Owner: address.SystemProgramID}
	}
	if !acct.IsWallet() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPayer, wallet)
	}
	balance, err := AddLamports(acct.Lamports, lamports)
	if err != nil {
		return 0, err
	}
	acct.Lamports = balance
	return balance, rw.put(acct)
}
