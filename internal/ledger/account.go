package ledger

import (
	"PortfolioLedger/internal/address"
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// Data-less, system-owned accounts that pay for allocations
	AccountScopeWallet AccountScope = iota
	// Program-owned slots; balance is the rent reserve
	AccountScopeRecord
	// Boundary accounts (faucet) that let the ledger stay zero-sum
	AccountScopeExternal
)

// AccountKey is the in-memory key for lamport tracking
type AccountKey struct {
	Scope   AccountScope
	Address address.PublicKey
}

// NewWalletAccountKey creates a key for a funding wallet
func NewWalletAccountKey(wallet address.PublicKey) AccountKey {
	return AccountKey{Scope: AccountScopeWallet, Address: wallet}
}

// NewRecordAccountKey creates a key for a program-owned record slot
func NewRecordAccountKey(slot address.PublicKey) AccountKey {
	return AccountKey{Scope: AccountScopeRecord, Address: slot}
}

// NewExternalAccountKey creates a key for a named boundary account.
// The name is packed into the address bytes.
func NewExternalAccountKey(name string) AccountKey {
	var addr address.PublicKey
	copy(addr[:], []byte(name))
	return AccountKey{Scope: AccountScopeExternal, Address: addr}
}

// FaucetAccount is credited for every airdrop.
var FaucetAccount = NewExternalAccountKey("faucet")

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeWallet:
		return fmt.Sprintf("wallet:%s", k.Address)
	case AccountScopeRecord:
		return fmt.Sprintf("record:%s", k.Address)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", externalName(k.Address))
	}
	return "unknown"
}

func externalName(addr address.PublicKey) string {
	n := 0
	for n < len(addr) && addr[n] != 0 {
		n++
	}
	return string(addr[:n])
}
