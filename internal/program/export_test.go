package program

import "PortfolioLedger/internal/address"

// SetDerive replaces address derivation for a.
func SetDerive(a *Allocator, fn func(owner, programID address.PublicKey) (address.PublicKey, uint8, error)) {
	a.derive = fn
}
