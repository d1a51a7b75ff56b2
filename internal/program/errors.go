package program

import (
	"errors"
)

var (
	// ErrAlreadyInitialized means a record already exists at the owner's derived address.
	ErrAlreadyInitialized = errors.New("portfolio already initialized")

	// ErrInsufficientFunds means the funding source cannot cover the rent-exempt minimum.
	ErrInsufficientFunds = errors.New("insufficient funds for rent")

	// ErrUnauthorized means the funding source is not the owner, or the owner did not sign.
	ErrUnauthorized = errors.New("unauthorized: owner must sign and fund")

	// ErrAddressDerivation means no valid bump exists for the owner's seeds.
	ErrAddressDerivation = errors.New("address derivation failed")

	// ErrNotInitialized means no record exists at the owner's derived address.
	ErrNotInitialized = errors.New("portfolio not initialized")

	ErrAccountNotFound = errors.New("account not found")
	ErrFaucetDisabled  = errors.New("faucet disabled")
	ErrFaucetLimit     = errors.New("airdrop exceeds faucet limit")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidWallet   = errors.New("target is not a wallet")
)

// Retryable reports whether the caller may retry the same request after
// changing external state. Only a funding shortfall qualifies; the allocator
// itself never retries.
func Retryable(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}
