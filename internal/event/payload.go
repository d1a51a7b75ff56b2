package event

import "PortfolioLedger/internal/address"

// PortfolioInitialized is the envelope payload for a committed allocation.
type PortfolioInitialized struct {
	Address    address.PublicKey `json:"address"`
	Bump       uint8             `json:"bump"`
	Owner      address.PublicKey `json:"owner"`
	Payer      address.PublicKey `json:"payer"`
	ProgramID  address.PublicKey `json:"program_id"`
	Space      uint64            `json:"space"`
	Lamports   uint64            `json:"lamports"`
	// Carried is the balance a pre-funded address already held.
	Carried    uint64            `json:"carried,omitempty"`
	TotalValue uint64            `json:"total_value"`
}

// WalletFunded is the envelope payload for a committed airdrop.
type WalletFunded struct {
	Wallet   address.PublicKey `json:"wallet"`
	Lamports uint64            `json:"lamports"`
	Balance  uint64            `json:"balance"`
}
