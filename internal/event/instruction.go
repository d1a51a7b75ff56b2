package event

import "PortfolioLedger/internal/address"

// InitializeMessagePrefix domain-separates initialize signatures.
const InitializeMessagePrefix = "portfolio:initialize:v1:"

// InitializePortfolio asks for the owner's record to be allocated, paid by
// FundingSource and signed by Owner.
type InitializePortfolio struct {
	RequestID     string            `json:"request_id"`
	Owner         address.PublicKey `json:"owner"`
	FundingSource address.PublicKey `json:"funding_source"`
	Signature     address.Signature `json:"signature"`
}

func (i *InitializePortfolio) IdempotencyKey() string {
	return i.RequestID
}

func (i *InitializePortfolio) EventType() EventType {
	return EventTypePortfolioInitialized
}

// SigningMessage returns the bytes Owner signs:
// prefix || program_id || owner || funding_source || request_id.
func (i *InitializePortfolio) SigningMessage(programID address.PublicKey) []byte {
	msg := make([]byte, 0, len(InitializeMessagePrefix)+3*address.PublicKeyLength+len(i.RequestID))
	msg = append(msg, InitializeMessagePrefix...)
	msg = append(msg, programID[:]...)
	msg = append(msg, i.Owner[:]...)
	msg = append(msg, i.FundingSource[:]...)
	msg = append(msg, i.RequestID...)
	return msg
}

// AirdropRequested asks the faucet to credit a wallet.
type AirdropRequested struct {
	RequestID string            `json:"request_id"`
	Wallet    address.PublicKey `json:"wallet"`
	Lamports  uint64            `json:"lamports"`
}

func (a *AirdropRequested) IdempotencyKey() string {
	return a.RequestID
}

func (a *AirdropRequested) EventType() EventType {
	return EventTypeWalletFunded
}
