package api

import "PortfolioLedger/internal/query"

// Keys and signatures travel as base58 strings.

type InitializePortfolioRequest struct {
	RequestID     string `json:"request_id,omitempty"`
	Owner         string `json:"owner"`
	FundingSource string `json:"funding_source"`
	Signature     string `json:"signature"`
	// IfAbsent returns an existing record instead of failing with AlreadyExists.
	IfAbsent bool `json:"if_absent,omitempty"`
}

type PortfolioResponse struct {
	Address    string `json:"address"`
	Owner      string `json:"owner"`
	TotalValue uint64 `json:"total_value"`
	Lamports   uint64 `json:"lamports"`
	Created    bool   `json:"created"`
}

type GetPortfolioRequest struct {
	Owner string `json:"owner"`
}

type DeriveAddressRequest struct {
	Owner string `json:"owner"`
}

type DeriveAddressResponse struct {
	Address   string `json:"address"`
	Bump      uint8  `json:"bump"`
	ProgramID string `json:"program_id"`
}

type FundWalletRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Wallet    string `json:"wallet"`
	Lamports  uint64 `json:"lamports"`
}

type FundWalletResponse struct {
	Wallet  string `json:"wallet"`
	Balance uint64 `json:"balance"`
}

type GetAccountRequest struct {
	Address string `json:"address"`
}

type AccountResponse struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
	Space    int    `json:"space"`
	Data     []byte `json:"data"`
}

type ListJournalsRequest struct {
	Address        string `json:"address"`
	Limit          int32  `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalEntry `json:"journals"`
}

type VerifyIntegrityRequest struct{}

type VerifyIntegrityResponse struct {
	query.IntegrityReport
}
