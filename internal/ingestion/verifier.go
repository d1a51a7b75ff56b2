package ingestion

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/event"
	"PortfolioLedger/internal/program"
)

// Verifier checks instruction signatures before anything reaches the
// allocator. The allocator trusts Signers as given.
type Verifier struct {
	programID address.PublicKey
}

func NewVerifier(programID address.PublicKey) *Verifier {
	return &Verifier{programID: programID}
}

// InitializeRequest converts a signed instruction into an allocator request.
// The owner is listed as a signer only if the signature checks out; an
// unsigned or forged instruction still produces a request, which the
// allocator rejects as unauthorized without touching storage.
func (v *Verifier) InitializeRequest(ins *event.InitializePortfolio) program.InitializeRequest {
	req := program.InitializeRequest{
		Owner:         ins.Owner,
		FundingSource: ins.FundingSource,
		RequestID:     ins.RequestID,
	}
	if !ins.Signature.IsZero() && ins.Signature.Verify(ins.Owner, ins.SigningMessage(v.programID)) {
		req.Signers = []address.PublicKey{ins.Owner}
	}
	return req
}
