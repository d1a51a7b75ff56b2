package ledger

import (
	"PortfolioLedger/internal/address"
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateRecordReserve verifies a record slot holds exactly the rent it was allocated with
func (v *InvariantValidator) ValidateRecordReserve(slot address.PublicKey, want int64) error {
	key := NewRecordAccountKey(slot)
	got := v.tracker.GetBalance(key)
	if got != want {
		return fmt.Errorf("%s reserve is %d, want exactly %d", key.AccountPath(), got, want)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global lamport balance is non-zero: %d", total)
	}
	return nil
}
