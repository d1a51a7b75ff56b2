package ledger

import (
	"PortfolioLedger/internal/address"

	"github.com/google/uuid"
)

// NewRentDepositBatch moves rent from the paying wallet into a new record slot.
// Moves funds: wallet:<payer> → record:<slot>
func NewRentDepositBatch(eventRef string, sequence int64, payer, slot address.PublicKey, lamports uint64, timestamp int64) *Batch {
	return singleEntryBatch(eventRef, sequence, timestamp, Journal{
		DebitAccount:  NewRecordAccountKey(slot),
		CreditAccount: NewWalletAccountKey(payer),
		Amount:        int64(lamports),
		JournalType:   JournalTypeRentDeposit,
	})
}

// NewRecordClaimBatch is NewRentDepositBatch for a slot whose address already
// held a bare balance. That balance moves into the record alongside the rent.
// Moves funds: wallet:<payer> → record:<slot>, wallet:<slot> → record:<slot>
func NewRecordClaimBatch(eventRef string, sequence int64, payer, slot address.PublicKey, rent, carried uint64, timestamp int64) *Batch {
	batch := NewRentDepositBatch(eventRef, sequence, payer, slot, rent, timestamp)
	if carried == 0 {
		return batch
	}

	carry := batch.Journals[0]
	carry.JournalID = uuid.New()
	carry.CreditAccount = NewWalletAccountKey(slot)
	carry.Amount = int64(carried)
	carry.JournalType = JournalTypeBalanceCarry
	batch.Journals = append(batch.Journals, carry)
	return batch
}

// NewAirdropBatch credits a wallet from the faucet.
// Moves funds: external:faucet → wallet:<wallet>
func NewAirdropBatch(eventRef string, sequence int64, wallet address.PublicKey, lamports uint64, timestamp int64) *Batch {
	return singleEntryBatch(eventRef, sequence, timestamp, Journal{
		DebitAccount:  NewWalletAccountKey(wallet),
		CreditAccount: FaucetAccount,
		Amount:        int64(lamports),
		JournalType:   JournalTypeAirdrop,
	})
}

func singleEntryBatch(eventRef string, sequence, timestamp int64, j Journal) *Batch {
	batchID := uuid.New()

	j.JournalID = uuid.New()
	j.BatchID = batchID
	j.EventRef = eventRef
	j.Sequence = sequence
	j.Timestamp = timestamp

	return &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  []Journal{j},
	}
}
