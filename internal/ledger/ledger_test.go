package ledger_test

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/ledger"
	"strings"
	"testing"

	"github.com/google/uuid"
)

var (
	walletA = address.PublicKey{0xa}
	walletB = address.PublicKey{0xb}
	slotX   = address.PublicKey{0xc}
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_WalletPath(t *testing.T) {
	key := ledger.NewWalletAccountKey(address.SystemProgramID)

	path := key.AccountPath()
	expected := "wallet:11111111111111111111111111111111"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_RecordPath(t *testing.T) {
	key := ledger.NewRecordAccountKey(slotX)

	path := key.AccountPath()
	if !strings.HasPrefix(path, "record:") || strings.TrimPrefix(path, "record:") != slotX.String() {
		t.Errorf("got %q, want record:%s", path, slotX)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	path := ledger.FaucetAccount.AccountPath()
	if path != "external:faucet" {
		t.Errorf("got %q, want %q", path, "external:faucet")
	}
}

func TestAccountKey_ScopesDoNotCollide(t *testing.T) {
	if ledger.NewWalletAccountKey(slotX) == ledger.NewRecordAccountKey(slotX) {
		t.Error("wallet and record keys for the same address must differ")
	}
}

// ============================================================================
// Test: Rent
// ============================================================================

func TestRent_MinimumBalance(t *testing.T) {
	r := ledger.DefaultRent()

	// (128 + 48) * 3480 * 2
	if got := r.MinimumBalance(48); got != 1_224_960 {
		t.Errorf("got %d, want 1_224_960", got)
	}

	// Data-less accounts still pay the storage overhead.
	if got := r.MinimumBalance(0); got != 890_880 {
		t.Errorf("got %d, want 890_880", got)
	}
}

func TestRent_ProportionalToSize(t *testing.T) {
	r := ledger.DefaultRent()
	if r.MinimumBalance(100) <= r.MinimumBalance(99) {
		t.Error("cost must grow with size")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if balance := bt.GetBalance(ledger.NewWalletAccountKey(walletA)); balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if err := bt.ApplyBatch(ledger.NewAirdropBatch("req-1", 0, walletA, 5_000_000, 1)); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if err := bt.ApplyBatch(ledger.NewRentDepositBatch("req-2", 1, walletA, slotX, 1_224_960, 2)); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if got := bt.GetBalance(ledger.NewWalletAccountKey(walletA)); got != 5_000_000-1_224_960 {
		t.Errorf("wallet: got %d, want %d", got, 5_000_000-1_224_960)
	}
	if got := bt.GetBalance(ledger.NewRecordAccountKey(slotX)); got != 1_224_960 {
		t.Errorf("record reserve: got %d, want 1_224_960", got)
	}
	if got := bt.GetBalance(ledger.FaucetAccount); got != -5_000_000 {
		t.Errorf("faucet: got %d, want -5_000_000", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	bt.ApplyBatch(ledger.NewAirdropBatch("a", 0, walletA, 2_000_000, 1))
	bt.ApplyBatch(ledger.NewAirdropBatch("b", 1, walletB, 3_000_000, 2))
	bt.ApplyBatch(ledger.NewRentDepositBatch("c", 2, walletB, slotX, 1_224_960, 3))

	if total := bt.ComputeGlobalBalance(); total != 0 {
		t.Errorf("global balance should be zero, got %d", total)
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.ApplyBatch(ledger.NewAirdropBatch("a", 0, walletA, 999, 1))

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetBalance(ledger.NewWalletAccountKey(walletA)) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

func TestBalanceTracker_ValidateNonNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.ApplyBatch(ledger.NewRentDepositBatch("overdraw", 0, walletA, slotX, 10, 1))

	if err := bt.ValidateNonNegative(ledger.NewWalletAccountKey(walletA)); err == nil {
		t.Error("expected error for negative wallet balance")
	}
	if err := bt.ValidateNonNegative(ledger.NewRecordAccountKey(slotX)); err != nil {
		t.Errorf("record reserve is positive: %v", err)
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batch := ledger.NewAirdropBatch("zero", 0, walletA, 0, 1)

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	same := ledger.NewWalletAccountKey(walletA)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  same,
				CreditAccount: same,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := ledger.NewRentDepositBatch("m", 0, walletA, slotX, 100, 1)
	batch.Journals[0].BatchID = uuid.New()

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestNewRentDepositBatch_Shape(t *testing.T) {
	batch := ledger.NewRentDepositBatch("req-9", 42, walletA, slotX, 1_224_960, 77)

	if err := batch.Validate(); err != nil {
		t.Fatalf("valid batch should pass: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Fatalf("journals: got %d, want 1", len(batch.Journals))
	}
	j := batch.Journals[0]
	if j.DebitAccount != ledger.NewRecordAccountKey(slotX) {
		t.Errorf("debit: got %s", j.DebitAccount.AccountPath())
	}
	if j.CreditAccount != ledger.NewWalletAccountKey(walletA) {
		t.Errorf("credit: got %s", j.CreditAccount.AccountPath())
	}
	if j.JournalType != ledger.JournalTypeRentDeposit || j.Sequence != 42 || j.EventRef != "req-9" || j.Timestamp != 77 {
		t.Errorf("unexpected journal metadata: %+v", j)
	}
}

func TestNewRecordClaimBatch_CarriesBareBalance(t *testing.T) {
	plain := ledger.NewRecordClaimBatch("req-1", 1, walletA, slotX, 1_224_960, 0, 2)
	if len(plain.Journals) != 1 || plain.Journals[0].JournalType != ledger.JournalTypeRentDeposit {
		t.Fatalf("no carry: got %+v", plain.Journals)
	}

	batch := ledger.NewRecordClaimBatch("req-2", 3, walletA, slotX, 1_224_960, 9, 4)
	if err := batch.Validate(); err != nil {
		t.Fatalf("valid batch should pass: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("journals: got %d, want 2", len(batch.Journals))
	}
	carry := batch.Journals[1]
	if carry.JournalType != ledger.JournalTypeBalanceCarry || carry.JournalType.String() != "balance_carry" {
		t.Errorf("journal type: got %s", carry.JournalType)
	}
	if carry.DebitAccount != ledger.NewRecordAccountKey(slotX) || carry.CreditAccount != ledger.NewWalletAccountKey(slotX) {
		t.Errorf("carry accounts: %s <- %s", carry.DebitAccount.AccountPath(), carry.CreditAccount.AccountPath())
	}
	if carry.JournalID == batch.Journals[0].JournalID || carry.BatchID != batch.BatchID || carry.Sequence != 3 {
		t.Errorf("carry metadata: %+v", carry)
	}

	bt := ledger.NewBalanceTracker()
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := ledger.NewInvariantValidator(bt).ValidateRecordReserve(slotX, 1_224_969); err != nil {
		t.Errorf("reserve: %v", err)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	bt.ApplyBatch(ledger.NewAirdropBatch("a", 0, walletA, 1_000_000, 1))

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_RecordReserve(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	bt.ApplyBatch(ledger.NewRentDepositBatch("r", 0, walletA, slotX, 1_224_960, 1))

	if err := v.ValidateRecordReserve(slotX, 1_224_960); err != nil {
		t.Errorf("exact reserve should pass: %v", err)
	}
	if err := v.ValidateRecordReserve(slotX, 1_224_961); err == nil {
		t.Error("reserve mismatch should fail")
	}
}
