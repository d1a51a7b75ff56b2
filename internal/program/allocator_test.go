package program_test

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/event"
	"PortfolioLedger/internal/ledger"
	"PortfolioLedger/internal/observability"
	"PortfolioLedger/internal/portfolio"
	"PortfolioLedger/internal/program"
	"PortfolioLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

const rentForRecord = 1_224_960

// --- Test helpers ---

// countingBackend records how often the allocator reaches storage.
type countingBackend struct {
	store.Backend
	calls atomic.Int64
}

func (b *countingBackend) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	b.calls.Add(1)
	return b.Backend.Update(ctx, fn)
}

func (b *countingBackend) Exists(ctx context.Context, addr address.PublicKey) (bool, error) {
	b.calls.Add(1)
	return b.Backend.Exists(ctx, addr)
}

func (b *countingBackend) Get(ctx context.Context, addr address.PublicKey) (*store.Account, error) {
	b.calls.Add(1)
	return b.Backend.Get(ctx, addr)
}

func testConfig() program.Config {
	cfg := program.DefaultConfig()
	cfg.FaucetEnabled = true
	cfg.FaucetLimit = 10_000_000_000
	return cfg
}

func newTestAllocator(t *testing.T, backend store.Backend) (*program.Allocator, chan program.Output) {
	t.Helper()
	out := make(chan program.Output, 1024)
	a, err := program.NewAllocator(
		backend,
		testConfig(),
		out,
		observability.NewMetricsWith(prometheus.NewRegistry()),
		observability.NewNopLogger(),
	)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return a, out
}

func ownerKey(b byte) address.PublicKey {
	return address.PublicKey{0x42, b}
}

func selfFunded(owner address.PublicKey) program.InitializeRequest {
	return program.InitializeRequest{
		Owner:         owner,
		FundingSource: owner,
		Signers:       []address.PublicKey{owner},
	}
}

func fundWallet(t *testing.T, b store.Backend, wallet address.PublicKey, lamports uint64) {
	t.Helper()
	if _, err := b.Fund(context.Background(), wallet, lamports); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func balanceOf(t *testing.T, b store.Backend, addr address.PublicKey) uint64 {
	t.Helper()
	acct, err := b.Get(context.Background(), addr)
	if err != nil {
		t.Fatalf("get %s: %v", addr, err)
	}
	return acct.Lamports
}

// ============================================================================
// Test: InitializeRecord
// ============================================================================

func TestInitializeRecord_FirstCallSucceeds(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)
	owner := ownerKey(1)
	fundWallet(t, backend, owner, 5_000_000)

	record, err := a.InitializeRecord(context.Background(), selfFunded(owner))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if record.Owner != owner {
		t.Errorf("owner: got %s, want %s", record.Owner, owner)
	}
	if record.TotalValue != 0 {
		t.Errorf("total_value: got %d, want 0", record.TotalValue)
	}

	addr, _, _ := a.DeriveAddress(owner)
	acct, err := backend.Get(context.Background(), addr)
	if err != nil {
		t.Fatalf("slot missing: %v", err)
	}
	if acct.Owner != a.ProgramID() {
		t.Errorf("slot owner: got %s, want program %s", acct.Owner, a.ProgramID())
	}
	if acct.Lamports != rentForRecord {
		t.Errorf("slot reserve: got %d, want %d", acct.Lamports, rentForRecord)
	}
	stored, err := portfolio.Decode(acct.Data)
	if err != nil {
		t.Fatalf("decode slot: %v", err)
	}
	if *stored != *record {
		t.Errorf("stored: got %+v, want %+v", stored, record)
	}

	if got := balanceOf(t, backend, owner); got != 5_000_000-rentForRecord {
		t.Errorf("wallet: got %d, want %d", got, 5_000_000-rentForRecord)
	}
}

func TestInitializeRecord_SecondCallAlreadyInitialized(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)
	owner := ownerKey(2)
	fundWallet(t, backend, owner, 5_000_000)

	if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	addr, _, _ := a.DeriveAddress(owner)
	before, _ := backend.Get(context.Background(), addr)

	_, err := a.InitializeRecord(context.Background(), selfFunded(owner))
	if !errors.Is(err, program.ErrAlreadyInitialized) {
		t.Fatalf("second initialize: got %v, want ErrAlreadyInitialized", err)
	}

	after, _ := backend.Get(context.Background(), addr)
	if after.Lamports != before.Lamports || string(after.Data) != string(before.Data) {
		t.Error("record changed by rejected initialize")
	}
	if got := balanceOf(t, backend, owner); got != 5_000_000-rentForRecord {
		t.Errorf("wallet debited more than once: %d", got)
	}
}

func TestInitializeRecord_AlreadyInitializedAcrossRestart(t *testing.T) {
	backend := store.NewMemoryBackend()
	owner := ownerKey(3)
	fundWallet(t, backend, owner, 5_000_000)

	first, _ := newTestAllocator(t, backend)
	if _, err := first.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// A fresh allocator has a cold cache; the backend still decides.
	second, _ := newTestAllocator(t, backend)
	if _, err := second.InitializeRecord(context.Background(), selfFunded(owner)); !errors.Is(err, program.ErrAlreadyInitialized) {
		t.Errorf("got %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitializeRecord_InsufficientFunds(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, out := newTestAllocator(t, backend)
	owner := ownerKey(4)

	_, err := a.InitializeRecord(context.Background(), selfFunded(owner))
	if !errors.Is(err, program.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if !program.Retryable(err) {
		t.Error("insufficient funds should be retryable")
	}

	addr, _, _ := a.DeriveAddress(owner)
	if ok, _ := backend.Exists(context.Background(), addr); ok {
		t.Error("slot must not exist after a failed initialize")
	}
	if len(out) != 0 {
		t.Errorf("failed initialize emitted %d outputs", len(out))
	}

	// One lamport short still fails and debits nothing.
	fundWallet(t, backend, owner, rentForRecord-1)
	if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); !errors.Is(err, program.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if got := balanceOf(t, backend, owner); got != rentForRecord-1 {
		t.Errorf("wallet: got %d, want %d", got, rentForRecord-1)
	}

	// Exactly the rent succeeds.
	fundWallet(t, backend, owner, 1)
	if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
		t.Fatalf("retry after funding: %v", err)
	}
	if got := balanceOf(t, backend, owner); got != 0 {
		t.Errorf("wallet: got %d, want 0", got)
	}
}

func TestInitializeRecord_Unauthorized(t *testing.T) {
	owner := ownerKey(5)
	other := ownerKey(6)

	cases := map[string]program.InitializeRequest{
		"funding source is not owner": {
			Owner:         owner,
			FundingSource: other,
			Signers:       []address.PublicKey{owner, other},
		},
		"owner did not sign": {
			Owner:         owner,
			FundingSource: owner,
			Signers:       []address.PublicKey{other},
		},
		"no signers": {
			Owner:         owner,
			FundingSource: owner,
		},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			backend := &countingBackend{Backend: store.NewMemoryBackend()}
			fundWallet(t, backend.Backend, owner, 5_000_000)
			fundWallet(t, backend.Backend, other, 5_000_000)
			a, _ := newTestAllocator(t, backend)

			_, err := a.InitializeRecord(context.Background(), req)
			if !errors.Is(err, program.ErrUnauthorized) {
				t.Fatalf("got %v, want ErrUnauthorized", err)
			}
			if n := backend.calls.Load(); n != 0 {
				t.Errorf("unauthorized request reached storage %d times", n)
			}
		})
	}
}

func TestInitializeRecord_DistinctOwners(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)

	seen := make(map[address.PublicKey]bool)
	for i := byte(0); i < 16; i++ {
		owner := ownerKey(100 + i)
		fundWallet(t, backend, owner, rentForRecord)
		if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
			t.Fatalf("owner %d: %v", i, err)
		}
		addr, _, _ := a.DeriveAddress(owner)
		if seen[addr] {
			t.Fatalf("address collision at owner %d", i)
		}
		seen[addr] = true
	}
}

func TestInitializeRecord_ConcurrentExactlyOnce(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, out := newTestAllocator(t, backend)
	owner := ownerKey(7)
	fundWallet(t, backend, owner, 100_000_000)

	const workers = 32
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.InitializeRecord(context.Background(), selfFunded(owner))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, program.ErrAlreadyInitialized):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes: got %d, want 1", successes.Load())
	}
	if conflicts.Load() != workers-1 {
		t.Errorf("conflicts: got %d, want %d", conflicts.Load(), workers-1)
	}
	if got := balanceOf(t, backend, owner); got != 100_000_000-rentForRecord {
		t.Errorf("wallet: got %d, want exactly one debit", got)
	}
	if len(out) != 1 {
		t.Errorf("outputs: got %d, want 1", len(out))
	}
}

func TestInitializeRecord_CancelledContext(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)
	owner := ownerKey(8)
	fundWallet(t, backend, owner, 5_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.InitializeRecord(ctx, selfFunded(owner)); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if got := balanceOf(t, backend, owner); got != 5_000_000 {
		t.Errorf("wallet changed: %d", got)
	}
}

func TestInitializeRecord_DerivationFailureTouchesNothing(t *testing.T) {
	backend := &countingBackend{Backend: store.NewMemoryBackend()}
	a, out := newTestAllocator(t, backend)
	program.SetDerive(a, func(owner, programID address.PublicKey) (address.PublicKey, uint8, error) {
		return address.PublicKey{}, 0, address.ErrNoViableBump
	})
	owner := ownerKey(10)

	_, err := a.InitializeRecord(context.Background(), selfFunded(owner))
	if !errors.Is(err, program.ErrAddressDerivation) {
		t.Fatalf("got %v, want ErrAddressDerivation", err)
	}
	if !errors.Is(err, address.ErrNoViableBump) {
		t.Errorf("cause lost: %v", err)
	}
	if program.Retryable(err) {
		t.Error("derivation failure must not be retryable")
	}
	if got := backend.calls.Load(); got != 0 {
		t.Errorf("backend calls: got %d, want 0", got)
	}
	if len(out) != 0 {
		t.Errorf("outputs: got %d, want 0", len(out))
	}

	if _, _, err := a.FetchRecord(context.Background(), owner); !errors.Is(err, program.ErrAddressDerivation) {
		t.Errorf("fetch: got %v, want ErrAddressDerivation", err)
	}
	if _, _, err := a.EnsureRecord(context.Background(), selfFunded(owner)); !errors.Is(err, program.ErrAddressDerivation) {
		t.Errorf("ensure: got %v, want ErrAddressDerivation", err)
	}
	if got := backend.calls.Load(); got != 0 {
		t.Errorf("backend calls after fetch and ensure: got %d, want 0", got)
	}
}

func TestInitializeRecord_PrefundedAddressIsClaimed(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, out := newTestAllocator(t, backend)
	owner := ownerKey(11)
	addr, _, _ := a.DeriveAddress(owner)

	// Anyone may airdrop to the derived address before the owner shows up.
	if _, err := a.Fund(context.Background(), addr, 5, "grief"); err != nil {
		t.Fatalf("fund derived address: %v", err)
	}
	<-out
	if _, _, err := a.FetchRecord(context.Background(), owner); !errors.Is(err, program.ErrNotInitialized) {
		t.Fatalf("fetch before initialize: got %v, want ErrNotInitialized", err)
	}

	fundWallet(t, backend, owner, rentForRecord)
	record, err := a.InitializeRecord(context.Background(), selfFunded(owner))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if record.Owner != owner || record.TotalValue != 0 {
		t.Errorf("record: %+v", record)
	}
	if got := balanceOf(t, backend, addr); got != rentForRecord+5 {
		t.Errorf("record lamports: got %d, want %d", got, rentForRecord+5)
	}
	if got := balanceOf(t, backend, owner); got != 0 {
		t.Errorf("wallet: got %d, want 0", got)
	}

	o := <-out
	var payload event.PortfolioInitialized
	if err := json.Unmarshal(o.Envelope.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Lamports != rentForRecord || payload.Carried != 5 {
		t.Errorf("payload: %+v", payload)
	}
	if len(o.Batch.Journals) != 2 {
		t.Fatalf("journals: got %d, want 2", len(o.Batch.Journals))
	}
	carry := o.Batch.Journals[1]
	if carry.JournalType != ledger.JournalTypeBalanceCarry || carry.Amount != 5 ||
		carry.DebitAccount != ledger.NewRecordAccountKey(addr) || carry.CreditAccount != ledger.NewWalletAccountKey(addr) {
		t.Errorf("carry journal: %+v", carry)
	}

	if _, _, err := a.FetchRecord(context.Background(), owner); err != nil {
		t.Errorf("fetch after initialize: %v", err)
	}
	if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); !errors.Is(err, program.ErrAlreadyInitialized) {
		t.Errorf("second initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestEnsureRecord_ClaimsPrefundedAddress(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)
	owner := ownerKey(12)
	addr, _, _ := a.DeriveAddress(owner)
	fundWallet(t, backend, addr, 1)
	fundWallet(t, backend, owner, rentForRecord)

	// A stale existence check must not turn a bare balance into a record.
	if a.Existence().IsInitialized(context.Background(), addr) {
		t.Fatal("bare balance reported as initialized")
	}

	record, created, err := a.EnsureRecord(context.Background(), selfFunded(owner))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created || record.Owner != owner {
		t.Errorf("got created=%v record=%+v", created, record)
	}
}

// ============================================================================
// Test: Outputs & hash chain
// ============================================================================

func TestInitializeRecord_EmitsOutput(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, out := newTestAllocator(t, backend)
	owner := ownerKey(9)
	fundWallet(t, backend, owner, 5_000_000)

	req := selfFunded(owner)
	req.RequestID = "req-init-9"
	if _, err := a.InitializeRecord(context.Background(), req); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var o program.Output
	select {
	case o = <-out:
	default:
		t.Fatal("no output emitted")
	}

	addr, bump, _ := a.DeriveAddress(owner)
	env := o.Envelope
	if env.Sequence != 0 || env.EventType != event.EventTypePortfolioInitialized || env.IdempotencyKey != "req-init-9" {
		t.Errorf("envelope metadata: %+v", env)
	}
	if env.Address != addr {
		t.Errorf("envelope address: got %s, want %s", env.Address, addr)
	}
	if env.PrevHash != program.GenesisHash() {
		t.Error("first output must chain from genesis")
	}
	if env.StateHash != a.GetStateHash() {
		t.Error("envelope hash must be the chain tip")
	}

	var payload event.PortfolioInitialized
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Bump != bump || payload.Owner != owner || payload.Lamports != rentForRecord || payload.Space != portfolio.Space {
		t.Errorf("payload: %+v", payload)
	}

	if len(o.Batch.Journals) != 1 {
		t.Fatalf("journals: got %d, want 1", len(o.Batch.Journals))
	}
	j := o.Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeRentDeposit || j.Amount != rentForRecord {
		t.Errorf("journal: %+v", j)
	}
	if j.DebitAccount != ledger.NewRecordAccountKey(addr) || j.CreditAccount != ledger.NewWalletAccountKey(owner) {
		t.Errorf("journal accounts: %s <- %s", j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath())
	}
}

func TestHashChain_LinksOutputs(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, out := newTestAllocator(t, backend)

	for i := byte(0); i < 3; i++ {
		owner := ownerKey(20 + i)
		fundWallet(t, backend, owner, rentForRecord)
		if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
			t.Fatalf("initialize %d: %v", i, err)
		}
	}

	prev := program.GenesisHash()
	for i := int64(0); i < 3; i++ {
		o := <-out
		if o.Envelope.Sequence != i {
			t.Errorf("sequence: got %d, want %d", o.Envelope.Sequence, i)
		}
		if o.Envelope.PrevHash != prev {
			t.Errorf("output %d does not link to its predecessor", i)
		}
		prev = o.Envelope.StateHash
	}
	if a.GetSequence() != 3 {
		t.Errorf("next sequence: got %d, want 3", a.GetSequence())
	}
}

func TestStateHash_DependsOnlyOnTheBatch(t *testing.T) {
	owner := ownerKey(13)
	tip := [32]byte{0x5a}

	// One allocator has history for owner's wallet, the other has none.
	busyBackend := store.NewMemoryBackend()
	busy, _ := newTestAllocator(t, busyBackend)
	for i := 0; i < 3; i++ {
		if _, err := busy.Fund(context.Background(), owner, 1_000_000, ""); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	busy.Restore(5, tip)

	freshBackend := store.NewMemoryBackend()
	fresh, _ := newTestAllocator(t, freshBackend)
	fundWallet(t, freshBackend, owner, 3_000_000)
	fresh.Restore(5, tip)

	for _, a := range []*program.Allocator{busy, fresh} {
		if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}
	if busy.GetStateHash() != fresh.GetStateHash() {
		t.Error("state hash must not depend on earlier commits beyond the chain tip")
	}
}

func TestOutput_FullChannelDoesNotBlock(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, err := program.NewAllocator(backend, testConfig(), make(chan program.Output), nil, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	owner := ownerKey(30)
	fundWallet(t, backend, owner, rentForRecord)

	if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func TestStateHasher_Deterministic(t *testing.T) {
	h1 := program.NewStateHasher()
	h2 := program.NewStateHasher()

	for seq := int64(0); seq < 5; seq++ {
		d := []byte{byte(seq), 0xaa}
		if h1.ComputeHash(seq, d) != h2.ComputeHash(seq, d) {
			t.Fatalf("hash diverged at sequence %d", seq)
		}
	}

	h3 := program.NewStateHasher()
	h3.Restore(h1.GetPrevHash())
	if h3.ComputeHash(5, nil) != h1.ComputeHash(5, nil) {
		t.Error("restored hasher must continue the chain")
	}
}

// ============================================================================
// Test: FetchRecord / EnsureRecord
// ============================================================================

func TestFetchRecord_NotInitialized(t *testing.T) {
	a, _ := newTestAllocator(t, store.NewMemoryBackend())

	_, addr, err := a.FetchRecord(context.Background(), ownerKey(40))
	if !errors.Is(err, program.ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
	want, _, _ := a.DeriveAddress(ownerKey(40))
	if addr != want {
		t.Errorf("address: got %s, want %s", addr, want)
	}
}

func TestFetchRecord_AfterInitialize(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)
	owner := ownerKey(41)
	fundWallet(t, backend, owner, rentForRecord)

	if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	record, _, err := a.FetchRecord(context.Background(), owner)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if record.Owner != owner || record.TotalValue != 0 {
		t.Errorf("record: %+v", record)
	}
}

func TestEnsureRecord_CreatesOnce(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)
	owner := ownerKey(42)
	fundWallet(t, backend, owner, 5_000_000)

	_, created, err := a.EnsureRecord(context.Background(), selfFunded(owner))
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}

	record, created, err := a.EnsureRecord(context.Background(), selfFunded(owner))
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if created {
		t.Error("second ensure must not create")
	}
	if record.Owner != owner {
		t.Errorf("owner: got %s", record.Owner)
	}
	if got := balanceOf(t, backend, owner); got != 5_000_000-rentForRecord {
		t.Errorf("wallet: got %d", got)
	}
}

func TestEnsureRecord_PropagatesInsufficientFunds(t *testing.T) {
	a, _ := newTestAllocator(t, store.NewMemoryBackend())

	if _, _, err := a.EnsureRecord(context.Background(), selfFunded(ownerKey(43))); !errors.Is(err, program.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

// ============================================================================
// Test: Fund, DeriveAddress, AllocationCost
// ============================================================================

func TestFund_CreditsWallet(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, out := newTestAllocator(t, backend)
	wallet := ownerKey(50)

	balance, err := a.Fund(context.Background(), wallet, 2_000_000, "drop-1")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if balance != 2_000_000 {
		t.Errorf("balance: got %d, want 2_000_000", balance)
	}

	o := <-out
	if o.Envelope.EventType != event.EventTypeWalletFunded || o.Envelope.IdempotencyKey != "drop-1" {
		t.Errorf("envelope: %+v", o.Envelope)
	}
	if o.Batch.Journals[0].CreditAccount != ledger.FaucetAccount {
		t.Errorf("airdrop must credit the faucet, got %s", o.Batch.Journals[0].CreditAccount.AccountPath())
	}
}

func TestFund_Rejections(t *testing.T) {
	backend := store.NewMemoryBackend()
	a, _ := newTestAllocator(t, backend)

	if _, err := a.Fund(context.Background(), ownerKey(51), 0, ""); !errors.Is(err, program.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v", err)
	}
	if _, err := a.Fund(context.Background(), ownerKey(51), 10_000_000_001, ""); !errors.Is(err, program.ErrFaucetLimit) {
		t.Errorf("over limit: got %v", err)
	}

	// A record slot is not a wallet.
	owner := ownerKey(52)
	fundWallet(t, backend, owner, rentForRecord)
	if _, err := a.InitializeRecord(context.Background(), selfFunded(owner)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	addr, _, _ := a.DeriveAddress(owner)
	if _, err := a.Fund(context.Background(), addr, 1, ""); !errors.Is(err, program.ErrInvalidWallet) {
		t.Errorf("record slot: got %v, want ErrInvalidWallet", err)
	}
}

func TestFund_Disabled(t *testing.T) {
	a, err := program.NewAllocator(store.NewMemoryBackend(), program.DefaultConfig(), nil, nil, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	if _, err := a.Fund(context.Background(), ownerKey(53), 1, ""); !errors.Is(err, program.ErrFaucetDisabled) {
		t.Errorf("got %v, want ErrFaucetDisabled", err)
	}
}

func TestDeriveAddress_MatchesRecordSeeds(t *testing.T) {
	a, _ := newTestAllocator(t, store.NewMemoryBackend())
	owner := ownerKey(60)

	addr, bump, err := a.DeriveAddress(owner)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	want, wantBump, _ := portfolio.DeriveAddress(owner, program.DefaultProgramID)
	if addr != want || bump != wantBump {
		t.Errorf("got %s/%d, want %s/%d", addr, bump, want, wantBump)
	}
}

func TestAllocationCost(t *testing.T) {
	a, _ := newTestAllocator(t, store.NewMemoryBackend())
	if got := a.AllocationCost(); got != rentForRecord {
		t.Errorf("got %d, want %d", got, rentForRecord)
	}
}

func TestNewAllocator_RejectsSystemProgramID(t *testing.T) {
	cfg := program.DefaultConfig()
	cfg.ProgramID = address.SystemProgramID
	if _, err := program.NewAllocator(store.NewMemoryBackend(), cfg, nil, nil, observability.NewNopLogger()); err == nil {
		t.Error("expected error for system program id")
	}
}

func TestResultLabel(t *testing.T) {
	cases := map[string]error{
		"ok":                  nil,
		"already_initialized": program.ErrAlreadyInitialized,
		"insufficient_funds":  errors.Join(errors.New("ctx"), program.ErrInsufficientFunds),
		"unauthorized":        program.ErrUnauthorized,
		"error":               errors.New("disk on fire"),
	}
	for want, err := range cases {
		if got := program.ResultLabel(err); got != want {
			t.Errorf("ResultLabel(%v): got %q, want %q", err, got, want)
		}
	}
}

// ============================================================================
// Test: ExistenceCache
// ============================================================================

type stubLookup struct {
	present map[address.PublicKey]bool
	err     error
	calls   int
}

func (s *stubLookup) Exists(ctx context.Context, addr address.PublicKey) (bool, error) {
	s.calls++
	return s.present[addr], s.err
}

func TestExistenceCache_BackendHitPromotes(t *testing.T) {
	addr := address.PublicKey{0x77}
	lookup := &stubLookup{present: map[address.PublicKey]bool{addr: true}}
	c, err := program.NewExistenceCache(8, lookup, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if !c.IsInitialized(context.Background(), addr) {
		t.Fatal("backend hit should report initialized")
	}
	if !c.IsInitialized(context.Background(), addr) {
		t.Fatal("second lookup should hit")
	}
	if lookup.calls != 1 {
		t.Errorf("backend calls: got %d, want 1", lookup.calls)
	}
}

func TestExistenceCache_BackendErrorIsMiss(t *testing.T) {
	lookup := &stubLookup{err: errors.New("timeout")}
	c, _ := program.NewExistenceCache(8, lookup, nil)

	if c.IsInitialized(context.Background(), address.PublicKey{1}) {
		t.Error("backend error must not report initialized")
	}
}

func TestExistenceCache_EvictsOldest(t *testing.T) {
	c, _ := program.NewExistenceCache(2, nil, nil)
	c.Warm([]address.PublicKey{{1}, {2}, {3}})

	if c.Len() != 2 {
		t.Errorf("len: got %d, want 2", c.Len())
	}
	if c.IsInitialized(context.Background(), address.PublicKey{1}) {
		t.Error("oldest entry should have been evicted")
	}
}

func TestExistenceCache_RejectsZeroCapacity(t *testing.T) {
	if _, err := program.NewExistenceCache(0, nil, nil); err == nil {
		t.Error("expected error for zero capacity")
	}
}
