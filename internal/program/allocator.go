// Package program hosts the deterministic record allocator: it derives a
// portfolio's address from its owner, allocates the slot exactly once through
// the storage backend, charges rent to the owner and writes the zero baseline.
package program

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/event"
	"PortfolioLedger/internal/ledger"
	"PortfolioLedger/internal/observability"
	"PortfolioLedger/internal/portfolio"
	"PortfolioLedger/internal/store"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultProgramID is used when no program id is configured.
var DefaultProgramID = address.MustParsePublicKey("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

// Config is the process-wide allocator configuration.
type Config struct {
	ProgramID          address.PublicKey
	Rent               ledger.Rent
	ExistenceCacheSize int

	// Airdrops are refused unless FaucetEnabled. FaucetLimit caps a single
	// airdrop; zero means no cap.
	FaucetEnabled bool
	FaucetLimit   uint64
}

func DefaultConfig() Config {
	return Config{
		ProgramID:          DefaultProgramID,
		Rent:               ledger.DefaultRent(),
		ExistenceCacheSize: 100_000,
	}
}

// InitializeRequest is one initialize instruction. Signers lists the
// identities whose signatures the submission layer has already verified.
type InitializeRequest struct {
	Owner         address.PublicKey
	FundingSource address.PublicKey
	Signers       []address.PublicKey
	RequestID     string
}

// Output is emitted for every committed operation.
type Output struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
}

// Allocator is safe for concurrent use. Allocate-once rests on the backend's
// atomic unit of work; the allocator only serializes its own bookkeeping.
type Allocator struct {
	programID address.PublicKey
	backend   store.Backend
	cost      uint64
	existence *ExistenceCache
	derive    func(owner, programID address.PublicKey) (address.PublicKey, uint8, error)

	faucetEnabled bool
	faucetLimit   uint64

	mu       sync.Mutex
	sequence int64
	hasher   *StateHasher

	output  chan<- Output
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewAllocator wires an allocator over backend. output and metrics may be nil.
func NewAllocator(
	backend store.Backend,
	cfg Config,
	output chan<- Output,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Allocator, error) {
	if backend == nil {
		return nil, errors.New("allocator: nil backend")
	}
	if cfg.ProgramID.IsZero() {
		return nil, errors.New("allocator: program id must not be the system program")
	}

	existence, err := NewExistenceCache(cfg.ExistenceCacheSize, backend, metrics)
	if err != nil {
		return nil, err
	}

	return &Allocator{
		programID:     cfg.ProgramID,
		backend:       backend,
		cost:          cfg.Rent.MinimumBalance(portfolio.Space),
		existence:     existence,
		derive:        portfolio.DeriveAddress,
		faucetEnabled: cfg.FaucetEnabled,
		faucetLimit:   cfg.FaucetLimit,
		hasher:        NewStateHasher(),
		output:        output,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// ProgramID returns the program that owns every record slot.
func (a *Allocator) ProgramID() address.PublicKey {
	return a.programID
}

// AllocationCost is the rent-exempt minimum charged for one record.
func (a *Allocator) AllocationCost() uint64 {
	return a.cost
}

// Existence exposes the cache for warming at startup.
func (a *Allocator) Existence() *ExistenceCache {
	return a.existence
}

// DeriveAddress returns the canonical record address and bump for owner.
func (a *Allocator) DeriveAddress(owner address.PublicKey) (address.PublicKey, uint8, error) {
	addr, bump, err := a.derive(owner, a.programID)
	if err != nil {
		return address.PublicKey{}, 0, fmt.Errorf("%w: owner %s: %w", ErrAddressDerivation, owner, err)
	}
	return addr, bump, nil
}

// InitializeRecord allocates and initializes the owner's record. Every error
// path leaves storage untouched.
func (a *Allocator) InitializeRecord(ctx context.Context, req InitializeRequest) (*portfolio.Portfolio, error) {
	start := time.Now()
	record, err := a.initialize(ctx, req)
	a.observe("initialize", start, err)
	return record, err
}

func (a *Allocator) initialize(ctx context.Context, req InitializeRequest) (*portfolio.Portfolio, error) {
	if err := authorize(req); err != nil {
		return nil, err
	}

	addr, bump, err := a.DeriveAddress(req.Owner)
	if err != nil {
		return nil, err
	}

	log := a.logger.With().
		Str("owner", req.Owner.String()).
		Str("address", addr.String()).
		Logger()

	if a.existence.IsInitialized(ctx, addr) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, addr)
	}

	record := portfolio.New(req.Owner)
	data, err := record.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode portfolio: %w", err)
	}

	var carried uint64
	err = a.backend.Update(ctx, func(tx store.Tx) error {
		exists, err := tx.Exists(addr)
		if err != nil {
			return err
		}
		if exists {
			return store.ErrAccountExists
		}

		slot, err := tx.Allocate(store.CreateParams{
			Address:  addr,
			Payer:    req.FundingSource,
			Owner:    a.programID,
			Space:    portfolio.Space,
			Lamports: a.cost,
		})
		if err != nil {
			return err
		}
		carried = slot.Carried

		return tx.WriteData(slot, data)
	})
	if err != nil {
		err = translateStoreError(err, addr)
		if errors.Is(err, ErrAlreadyInitialized) {
			a.existence.MarkInitialized(addr)
		}
		log.Debug().Err(err).Msg("initialize rejected")
		return nil, err
	}

	a.existence.MarkInitialized(addr)

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	payload := mustMarshal(event.PortfolioInitialized{
		Address:    addr,
		Bump:       bump,
		Owner:      record.Owner,
		Payer:      req.FundingSource,
		ProgramID:  a.programID,
		Space:      portfolio.Space,
		Lamports:   a.cost,
		Carried:    carried,
		TotalValue: record.TotalValue,
	})

	env := a.commit(event.EventTypePortfolioInitialized, requestID, addr, int64(a.cost+carried), payload, func(seq, ts int64) *ledger.Batch {
		return ledger.NewRecordClaimBatch(requestID, seq, req.FundingSource, addr, a.cost, carried, ts)
	})

	if a.metrics != nil {
		a.metrics.RecordsInitialized.Inc()
		a.metrics.RentDeposited.Add(float64(a.cost))
	}

	log.Info().
		Int64("sequence", env.Sequence).
		Uint8("bump", bump).
		Uint64("lamports", a.cost).
		Uint64("carried", carried).
		Str("request_id", requestID).
		Msg("portfolio initialized")

	return record, nil
}

func authorize(req InitializeRequest) error {
	if req.FundingSource != req.Owner {
		return fmt.Errorf("%w: funding source %s is not owner %s", ErrUnauthorized, req.FundingSource, req.Owner)
	}
	if !slices.Contains(req.Signers, req.Owner) {
		return fmt.Errorf("%w: owner %s did not sign", ErrUnauthorized, req.Owner)
	}
	return nil
}

func translateStoreError(err error, addr address.PublicKey) error {
	switch {
	case errors.Is(err, store.ErrAccountExists):
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, addr)
	case errors.Is(err, store.ErrInsufficientFunds):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, store.ErrInvalidPayer):
		return fmt.Errorf("%w: %w", ErrInvalidWallet, err)
	default:
		return fmt.Errorf("initialize %s: %w", addr, err)
	}
}

// FetchRecord reads and decodes the record at owner's derived address.
func (a *Allocator) FetchRecord(ctx context.Context, owner address.PublicKey) (*portfolio.Portfolio, address.PublicKey, error) {
	start := time.Now()
	record, addr, err := a.fetch(ctx, owner)
	a.observe("fetch", start, err)
	return record, addr, err
}

func (a *Allocator) fetch(ctx context.Context, owner address.PublicKey) (*portfolio.Portfolio, address.PublicKey, error) {
	addr, _, err := a.DeriveAddress(owner)
	if err != nil {
		return nil, addr, err
	}

	acct, err := a.backend.Get(ctx, addr)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, addr, fmt.Errorf("%w: %s", ErrNotInitialized, addr)
	}
	if err != nil {
		return nil, addr, fmt.Errorf("fetch %s: %w", addr, err)
	}
	if acct.Owner != a.programID {
		return nil, addr, fmt.Errorf("%w: %s is owned by %s", ErrNotInitialized, addr, acct.Owner)
	}

	record, err := portfolio.Decode(acct.Data)
	if err != nil {
		return nil, addr, fmt.Errorf("decode %s: %w", addr, err)
	}
	if record.Owner != owner {
		return nil, addr, fmt.Errorf("record %s names owner %s, derived from %s", addr, record.Owner, owner)
	}

	a.existence.MarkInitialized(addr)
	return record, addr, nil
}

// EnsureRecord returns the owner's record, initializing it first if absent.
// created reports whether this call allocated it.
func (a *Allocator) EnsureRecord(ctx context.Context, req InitializeRequest) (record *portfolio.Portfolio, created bool, err error) {
	record, _, err = a.FetchRecord(ctx, req.Owner)
	if err == nil {
		return record, false, nil
	}
	if !errors.Is(err, ErrNotInitialized) {
		return nil, false, err
	}

	record, err = a.InitializeRecord(ctx, req)
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, ErrAlreadyInitialized) {
		return nil, false, err
	}

	// Lost a race with a concurrent initializer.
	record, _, err = a.FetchRecord(ctx, req.Owner)
	if err != nil {
		return nil, false, err
	}
	return record, false, nil
}

// Account returns the raw account at addr.
func (a *Allocator) Account(ctx context.Context, addr address.PublicKey) (*store.Account, error) {
	acct, err := a.backend.Get(ctx, addr)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", addr, err)
	}
	return acct, nil
}

// Fund credits wallet from the faucet and returns its new balance.
func (a *Allocator) Fund(ctx context.Context, wallet address.PublicKey, lamports uint64, requestID string) (uint64, error) {
	start := time.Now()
	balance, err := a.fund(ctx, wallet, lamports, requestID)
	a.observe("fund", start, err)
	return balance, err
}

func (a *Allocator) fund(ctx context.Context, wallet address.PublicKey, lamports uint64, requestID string) (uint64, error) {
	if !a.faucetEnabled {
		return 0, ErrFaucetDisabled
	}
	if lamports == 0 || lamports > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, lamports)
	}
	if a.faucetLimit > 0 && lamports > a.faucetLimit {
		return 0, fmt.Errorf("%w: %d > %d", ErrFaucetLimit, lamports, a.faucetLimit)
	}

	balance, err := a.backend.Fund(ctx, wallet, lamports)
	switch {
	case errors.Is(err, store.ErrInvalidPayer):
		return 0, fmt.Errorf("%w: %s", ErrInvalidWallet, wallet)
	case errors.Is(err, store.ErrBalanceOverflow):
		return 0, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	case err != nil:
		return 0, fmt.Errorf("fund %s: %w", wallet, err)
	}

	if requestID == "" {
		requestID = uuid.NewString()
	}

	payload := mustMarshal(event.WalletFunded{
		Wallet:   wallet,
		Lamports: lamports,
		Balance:  balance,
	})

	env := a.commit(event.EventTypeWalletFunded, requestID, wallet, 0, payload, func(seq, ts int64) *ledger.Batch {
		return ledger.NewAirdropBatch(requestID, seq, wallet, lamports, ts)
	})

	if a.metrics != nil {
		a.metrics.LamportsAirdropped.Add(float64(lamports))
	}

	a.logger.Info().
		Str("wallet", wallet.String()).
		Uint64("lamports", lamports).
		Uint64("balance", balance).
		Int64("sequence", env.Sequence).
		Msg("wallet funded")

	return balance, nil
}

// commit records a successful operation: journals, invariant checks, hash
// chain, output. Invariants are checked on the batch alone, so nothing
// accumulates per account. A broken invariant here means the ledger itself
// is wrong, so it panics. A non-zero reserve is the exact balance the batch
// must leave in subject's record.
func (a *Allocator) commit(
	evtType event.EventType,
	key string,
	subject address.PublicKey,
	reserve int64,
	payload []byte,
	build func(seq, ts int64) *ledger.Batch,
) *event.EventEnvelope {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	seq := a.sequence
	batch := build(seq, now.UnixMicro())

	movements := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(movements)
	if err := validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := movements.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch: %v", err))
	}
	if reserve > 0 {
		if err := validator.ValidateRecordReserve(subject, reserve); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}
	if err := validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	hashStart := time.Now()
	prevHash := a.hasher.GetPrevHash()
	stateHash := a.hasher.ComputeHash(seq, computeStateDigest(batch, movements, payload))

	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: key,
		EventType:      evtType,
		Address:        subject,
		Timestamp:      now,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	a.sequence++

	if a.output != nil {
		select {
		case a.output <- Output{Envelope: env, Batch: batch}:
		default:
			if a.metrics != nil {
				a.metrics.OutputDrops.WithLabelValues("output").Inc()
			}
			a.logger.Warn().Int64("sequence", seq).Msg("output channel full, dropping")
		}
	}

	if a.metrics != nil {
		a.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
		a.metrics.AllocatorSequence.Set(float64(seq))
		for _, j := range batch.Journals {
			a.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}

	return env
}

// computeStateDigest creates canonical bytes for the state hash: the touched
// accounts' net movement in path order, then the payload.
func computeStateDigest(batch *ledger.Batch, movements *ledger.BalanceTracker, payload []byte) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(payload))
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, movements.GetBalance(key))
	}
	return append(digest, payload...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// Restore resumes sequence numbering and the hash chain after a restart.
func (a *Allocator) Restore(nextSequence int64, tip [32]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sequence = nextSequence
	a.hasher.Restore(tip)
}

// GetSequence returns the next sequence to be assigned.
func (a *Allocator) GetSequence() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sequence
}

// GetStateHash returns the chain tip.
func (a *Allocator) GetStateHash() [32]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasher.GetPrevHash()
}

func (a *Allocator) observe(op string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	a.metrics.AllocatorRequests.WithLabelValues(op, ResultLabel(err)).Inc()
	a.metrics.AllocatorDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ResultLabel maps an allocator error to a low-cardinality label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAddressDerivation):
		return "address_derivation"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrFaucetDisabled), errors.Is(err, ErrFaucetLimit):
		return "faucet"
	default:
		return "error"
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %T: %v", v, err))
	}
	return b
}
