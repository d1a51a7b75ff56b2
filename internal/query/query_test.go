package query_test

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/observability"
	"PortfolioLedger/internal/persistence"
	"PortfolioLedger/internal/program"
	"PortfolioLedger/internal/query"
	"PortfolioLedger/internal/store"
	"PortfolioLedger/internal/testutil"
	"context"
	"database/sql"
	"testing"
	"time"
)

// populate runs one airdrop and one initialize through the allocator and
// drains the outputs into the event log.
func populate(t *testing.T, db *sql.DB, owner address.PublicKey) *program.Allocator {
	t.Helper()
	ctx := context.Background()

	out := make(chan program.Output, 16)
	cfg := program.DefaultConfig()
	cfg.FaucetEnabled = true
	alloc, err := program.NewAllocator(persistence.NewPostgresBackend(db), cfg, out, nil, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("allocator: %v", err)
	}

	if _, err := alloc.Fund(ctx, owner, 5_000_000, "drop-1"); err != nil {
		t.Fatalf("fund: %v", err)
	}
	req := program.InitializeRequest{Owner: owner, FundingSource: owner, Signers: []address.PublicKey{owner}, RequestID: "init-1"}
	if _, err := alloc.InitializeRecord(ctx, req); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	close(out)

	worker := persistence.NewPersistenceWorker(db, out, 10, 50*time.Millisecond, nil, observability.NewNopLogger())
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("worker: %v", err)
	}
	return alloc
}

// ============================================================================
// Integration: journal history
// ============================================================================

func TestGetJournalHistory(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	owner := address.PublicKey{0x31}
	alloc := populate(t, db, owner)
	qs := query.NewQueryService(db, program.DefaultProgramID)
	ctx := context.Background()

	entries, err := qs.GetJournalHistory(ctx, owner, 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].JournalType != "rent_deposit" || entries[1].JournalType != "airdrop" {
		t.Errorf("order: got %s, %s", entries[0].JournalType, entries[1].JournalType)
	}
	if entries[0].Amount != 1_224_960 {
		t.Errorf("rent amount: got %d, want 1224960", entries[0].Amount)
	}

	paged, err := qs.GetJournalHistory(ctx, owner, 10, entries[0].Sequence)
	if err != nil {
		t.Fatalf("paged history: %v", err)
	}
	if len(paged) != 1 || paged[0].JournalType != "airdrop" {
		t.Errorf("paged: %+v", paged)
	}

	addr, _, _ := alloc.DeriveAddress(owner)
	slotEntries, err := qs.GetJournalHistory(ctx, addr, 10, 0)
	if err != nil {
		t.Fatalf("slot history: %v", err)
	}
	if len(slotEntries) != 1 || slotEntries[0].DebitAccount != "record:"+addr.String() {
		t.Errorf("slot history: %+v", slotEntries)
	}
}

// ============================================================================
// Integration: integrity
// ============================================================================

func TestVerifyIntegrity_Healthy(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	populate(t, db, address.PublicKey{0x32})

	report, err := query.NewQueryService(db, program.DefaultProgramID).VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsHealthy || report.Events != 2 {
		t.Errorf("report: %+v", report)
	}
}

func TestVerifyIntegrity_DetectsBreaks(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	populate(t, db, address.PublicKey{0x33})

	if _, err := db.ExecContext(ctx,
		`UPDATE event_log.events SET prev_hash = '\x00'::bytea WHERE sequence = 1`,
	); err != nil {
		t.Fatalf("corrupt chain: %v", err)
	}

	// A slot allocated behind the allocator's back has no creating event.
	orphan := address.PublicKey{0x99}
	backend := persistence.NewPostgresBackend(db)
	err := backend.Update(ctx, func(tx store.Tx) error {
		_, err := tx.Allocate(store.CreateParams{
			Address:  orphan,
			Payer:    address.PublicKey{0x33},
			Owner:    program.DefaultProgramID,
			Space:    48,
			Lamports: 1,
		})
		return err
	})
	if err != nil {
		t.Fatalf("allocate orphan: %v", err)
	}

	report, err := query.NewQueryService(db, program.DefaultProgramID).VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsHealthy {
		t.Fatal("report should be unhealthy")
	}
	if len(report.HashChainBreaks) != 1 || report.HashChainBreaks[0] != 1 {
		t.Errorf("chain breaks: got %v, want [1]", report.HashChainBreaks)
	}
	if len(report.OrphanRecords) != 1 || report.OrphanRecords[0] != orphan.String() {
		t.Errorf("orphans: got %v, want [%s]", report.OrphanRecords, orphan)
	}
}
