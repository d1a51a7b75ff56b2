package query

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/ledger"
	"PortfolioLedger/internal/program"
	"bytes"
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to the event log. It needs the
// Postgres event log; the memory and LevelDB deployments run without it.
type QueryService struct {
	db        *sql.DB
	programID address.PublicKey
}

func NewQueryService(db *sql.DB, programID address.PublicKey) *QueryService {
	return &QueryService{db: db, programID: programID}
}

// GetJournalHistory returns journal entries that debit or credit addr, as a
// wallet or as a record slot, newest first. A positive beforeSequence pages
// backwards from that sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	addr address.PublicKey,
	limit int,
	beforeSequence int64,
) ([]JournalEntry, error) {
	paths := []any{
		ledger.NewWalletAccountKey(addr).AccountPath(),
		ledger.NewRecordAccountKey(addr).AccountPath(),
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account IN ($1, $2) OR credit_account IN ($1, $2))
	`
	args := paths
	argIdx := 3

	if beforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal history %s: %w", addr, err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e           JournalEntry
			journalType int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&journalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(journalType).String()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity walks the event log and cross-checks it against the
// account table: the hash chain must link from the genesis hash without
// gaps, every event must carry journals, and every record slot must have
// the event that created it.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.checkChain(ctx, report); err != nil {
		return nil, err
	}

	unjournaled, err := qs.int64Column(ctx, `
		SELECT e.sequence FROM event_log.events e
		WHERE NOT EXISTS (SELECT 1 FROM event_log.journal j WHERE j.sequence = e.sequence)
		ORDER BY e.sequence
		LIMIT 100
	`)
	if err != nil {
		return nil, fmt.Errorf("unjournaled events: %w", err)
	}
	report.UnjournaledEvents = unjournaled

	rows, err := qs.db.QueryContext(ctx, `
		SELECT a.address FROM ledger.accounts a
		WHERE a.owner = $1 AND NOT EXISTS (
			SELECT 1 FROM event_log.events e
			WHERE e.address = a.address AND e.event_type = 'PortfolioInitialized'
		)
		ORDER BY a.created_at
		LIMIT 100
	`, qs.programID[:])
	if err != nil {
		return nil, fmt.Errorf("orphan records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		addr, err := address.PublicKeyFromBytes(raw)
		if err != nil {
			return nil, err
		}
		report.OrphanRecords = append(report.OrphanRecords, addr.String())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.UnjournaledEvents) == 0 &&
		len(report.OrphanRecords) == 0
	return report, nil
}

// checkChain streams the log in sequence order. The log is append-only and
// small enough per deployment that a single pass beats a self-join.
func (qs *QueryService) checkChain(ctx context.Context, report *IntegrityReport) error {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, prev_hash, state_hash FROM event_log.events ORDER BY sequence
	`)
	if err != nil {
		return fmt.Errorf("hash chain: %w", err)
	}
	defer rows.Close()

	genesis := program.GenesisHash()
	expectedSeq := int64(0)
	expectedPrev := genesis[:]

	for rows.Next() {
		var (
			seq             int64
			prevHash, state []byte
		)
		if err := rows.Scan(&seq, &prevHash, &state); err != nil {
			return err
		}
		report.Events++

		if seq != expectedSeq {
			report.SequenceGaps = append(report.SequenceGaps, expectedSeq)
		}
		// After a gap the predecessor is unknown; only a contiguous pair can break the chain.
		if seq == expectedSeq && !bytes.Equal(prevHash, expectedPrev) {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}

		expectedSeq = seq + 1
		expectedPrev = state
	}
	return rows.Err()
}

func (qs *QueryService) int64Column(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
