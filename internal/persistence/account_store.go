package persistence

import (
	"PortfolioLedger/internal/address"
	"PortfolioLedger/internal/store"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
)

// Postgres SQLSTATE for a failed CHECK constraint.
const pqCheckViolation = "23514"

// PostgresBackend keeps accounts in ledger.accounts.
//
// A unit of work is one READ COMMITTED transaction. The payer row is locked
// with SELECT ... FOR UPDATE and the slot is upserted with a conditional
// ON CONFLICT (address) DO UPDATE that only claims a bare system account, so
// two allocators racing on the same address serialize on the row and exactly
// one of them lands.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend wraps db. The caller owns db and closes it.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lamportsArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func scanAccount(row *sql.Row, addr address.PublicKey) (*store.Account, error) {
	var (
		lamports uint64
		owner    []byte
		data     []byte
	)
	if err := row.Scan(&lamports, &owner, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, addr)
		}
		return nil, fmt.Errorf("scan account %s: %w", addr, err)
	}

	ownerKey, err := address.PublicKeyFromBytes(owner)
	if err != nil {
		return nil, fmt.Errorf("account %s owner: %w", addr, err)
	}
	return &store.Account{
		Address:  addr,
		Lamports: lamports,
		Owner:    ownerKey,
		Data:     data,
	}, nil
}

func getAccount(ctx context.Context, q queryer, addr address.PublicKey) (*store.Account, error) {
	row := q.QueryRowContext(ctx,
		`SELECT lamports, owner, data FROM ledger.accounts WHERE address = $1`,
		addr[:],
	)
	return scanAccount(row, addr)
}

func accountExists(ctx context.Context, q queryer, addr address.PublicKey) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM ledger.accounts
		 WHERE address = $1 AND (owner <> $2 OR octet_length(data) > 0)`,
		addr[:], address.SystemProgramID[:],
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", addr, err)
	}
	return true, nil
}

type postgresTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *postgresTx) Exists(addr address.PublicKey) (bool, error) {
	return accountExists(t.ctx, t.tx, addr)
}

func (t *postgresTx) Get(addr address.PublicKey) (*store.Account, error) {
	return getAccount(t.ctx, t.tx, addr)
}

func (t *postgresTx) Allocate(p store.CreateParams) (*store.Slot, error) {
	if p.Payer == p.Address {
		return nil, fmt.Errorf("%w: %s cannot pay for itself", store.ErrInvalidPayer, p.Payer)
	}

	var (
		balance  uint64
		owner    []byte
		dataSize int
	)
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT lamports, owner, octet_length(data) FROM ledger.accounts WHERE address = $1 FOR UPDATE`,
		p.Payer[:],
	).Scan(&balance, &owner, &dataSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payer %s has no account (need %d lamports)", store.ErrInsufficientFunds, p.Payer, p.Lamports)
	}
	if err != nil {
		return nil, fmt.Errorf("lock payer %s: %w", p.Payer, err)
	}
	if string(owner) != string(address.SystemProgramID[:]) || dataSize != 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrInvalidPayer, p.Payer)
	}
	if balance < p.Lamports {
		return nil, fmt.Errorf("%w: payer %s has %d lamports, need %d", store.ErrInsufficientFunds, p.Payer, balance, p.Lamports)
	}

	// A bare system account at the address is claimed and keeps its lamports.
	var reserve uint64
	err = t.tx.QueryRowContext(t.ctx,
		`INSERT INTO ledger.accounts (address, lamports, owner, data)
		 VALUES ($1, $2::numeric, $3, $4)
		 ON CONFLICT (address) DO UPDATE
		   SET lamports = ledger.accounts.lamports + EXCLUDED.lamports,
		       owner = EXCLUDED.owner, data = EXCLUDED.data, updated_at = NOW()
		   WHERE ledger.accounts.owner = $5 AND octet_length(ledger.accounts.data) = 0
		 RETURNING lamports`,
		p.Address[:], lamportsArg(p.Lamports), p.Owner[:], make([]byte, p.Space), address.SystemProgramID[:],
	).Scan(&reserve)
	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", store.ErrAccountExists, p.Address)
	case errors.As(err, &pqErr) && pqErr.Code == pqCheckViolation:
		return nil, fmt.Errorf("%w: %s", store.ErrBalanceOverflow, p.Address)
	case err != nil:
		return nil, fmt.Errorf("insert slot %s: %w", p.Address, err)
	}

	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE ledger.accounts SET lamports = lamports - $2::numeric, updated_at = NOW() WHERE address = $1`,
		p.Payer[:], lamportsArg(p.Lamports),
	); err != nil {
		return nil, fmt.Errorf("debit payer %s: %w", p.Payer, err)
	}

	return &store.Slot{Address: p.Address, Owner: p.Owner, Space: p.Space, Carried: reserve - p.Lamports}, nil
}

func (t *postgresTx) WriteData(slot *store.Slot, data []byte) error {
	if err := store.CheckWrite(slot, data); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE ledger.accounts SET data = $2, updated_at = NOW() WHERE address = $1 AND owner = $3`,
		slot.Address[:], data, slot.Owner[:],
	)
	if err != nil {
		return fmt.Errorf("write slot %s: %w", slot.Address, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: slot %s not owned by %s", store.ErrInvalidSlot, slot.Address, slot.Owner)
	}
	return nil
}

func (b *PostgresBackend) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, addr address.PublicKey) (*store.Account, error) {
	return getAccount(ctx, b.db, addr)
}

func (b *PostgresBackend) Exists(ctx context.Context, addr address.PublicKey) (bool, error) {
	return accountExists(ctx, b.db, addr)
}

func (b *PostgresBackend) Fund(ctx context.Context, wallet address.PublicKey, lamports uint64) (uint64, error) {
	var balance uint64
	err := b.db.QueryRowContext(ctx,
		`INSERT INTO ledger.accounts (address, lamports, owner)
		 VALUES ($1, $2::numeric, $3)
		 ON CONFLICT (address) DO UPDATE
		   SET lamports = ledger.accounts.lamports + EXCLUDED.lamports, updated_at = NOW()
		   WHERE ledger.accounts.owner = $3 AND octet_length(ledger.accounts.data) = 0
		 RETURNING lamports`,
		wallet[:], lamportsArg(lamports), address.SystemProgramID[:],
	).Scan(&balance)

	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("%w: %s", store.ErrInvalidPayer, wallet)
	case errors.As(err, &pqErr) && pqErr.Code == pqCheckViolation:
		return 0, fmt.Errorf("%w: %s", store.ErrBalanceOverflow, wallet)
	case err != nil:
		return 0, fmt.Errorf("fund %s: %w", wallet, err)
	}
	return balance, nil
}

// RecentRecords returns up to limit addresses owned by programID, newest
// first. Used to warm the existence cache.
func (b *PostgresBackend) RecentRecords(ctx context.Context, programID address.PublicKey, limit int) ([]address.PublicKey, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT address FROM ledger.accounts WHERE owner = $1 ORDER BY created_at DESC LIMIT $2`,
		programID[:], limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent records: %w", err)
	}
	defer rows.Close()

	var out []address.PublicKey
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		addr, err := address.PublicKeyFromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close is a no-op; the *sql.DB belongs to the caller.
func (b *PostgresBackend) Close() error {
	return nil
}

var _ store.Backend = (*PostgresBackend)(nil)
