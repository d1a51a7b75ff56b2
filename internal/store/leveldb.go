package store

import (
	"PortfolioLedger/internal/address"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
)

const (
	accountPrefix = 'A'

	// Bumped whenever the on-disk value layout changes.
	currentLevelDBVersion = 0x100

	// lamports(8) || owner(32) || data
	accountHeaderLength = 8 + address.PublicKeyLength
)

var levelDBVersionKey = []byte{0x00, 'V', 'E', 'R', 'S', 'I', 'O', 'N'}

// LevelDBBackend stores accounts in an embedded LevelDB. Units of work use
// DB.OpenTransaction, which admits one open transaction at a time and blocks
// other writers until it commits or is discarded.
type LevelDBBackend struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the database at path and checks its layout version.
func OpenLevelDB(path string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, &ldb_opt.Options{ErrorIfMissing: false})
	if err != nil {
		return nil, fmt.Errorf("leveldb open %s: %w", path, err)
	}

	if err := checkLevelDBVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &LevelDBBackend{db: db}, nil
}

func checkLevelDBVersion(db *leveldb.DB) error {
	value, err := db.Get(levelDBVersionKey, nil)
	if err == leveldb.ErrNotFound {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], currentLevelDBVersion)
		return db.Put(levelDBVersionKey, buf[:], &ldb_opt.WriteOptions{Sync: true})
	}
	if err != nil {
		return fmt.Errorf("leveldb read version: %w", err)
	}
	if len(value) != 4 {
		return fmt.Errorf("leveldb version record has %d bytes", len(value))
	}
	if v := binary.BigEndian.Uint32(value); v != currentLevelDBVersion {
		return fmt.Errorf("leveldb layout version %#x, want %#x", v, currentLevelDBVersion)
	}
	return nil
}

func accountKey(addr address.PublicKey) []byte {
	key := make([]byte, 1, 1+address.PublicKeyLength)
	key[0] = accountPrefix
	return append(key, addr[:]...)
}

func encodeAccount(acct *Account) []byte {
	buf := make([]byte, accountHeaderLength+len(acct.Data))
	binary.BigEndian.PutUint64(buf[:8], acct.Lamports)
	copy(buf[8:accountHeaderLength], acct.Owner[:])
	copy(buf[accountHeaderLength:], acct.Data)
	return buf
}

func decodeAccount(addr address.PublicKey, value []byte) (*Account, error) {
	if len(value) < accountHeaderLength {
		return nil, fmt.Errorf("leveldb: truncated account %s: %d bytes", addr, len(value))
	}
	acct := &Account{
		Address:  addr,
		Lamports: binary.BigEndian.Uint64(value[:8]),
		Data:     bytes.Clone(value[accountHeaderLength:]),
	}
	copy(acct.Owner[:], value[8:accountHeaderLength])
	return acct, nil
}

type levelDBTx struct {
	tr *leveldb.Transaction
}

func (tx *levelDBTx) get(addr address.PublicKey) (*Account, error) {
	value, err := tx.tr.Get(accountKey(addr), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %s: %w", addr, err)
	}
	return decodeAccount(addr, value)
}

func (tx *levelDBTx) put(acct *Account) error {
	if err := tx.tr.Put(accountKey(acct.Address), encodeAccount(acct), nil); err != nil {
		return fmt.Errorf("leveldb put %s: %w", acct.Address, err)
	}
	return nil
}

func (tx *levelDBTx) Exists(addr address.PublicKey) (bool, error) { return exists(tx, addr) }

func (tx *levelDBTx) Get(addr address.PublicKey) (*Account, error) { return getAccount(tx, addr) }

func (tx *levelDBTx) Allocate(p CreateParams) (*Slot, error) { return allocate(tx, p) }

func (tx *levelDBTx) WriteData(slot *Slot, data []byte) error { return writeData(tx, slot, data) }

func (l *LevelDBBackend) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tr, err := l.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("leveldb open transaction: %w", err)
	}

	if err := fn(&levelDBTx{tr: tr}); err != nil {
		tr.Discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		tr.Discard()
		return fmt.Errorf("leveldb commit: %w", err)
	}
	return nil
}

func (l *LevelDBBackend) Get(ctx context.Context, addr address.PublicKey) (*Account, error) {
	value, err := l.db.Get(accountKey(addr), nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get %s: %w", addr, err)
	}
	return decodeAccount(addr, value)
}

func (l *LevelDBBackend) Exists(ctx context.Context, addr address.PublicKey) (bool, error) {
	acct, err := l.Get(ctx, addr)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !acct.IsWallet(), nil
}

func (l *LevelDBBackend) Fund(ctx context.Context, wallet address.PublicKey, lamports uint64) (uint64, error) {
	var balance uint64
	err := l.Update(ctx, func(tx Tx) error {
		var err error
		balance, err = fund(tx.(*levelDBTx), wallet, lamports)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *LevelDBBackend) Ping(ctx context.Context) error {
	_, err := l.db.GetProperty("leveldb.num-files-at-level0")
	return err
}

func (l *LevelDBBackend) Close() error {
	return l.db.Close()
}
