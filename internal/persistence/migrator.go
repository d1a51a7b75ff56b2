package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// migrationLockID keys the session advisory lock that keeps two service
// instances from migrating the same database at once.
const migrationLockID = 0x706f7274666f6c69 // "portfoli"

// ErrMigrationDrift reports an applied migration whose file has since changed.
var ErrMigrationDrift = errors.New("applied migration was modified")

// Migration is one {version}_{name}.up.sql / .down.sql pair.
type Migration struct {
	Version  string
	Name     string
	Up       string
	Down     string
	Checksum string
}

// MigrationStatus is one row of Status.
type MigrationStatus struct {
	Version   string
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Migrator applies SQL migrations from a directory, golang-migrate naming.
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, files: os.DirFS(migrationsDir), logger: logger}
}

// LoadMigrations reads and pairs every migration file, sorted by version.
// Every up file needs a matching down file.
func LoadMigrations(files fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		base, direction, ok := splitMigrationName(name)
		if !ok {
			return nil, fmt.Errorf("migration %s: want {version}_{name}.(up|down).sql", name)
		}
		version, label, _ := strings.Cut(base, "_")

		content, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: label}
			byVersion[version] = m
		} else if m.Name != label {
			return nil, fmt.Errorf("migration version %s used by %q and %q", version, m.Name, label)
		}
		if direction == "up" {
			m.Up = string(content)
			sum := sha256.Sum256(content)
			m.Checksum = hex.EncodeToString(sum[:])
		} else {
			m.Down = string(content)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s_%s: missing up or down file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func splitMigrationName(name string) (base, direction string, ok bool) {
	for _, d := range []string{"up", "down"} {
		if base, found := strings.CutSuffix(name, "."+d+".sql"); found && strings.Contains(base, "_") {
			return base, d, true
		}
	}
	return "", "", false
}

// Up applies every pending migration, each in its own transaction. It fails
// with ErrMigrationDrift if an applied migration's file changed.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, err := LoadMigrations(m.files)
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		for _, mig := range migrations {
			if sum, ok := applied[mig.Version]; ok {
				if sum != "" && sum != mig.Checksum {
					return fmt.Errorf("%w: %s_%s", ErrMigrationDrift, mig.Version, mig.Name)
				}
				continue
			}

			m.logger.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("applying migration")
			err := inTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
					mig.Version, mig.Name, mig.Checksum,
				)
				return err
			})
			if err != nil {
				return fmt.Errorf("apply migration %s_%s: %w", mig.Version, mig.Name, err)
			}
		}
		return nil
	})
}

// Down rolls back the newest applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	migrations, err := LoadMigrations(m.files)
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get latest migration: %w", err)
		}

		idx := sort.Search(len(migrations), func(i int) bool { return migrations[i].Version >= version })
		if idx == len(migrations) || migrations[idx].Version != version {
			return fmt.Errorf("no down migration for applied version %s", version)
		}
		mig := migrations[idx]

		err = inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("roll back migration %s_%s: %w", mig.Version, mig.Name, err)
		}
		m.logger.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("rolled back migration")
		return nil
	})
}

// Version returns the newest applied migration version, or "" if none.
func (m *Migrator) Version(ctx context.Context) (string, error) {
	if err := ensureMigrationTable(ctx, m.db); err != nil {
		return "", err
	}
	var version sql.NullString
	if err := m.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM public.schema_migrations`,
	).Scan(&version); err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	return version.String, nil
}

// Status lists every known migration and whether it is applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := LoadMigrations(m.files)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationTable(ctx, m.db); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	appliedAt := make(map[string]time.Time)
	for rows.Next() {
		var (
			v  string
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		appliedAt[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		at, ok := appliedAt[mig.Version]
		out = append(out, MigrationStatus{Version: mig.Version, Name: mig.Name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

// locked runs fn on a dedicated connection holding the migration lock.
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, int64(migrationLockID)); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, int64(migrationLockID))

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureMigrationTable(ctx context.Context, db execer) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var v, sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		applied[v] = sum
	}
	return applied, rows.Err()
}
