package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps records in a single key/value table of an on-disk
// SQLite database.
type SQLiteBackend struct {
	db        *sql.DB
	opTimeout time.Duration
}

type SQLiteConfig struct {
	Path      string
	OpTimeout time.Duration
}

// OpenSQLite opens (or creates) the database at cfg.Path, configures pragmas
// and runs migrations. Path ":memory:" gives a private in-memory database.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.Path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	b := &SQLiteBackend{db: db, opTimeout: cfg.OpTimeout}
	if err := b.configurePragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "cache_records: serialized entries and ledger",
		SQL: `
CREATE TABLE cache_records (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := b.db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := b.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the applied schema version of the database file.
func (b *SQLiteBackend) SchemaVersion() (int, error) {
	var version int
	err := b.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

func (b *SQLiteBackend) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opTimeout > 0 {
		return context.WithTimeout(ctx, b.opTimeout)
	}
	return context.WithCancel(ctx)
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	var value []byte
	err := b.db.QueryRowContext(ctx, "SELECT value FROM cache_records WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("sqlite get", err)
	}
	return value, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO cache_records (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return unavailable("sqlite set", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	if _, err := b.db.ExecContext(ctx, "DELETE FROM cache_records WHERE key = ?", key); err != nil {
		return unavailable("sqlite delete", err)
	}
	return nil
}

func (b *SQLiteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := b.opContext(ctx)
	defer cancel()

	rows, err := b.db.QueryContext(ctx,
		`SELECT key FROM cache_records WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, unavailable("sqlite keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("sqlite keys", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite keys", err)
	}
	return keys, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
