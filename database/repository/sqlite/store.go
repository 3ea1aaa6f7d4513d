package sqliteRepo

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"slotkeeper/database/repository"
	"slotkeeper/utils"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
// 2 - holds.interaction_id, processed_events.owner
const currentSchemaVersion = 2

// migrations upgrade a database created at an older version. Index i moves
// version i+1 to i+2.
var migrations = [][]string{
	{
		"ALTER TABLE holds ADD COLUMN interaction_id TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE processed_events ADD COLUMN owner TEXT NOT NULL DEFAULT ''",
	},
}

// Store is the embedded single-node backend.
// Uses SQLite with WAL mode and one connection, so every write transaction
// is serialized by the pool and starts with BEGIN IMMEDIATE.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

var _ repository.Store = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
func Open(path string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = utils.DefaultStoreTimeout
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, timeout: timeout}, nil
}

// Close closes the database connection.
func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return wrapErr("ping", s.db.PingContext(ctx))
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	// A fresh database gets the current tables straight from the schema.
	for v := version; v > 0 && v < currentSchemaVersion; v++ {
		for _, stmt := range migrations[v-1] {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to version %d: %w", v+1, err)
			}
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// withTx runs fn in one transaction. Any error from fn rolls it back.
func (s *Store) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op+": begin", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return wrapErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(op+": commit", err)
	}
	return nil
}

// wrapErr leaves BookingErrors alone and marks everything else as infrastructure.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *utils.BookingError
	if errors.As(err, &be) {
		return err
	}
	return utils.Infrastructure(op, err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

type scanner interface {
	Scan(dest ...any) error
}
