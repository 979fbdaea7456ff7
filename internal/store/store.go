package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the embedded sqlite database backing the durable queue.
// All state transitions go through its typed methods; callers never touch
// the underlying *sql.DB directly, matching the "row-level locking +
// BEGIN IMMEDIATE" guarantee spec.md §4.1 requires.
type Store struct {
	db     *sql.DB
	notify func()
}

// Open opens (creating if necessary) the sqlite database at path, applies
// pending migrations, and returns a ready Store. WAL mode plus a busy
// timeout tolerate concurrent writers within this process, per spec.md
// §4.1's "embedded SQL engine with write-ahead logging" requirement.
func Open(path string) (*Store, error) {
	path = expandHome(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite only tolerates one writer; serialize at the Go level too so
	// BEGIN IMMEDIATE transactions queue instead of erroring out under load.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(path); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(path string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetNotifyFunc registers fn to be called once after every successful
// EnqueueMessage. The dispatcher wires its own Notify method in here at
// startup, so a fresh enqueue wakes the claim loop immediately instead of
// waiting for the next tick — the "store notification of enqueue" wake
// source spec.md §4.1 and §4.4 call out alongside the tick and stale-claim
// recovery. fn must never block.
func (s *Store) SetNotifyFunc(fn func()) {
	s.notify = fn
}

// now is overridable in tests that need deterministic timestamps.
var now = time.Now

func expandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return home
	}
	if path[1] == '/' {
		return home + path[1:]
	}
	return path
}

// dbTx is the subset of *sql.Tx the per-table files need; queryer satisfies
// it, letting both withImmediateTx's manually-driven connection and plain
// transactions share call sites.
type dbTx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// withImmediateTx runs fn inside an explicit BEGIN IMMEDIATE transaction —
// the guarantee spec.md §4.1 requires for claim: the write lock is taken
// up front, so two concurrent claimers serialize instead of one racing a
// late upgrade from a shared read lock.
func (s *Store) withImmediateTx(ctx context.Context, fn func(tx dbTx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}

	rollback := func() { conn.ExecContext(ctx, "ROLLBACK") }
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(conn); err != nil {
		rollback()
		return err
	}
	_, err = conn.ExecContext(ctx, "COMMIT")
	return err
}

func logger() *slog.Logger {
	return slog.Default().With("component", "store")
}

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
