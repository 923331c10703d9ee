package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/mod/semver"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNewerSchema is returned when the database was last written by a newer
// pulsewatch release than the running binary.
var ErrNewerSchema = errors.New("database was created by a newer version of pulsewatch")

// devVersion is the unstamped build version; it never blocks an open.
const devVersion = "dev"

// Migration is one forward-only schema step. Versions are per component and
// must be strictly ascending within a Migrate call.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// SQLiteStore wraps a modernc.org/sqlite connection with schema bookkeeping:
// a schema_migrations ledger per component and a single-row schema_version.
type SQLiteStore struct {
	db      *sql.DB
	migrate sync.Mutex
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-20000",
}

var bookkeepingDDL = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		component   TEXT     NOT NULL,
		version     INTEGER  NOT NULL,
		description TEXT     NOT NULL,
		applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (component, version)
	)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
		id          INTEGER  PRIMARY KEY CHECK (id = 1),
		app_version TEXT     NOT NULL,
		updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// New opens or creates the database at path (":memory:" for a throwaway
// database), applies the connection pragmas, and creates the bookkeeping tables.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: SQLite allows a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sqlite %q: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func initialize(db *sql.DB) error {
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	// modernc.org/sqlite takes pragmas as statements rather than DSN flags.
	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	for _, ddl := range bookkeepingDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create bookkeeping tables: %w", err)
		}
	}
	return nil
}

// DB exposes the connection to adapters that issue their own queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Migrate applies the steps of component that are not yet recorded in
// schema_migrations. Each step commits with its ledger row, so a failing step
// leaves earlier ones applied.
func (s *SQLiteStore) Migrate(ctx context.Context, component string, steps []Migration) error {
	for i := 1; i < len(steps); i++ {
		if steps[i].Version <= steps[i-1].Version {
			return fmt.Errorf("migrations for %s out of order at version %d", component, steps[i].Version)
		}
	}

	s.migrate.Lock()
	defer s.migrate.Unlock()

	applied, err := s.appliedVersions(ctx, component)
	if err != nil {
		return err
	}
	for _, m := range steps {
		if applied[m.Version] {
			continue
		}
		m := m
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (component, version, description) VALUES (?, ?, ?)",
				component, m.Version, m.Description,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", component, m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, component string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version FROM schema_migrations WHERE component = ?", component)
	if err != nil {
		return nil, fmt.Errorf("list migrations for %s: %w", component, err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// CheckVersion refuses to open a database last written by a newer release and
// otherwise records running as the database's version. Development builds
// pass in either position.
func (s *SQLiteStore) CheckVersion(ctx context.Context, running string) error {
	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT app_version FROM schema_version WHERE id = 1").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case stored == running:
		return nil
	case stored != devVersion && running != devVersion &&
		semver.Compare(canonicalVersion(running), canonicalVersion(stored)) < 0:
		return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, running)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schema_version (id, app_version) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET app_version = excluded.app_version, updated_at = CURRENT_TIMESTAMP`,
		running,
	)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// canonicalVersion adds the "v" prefix semver expects.
func canonicalVersion(v string) string {
	if v == "" || v[0] == 'v' {
		return v
	}
	return "v" + v
}
