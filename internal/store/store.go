package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// currentSchemaVersion is the SQLite user_version after migrations.
// v1 added claims.ledger_tx.
const currentSchemaVersion = 1

// ErrNotFound is returned when a shipment has no policy row in the mirror.
var ErrNotFound = errors.New("not found")

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configuration value to a Dialect.
func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unknown mirror dialect %q", raw)
	}
}

// Store is the mirror store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for updated_at and fallback
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open creates or opens a SQLite mirror at the given path.
func Open(path string, opts ...Option) (*Store, error) {
	return OpenDialect(DialectSQLite, path, opts...)
}

// OpenDialect opens a mirror with the given dialect and DSN, verifies the
// connection and applies the schema. An unreachable database is an error:
// callers treat it as fatal at startup.
func OpenDialect(dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := applySQLiteSchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply mirror schema: %w", err)
		}
	case DialectPostgres:
		db, err = openPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec(postgresSchemaSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply mirror schema: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown mirror dialect %q", dialect)
	}

	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenSQLite opens a SQLite database with WAL, a busy timeout and foreign
// keys enabled. The ledger book opens its own file through it too.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection: a single writer, and :memory: stays one database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite %s: %w", path, err)
	}
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return db, nil
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks that the mirror is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// applySQLiteSchema is idempotent: the schema uses IF NOT EXISTS and each
// migration checks before it alters.
func applySQLiteSchema(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchemaSQL); err != nil {
		return err
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for v := version; v < currentSchemaVersion; v++ {
		if err := sqliteMigrations[v](db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// sqliteMigrations[i] upgrades a database from version i to i+1.
var sqliteMigrations = []func(*sql.DB) error{
	addClaimLedgerTx,
}

// addClaimLedgerTx adds claims.ledger_tx to mirrors created before
// settlement references were recorded.
func addClaimLedgerTx(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('claims') WHERE name = 'ledger_tx'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE claims ADD COLUMN ledger_tx TEXT NOT NULL DEFAULT ''`)
	return err
}

func (s *Store) pragma(name string) (string, error) {
	var value string
	err := s.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}
