// Package store persists brands, schedule rules, drafts and jobs.
//
// Two drivers share one implementation over database/sql:
//   - "sqlite": modernc.org/sqlite, the default, single writer
//   - "postgres": github.com/jackc/pgx/v5 through its database/sql adapter
//
// Framework drafts are unique on (brand_id, subcategory_id, scheduled_for,
// schedule_source). The unique index, not the read-side existence check, is
// what prevents duplicates when materializations race.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	appLog "ferdy/internal/log"
)

//go:embed schema_sqlite.sql schema_postgres.sql
var schemaFS embed.FS

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Config configures the store.
//
// Driver values:
//   - "sqlite" (default): DSN is a file path
//   - "postgres": DSN is a libpq/pgx connection string
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is the database/sql backed persistence layer.
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(" + strconv.FormatInt(busy.Milliseconds(), 10) + ")" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite prefers a single writer; transactions serialize on this conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dialect: dialectSQLite, now: time.Now}
	if err := s.init(ctx, "schema_sqlite.sql"); err != nil {
		_ = db.Close()
		return nil, err
	}
	appLog.Info("store opened", "driver", "sqlite", "path", path)
	return s, nil
}

func openPostgres(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	s := &Store{db: db, dialect: dialectPostgres, now: time.Now}
	if err := s.init(ctx, "schema_postgres.sql"); err != nil {
		_ = db.Close()
		return nil, err
	}
	appLog.Info("store opened", "driver", "postgres")
	return s, nil
}

func (s *Store) init(ctx context.Context, schemaFile string) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	b, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage is not configured")
	}
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// q rewrites '?' placeholders into the dialect's form.
func (s *Store) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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
