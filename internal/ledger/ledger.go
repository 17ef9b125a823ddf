// Package ledger is the append-only history of completed analyses.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store persists analysis records. Writes are serialized; reads run
// concurrently where the driver allows.
type Store struct {
	db      *sql.DB
	driver  string
	writeMu sync.Mutex
}

// Open connects to the database and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection: SQLite allows a single writer, and an in-memory
		// database exists only on the connection that created it.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var migrations = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			analyzed_at INTEGER NOT NULL,
			page_detail TEXT NOT NULL,
			strategic_summary TEXT NOT NULL,
			content_sha256 TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_filename ON analyses (filename)`,
		`CREATE TABLE IF NOT EXISTS claims (
			filename TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			status TEXT NOT NULL,
			claimed_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS analyses (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			analyzed_at BIGINT NOT NULL,
			page_detail TEXT NOT NULL,
			strategic_summary TEXT NOT NULL,
			content_sha256 TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_filename ON analyses (filename)`,
		`CREATE TABLE IF NOT EXISTS claims (
			filename TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			status TEXT NOT NULL,
			claimed_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
	},
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Insert validates and appends rec, returning the assigned id. The
// timestamp is stored in UTC at millisecond precision.
func (s *Store) Insert(ctx context.Context, rec deck.Record) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	rec = rec.Normalize()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO analyses (filename, analyzed_at, page_detail, strategic_summary, content_sha256)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rec.Filename, rec.AnalyzedAt.UnixMilli(), rec.PageDetail, rec.StrategicSummary, rec.ContentSHA256,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert analysis: %w", err)
	}
	return id, nil
}

// ExistsByFilename reports whether any record carries filename.
func (s *Store) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM analyses WHERE filename = $1 LIMIT 1`, filename,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists by filename: %w", err)
	}
	return true, nil
}

const selectColumns = `SELECT id, filename, analyzed_at, page_detail, strategic_summary, content_sha256 FROM analyses`

// newestFirst orders by timestamp with id as the tie-breaker for records
// written in the same millisecond.
const newestFirst = ` ORDER BY analyzed_at DESC, id DESC`

// GetByFilename returns the newest record for filename.
func (s *Store) GetByFilename(ctx context.Context, filename string) (*deck.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE filename = $1`+newestFirst+` LIMIT 1`, filename)
	return scanOne(row)
}

// GetByID returns the record with id.
func (s *Store) GetByID(ctx context.Context, id int64) (*deck.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	return scanOne(row)
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context) ([]deck.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+newestFirst)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []deck.Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return out, nil
}

// DeleteByID removes one record. Deleting a missing id returns ErrNotFound.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete analysis %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (deck.Record, error) {
	var (
		rec deck.Record
		ms  int64
	)
	if err := sc.Scan(&rec.ID, &rec.Filename, &ms, &rec.PageDetail, &rec.StrategicSummary, &rec.ContentSHA256); err != nil {
		return deck.Record{}, err
	}
	rec.AnalyzedAt = time.UnixMilli(ms).UTC()
	return rec, nil
}

func scanOne(row *sql.Row) (*deck.Record, error) {
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	return &rec, nil
}
