package analytics

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3" driver
	"github.com/shopspring/decimal"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Store persists analytics records.
type Store interface {
	Insert(ctx context.Context, r Record) error
	// List returns records with since <= timestamp, oldest first. A zero
	// since lists everything.
	List(ctx context.Context, since time.Time) ([]Record, error)
	// DeleteBefore removes records older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// SQLStore is a Store on database/sql. Timestamps are unix milliseconds so
// the same queries run on PostgreSQL and SQLite.
type SQLStore struct {
	db *sql.DB
}

// OpenPostgres connects to PostgreSQL at connStr and applies migrations.
func OpenPostgres(connStr string) (*SQLStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("analytics open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("analytics ping: %w", err)
	}
	return initStore(db, "migrations/postgres")
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("analytics open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(`
	PRAGMA busy_timeout = 10000;
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous  = NORMAL;
	PRAGMA temp_store   = MEMORY;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("analytics pragmas: %w", err)
	}
	return initStore(db, "migrations/sqlite")
}

func initStore(db *sql.DB, dir string) (*SQLStore, error) {
	if err := migrate(db, dir); err != nil {
		db.Close()
		return nil, fmt.Errorf("analytics migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func migrate(db *sql.DB, dir string) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile(dir + "/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Insert writes one record.
func (s *SQLStore) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics (id, ts_ms, type, ip_address, input_tokens, output_tokens, characters, model, cost, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.Timestamp.UnixMilli(), string(r.Type), r.IPAddress,
		nullInt(r.InputTokens), nullInt(r.OutputTokens), nullInt(r.Characters),
		r.Model, r.Cost.String(), r.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert analytics record: %w", err)
	}
	return nil
}

// List returns records since the given time, oldest first.
func (s *SQLStore) List(ctx context.Context, since time.Time) ([]Record, error) {
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts_ms, type, ip_address, input_tokens, output_tokens, characters, model, cost, duration_ms
		 FROM analytics WHERE ts_ms >= $1 ORDER BY ts_ms ASC`, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("list analytics: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var tsMs int64
		var typ, cost string
		var in, out, chars sql.NullInt64
		if err = rows.Scan(&r.ID, &tsMs, &typ, &r.IPAddress, &in, &out, &chars, &r.Model, &cost, &r.DurationMs); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(tsMs).UTC()
		r.Type = Type(typ)
		r.InputTokens = ptrInt(in)
		r.OutputTokens = ptrInt(out)
		r.Characters = ptrInt(chars)
		if r.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("record %s cost %q: %w", r.ID, cost, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteBefore removes records older than cutoff.
func (s *SQLStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analytics WHERE ts_ms < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune analytics: %w", err)
	}
	return res.RowsAffected()
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return int64Ptr(n.Int64)
}
