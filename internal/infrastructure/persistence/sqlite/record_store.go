// Package sqlite implements the record store on a local SQLite file, for
// offline use of the CLI and for development without a hosted database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/sqlquery"
)

//go:embed schema.sql
var schemaSQL string

// RecordStore implements content.RecordStore for SQLite.
type RecordStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path. The schema is not
// applied; call ApplySchema.
func Open(path string) (*RecordStore, error) {
	db, err := sql.Open("sqlite3", path)
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

	return &RecordStore{db: db}, nil
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *RecordStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ApplySchema creates every collection table. Idempotent.
func (s *RecordStore) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// QueryCollection implements content.RecordStore.
func (s *RecordStore) QueryCollection(ctx context.Context, collection string, q content.Query) ([]content.Record, error) {
	query, args, err := sqlquery.Select(collection, q, sqlquery.Question)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(collection, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, mapError(collection, err)
	}
	return records, nil
}

// ReadSingleton implements content.RecordStore.
func (s *RecordStore) ReadSingleton(ctx context.Context, collection string) (content.Record, error) {
	query, err := sqlquery.SelectFirst(collection)
	if err != nil {
		return nil, err
	}
	return s.readOne(ctx, collection, query)
}

// ReadByID implements content.RecordStore.
func (s *RecordStore) ReadByID(ctx context.Context, collection, id string) (content.Record, error) {
	query, err := sqlquery.SelectByID(collection, sqlquery.Question)
	if err != nil {
		return nil, err
	}
	return s.readOne(ctx, collection, query, id)
}

// UpdateRecord implements content.RecordStore.
func (s *RecordStore) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	query, args, err := sqlquery.Update(collection, id, fields, sqlquery.Question)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s: rows affected: %w", collection, err)
	}
	if n == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (s *RecordStore) readOne(ctx context.Context, collection, query string, args ...any) (content.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(collection, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, mapError(collection, err)
	}
	if len(records) == 0 {
		return nil, content.ErrNotFound
	}
	return records[0], nil
}

func scanRecords(rows *sql.Rows) ([]content.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []content.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(content.Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = values[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// mapError translates driver errors into content sentinels.
func mapError(collection string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return content.ErrNotFound
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") {
		return fmt.Errorf("%w: %s: %v", content.ErrCollectionMissing, collection, err)
	}
	return fmt.Errorf("sqlite: %s: %w", collection, err)
}

// Compile-time check.
var _ content.RecordStore = (*RecordStore)(nil)
