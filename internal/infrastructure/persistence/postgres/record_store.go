package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/infrastructure/persistence/sqlquery"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RecordStore implements content.RecordStore for PostgreSQL.
type RecordStore struct {
	db Querier
}

// NewRecordStore creates a new RecordStore over a connection, pool or transaction.
func NewRecordStore(db Querier) *RecordStore {
	return &RecordStore{db: db}
}

// QueryCollection implements content.RecordStore.
func (s *RecordStore) QueryCollection(ctx context.Context, collection string, q content.Query) ([]content.Record, error) {
	query, args, err := sqlquery.Select(collection, q, sqlquery.Dollar)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(collection, err)
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(collection, err)
	}

	out := make([]content.Record, 0, len(maps))
	for _, m := range maps {
		out = append(out, normalize(m))
	}
	return out, nil
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
	query, err := sqlquery.SelectByID(collection, sqlquery.Dollar)
	if err != nil {
		return nil, err
	}
	return s.readOne(ctx, collection, query, id)
}

// UpdateRecord implements content.RecordStore.
func (s *RecordStore) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	query, args, err := sqlquery.Update(collection, id, fields, sqlquery.Dollar)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError(collection, err)
	}
	if tag.RowsAffected() == 0 {
		return content.ErrNotFound
	}
	return nil
}

func (s *RecordStore) readOne(ctx context.Context, collection, query string, args ...any) (content.Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(collection, err)
	}

	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(collection, err)
	}
	return normalize(m), nil
}

// mapError translates driver errors into content sentinels.
func mapError(collection string, err error) error {
	switch classify(err) {
	case classNoRows, classBadValue:
		// a malformed id cannot match any row
		return content.ErrNotFound
	case classMissingSchema:
		return fmt.Errorf("%w: %s: %v", content.ErrCollectionMissing, collection, err)
	}
	return fmt.Errorf("postgres: %s: %w", collection, err)
}

// normalize converts pgx's decoded values into the plain Go types content.Record
// coercion understands.
func normalize(m map[string]any) content.Record {
	out := make(content.Record, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case [16]byte:
			out[k] = uuid.UUID(val).String()
		case pgtype.Numeric:
			f, err := val.Float64Value()
			if err != nil || !f.Valid {
				out[k] = nil
				continue
			}
			out[k] = f.Float64
		default:
			out[k] = v
		}
	}
	return out
}

// Compile-time check.
var _ content.RecordStore = (*RecordStore)(nil)
