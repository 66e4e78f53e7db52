// Package memory provides an in-process RecordStore used by tests and by the
// "memory" store driver for local development.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
)

// RecordStore keeps collections in maps guarded by a RWMutex.
// A collection that was never created behaves like an unprovisioned table.
type RecordStore struct {
	mu          sync.RWMutex
	collections map[string][]content.Record
	failures    map[string]error
	writes      int
}

// NewRecordStore creates an empty store. Collections must be created with
// CreateCollection or Seed before they can be queried.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		collections: make(map[string][]content.Record),
		failures:    make(map[string]error),
	}
}

// CreateCollection provisions an empty collection (no-op if it exists).
func (s *RecordStore) CreateCollection(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = []content.Record{}
	}
}

// DropCollection removes a collection and its rows.
func (s *RecordStore) DropCollection(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
}

// Seed appends rows to a collection, provisioning it if needed.
func (s *RecordStore) Seed(collection string, records ...content.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.collections[collection]
	if rows == nil {
		rows = []content.Record{}
	}
	for _, r := range records {
		rows = append(rows, copyRecord(r))
	}
	s.collections[collection] = rows
}

// FailCollection makes every operation on collection return err until cleared
// with a nil err.
func (s *RecordStore) FailCollection(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, collection)
		return
	}
	s.failures[collection] = err
}

// Writes returns the number of successful UpdateRecord calls.
func (s *RecordStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Records returns a copy of a collection's rows.
func (s *RecordStore) Records(collection string) []content.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.collections[collection]
	out := make([]content.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, copyRecord(r))
	}
	return out
}

// QueryCollection implements content.RecordStore.
func (s *RecordStore) QueryCollection(ctx context.Context, collection string, q content.Query) ([]content.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}

	out := make([]content.Record, 0, len(rows))
	for _, r := range rows {
		if matches(r, q.Filters) {
			out = append(out, copyRecord(r))
		}
	}

	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := compare(out[i][o.Field], out[j][o.Field])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	return out, nil
}

// ReadSingleton implements content.RecordStore.
func (s *RecordStore) ReadSingleton(ctx context.Context, collection string) (content.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, content.ErrNotFound
	}
	return copyRecord(rows[0]), nil
}

// ReadByID implements content.RecordStore.
func (s *RecordStore) ReadByID(ctx context.Context, collection, id string) (content.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.collectionLocked(collection)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.ID() == id {
			return copyRecord(r), nil
		}
	}
	return nil, content.ErrNotFound
}

// UpdateRecord implements content.RecordStore.
func (s *RecordStore) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for name := range fields {
		if err := content.ValidateField(name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.collectionLocked(collection)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.ID() != id {
			continue
		}
		for k, v := range fields {
			r[k] = v
		}
		s.writes++
		return nil
	}
	return content.ErrNotFound
}

func (s *RecordStore) collectionLocked(collection string) ([]content.Record, error) {
	if err := s.failures[collection]; err != nil {
		return nil, err
	}
	rows, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", content.ErrCollectionMissing, collection)
	}
	return rows, nil
}

func validateQuery(q content.Query) error {
	for _, f := range q.Filters {
		if err := content.ValidateField(f.Field); err != nil {
			return err
		}
	}
	for _, o := range q.OrderBy {
		if err := content.ValidateField(o.Field); err != nil {
			return err
		}
	}
	return nil
}

func matches(r content.Record, filters []content.Filter) bool {
	for _, f := range filters {
		switch f.Op {
		case content.OpIsNull:
			if !r.Missing(f.Field) {
				return false
			}
		case content.OpEq:
			v, ok := r[f.Field]
			if !ok || !reflect.DeepEqual(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compare orders numbers numerically and everything else by its printed form.
func compare(a, b any) int {
	ra, rb := content.Record{"v": a}, content.Record{"v": b}
	if isNumber(a) && isNumber(b) {
		fa, fb := ra.Float("v"), rb.Float("v")
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func copyRecord(r content.Record) content.Record {
	out := make(content.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Compile-time check.
var _ content.RecordStore = (*RecordStore)(nil)
