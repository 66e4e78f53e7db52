// Package content describes the user content collections that feed the progression
// calculator, and the record store they are read from.
//
// Rows come out of the store as loosely typed Records (column name to value). The
// decoders in records.go turn them into the typed variants the calculator reads,
// coercing missing or malformed fields to zero on the way in.
package content

import (
	"context"
	"errors"
	"fmt"
)

// Collection names.
const (
	CollectionProfile        = "profile"
	CollectionSkills         = "skills"
	CollectionProjects       = "projects"
	CollectionCertifications = "certifications"
	CollectionExperiences    = "experiences"
	CollectionAchievements   = "achievements"
	CollectionCourses        = "courses"
	CollectionHabits         = "habits"
)

var (
	// ErrCollectionMissing is returned when a collection is not provisioned in the store.
	ErrCollectionMissing = errors.New("content: collection does not exist")

	// ErrNotFound is returned when a record lookup matches nothing.
	ErrNotFound = errors.New("content: record not found")

	// ErrUnknownCollection is returned for collection names outside the known set.
	ErrUnknownCollection = errors.New("content: unknown collection")

	// ErrInvalidField is returned when a filter, order or update names an unsafe column.
	ErrInvalidField = errors.New("content: invalid field name")
)

// Record is one row as returned by the store.
type Record map[string]any

// ID returns the record's id column as a string ("" when absent).
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Operator is a filter comparison.
type Operator string

const (
	OpEq     Operator = "eq"
	OpIsNull Operator = "is_null"
)

// Filter restricts a collection query.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// IsNull builds an IS NULL filter.
func IsNull(field string) Filter {
	return Filter{Field: field, Op: OpIsNull}
}

// Order sorts a collection query.
type Order struct {
	Field      string
	Descending bool
}

// Query holds the optional filters and ordering of a collection read.
type Query struct {
	Filters []Filter
	OrderBy []Order
}

// RecordStore is the external data store the progression core reads from and writes to.
type RecordStore interface {
	// QueryCollection returns every record of a collection that matches q.
	// Returns ErrCollectionMissing when the collection is not provisioned.
	QueryCollection(ctx context.Context, collection string, q Query) ([]Record, error)

	// ReadSingleton returns the only (or first) record of a collection.
	// Returns ErrNotFound when the collection is empty.
	ReadSingleton(ctx context.Context, collection string) (Record, error)

	// ReadByID returns the record with the given id.
	// Returns ErrNotFound when no record matches.
	ReadByID(ctx context.Context, collection, id string) (Record, error)

	// UpdateRecord writes fields onto the record with the given id.
	// Returns ErrNotFound when no record matches.
	UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error
}

// IsKnownCollection reports whether name is one of the collections this module reads.
func IsKnownCollection(name string) bool {
	switch name {
	case CollectionProfile, CollectionSkills, CollectionProjects, CollectionCertifications,
		CollectionExperiences, CollectionAchievements, CollectionCourses, CollectionHabits:
		return true
	}
	return false
}

// ValidateField rejects field names that are not plain lower-case identifiers,
// so adapters can safely splice them into SQL.
func ValidateField(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidField)
	}
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidField, name)
		}
	}
	return nil
}

// ValidateCollection checks a collection name for use by an adapter.
func ValidateCollection(name string) error {
	if !IsKnownCollection(name) {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return nil
}
