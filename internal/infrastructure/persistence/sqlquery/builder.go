// Package sqlquery renders content.Query values into SQL for the relational
// record stores. Collection and field names are validated against
// content.ValidateCollection / content.ValidateField and quoted; values are
// always bound as parameters.
package sqlquery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Dollar renders Postgres placeholders ($1, $2, ...).
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Question renders SQLite placeholders (?).
func Question(int) string { return "?" }

// Quote quotes an identifier that already passed validation.
func Quote(name string) string {
	return `"` + name + `"`
}

// Select renders a SELECT * over collection with q's filters and ordering.
func Select(collection string, q content.Query, ph Placeholder) (string, []any, error) {
	if err := content.ValidateCollection(collection); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	args := make([]any, 0, len(q.Filters))

	b.WriteString("SELECT * FROM ")
	b.WriteString(Quote(collection))

	for i, f := range q.Filters {
		if err := content.ValidateField(f.Field); err != nil {
			return "", nil, err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		switch f.Op {
		case content.OpIsNull:
			b.WriteString(Quote(f.Field) + " IS NULL")
		case content.OpEq:
			args = append(args, f.Value)
			b.WriteString(Quote(f.Field) + " = " + ph(len(args)))
		default:
			return "", nil, fmt.Errorf("sqlquery: unsupported operator %q", f.Op)
		}
	}

	for i, o := range q.OrderBy {
		if err := content.ValidateField(o.Field); err != nil {
			return "", nil, err
		}
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(Quote(o.Field))
		if o.Descending {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	return b.String(), args, nil
}

// SelectFirst renders a query for the first row of a collection.
func SelectFirst(collection string) (string, error) {
	if err := content.ValidateCollection(collection); err != nil {
		return "", err
	}
	return "SELECT * FROM " + Quote(collection) + " LIMIT 1", nil
}

// SelectByID renders a query for the row with the given id.
func SelectByID(collection string, ph Placeholder) (string, error) {
	if err := content.ValidateCollection(collection); err != nil {
		return "", err
	}
	return "SELECT * FROM " + Quote(collection) + ` WHERE "id" = ` + ph(1) + " LIMIT 1", nil
}

// Update renders an UPDATE of fields on the row with the given id. Fields are
// written in name order; the id is the last argument.
func Update(collection, id string, fields map[string]any, ph Placeholder) (string, []any, error) {
	if err := content.ValidateCollection(collection); err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: no fields to update", content.ErrInvalidField)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if err := content.ValidateField(name); err != nil {
			return "", nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		args = append(args, fields[name])
		sets = append(sets, Quote(name)+" = "+ph(len(args)))
	}
	args = append(args, id)

	query := "UPDATE " + Quote(collection) + " SET " + strings.Join(sets, ", ") +
		` WHERE "id" = ` + ph(len(args))
	return query, args, nil
}
