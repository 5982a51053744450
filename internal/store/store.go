// Package store is the record store the pipeline reads from: a paginated
// identifier cursor, batch lookup by identifier and normalization of a
// hydrated record into a search document.
package store

import (
	"context"
)

// Record is one hydrated row. Columns keeps the order the store returned them
// in.
type Record struct {
	Columns []string
	Values  map[string]any
}

// NewRecord creates an empty Record.
func NewRecord() Record {
	return Record{Values: make(map[string]any)}
}

// Set appends or replaces a column value.
func (r *Record) Set(column string, value any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	if _, ok := r.Values[column]; !ok {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = value
}

// Get returns the value of column.
func (r Record) Get(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// IDPager pages through the identifiers of a record class in ascending
// primary-key order.
type IDPager interface {
	PageIDs(ctx context.Context, class string, offset, limit int) ([]string, error)
}

// Finder loads records by identifier. Identifiers without a matching record
// are omitted from the result.
type Finder interface {
	FindByIDs(ctx context.Context, class string, ids []string, locale string) ([]Record, error)
}

// Store is the full record store collaborator.
type Store interface {
	IDPager
	Finder
}
