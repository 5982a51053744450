package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/postgres"
)

// Postgres reads records from the tables declared in the registry.
type Postgres struct {
	db     *postgres.Client
	reg    *registry.Registry
	logger *slog.Logger
}

// NewPostgres creates a Postgres record store.
func NewPostgres(db *postgres.Client, reg *registry.Registry) *Postgres {
	return &Postgres{
		db:     db,
		reg:    reg,
		logger: slog.Default().With("component", "record-store"),
	}
}

// PageIDs returns up to limit identifiers of class starting at offset,
// ordered by primary key.
func (p *Postgres) PageIDs(ctx context.Context, class string, offset, limit int) ([]string, error) {
	entry, err := p.entryFor(class)
	if err != nil {
		return nil, err
	}
	pk := pq.QuoteIdentifier(entry.PrimaryKey)
	query := fmt.Sprintf(`SELECT %s::text FROM %s ORDER BY %s LIMIT $1 OFFSET $2`,
		pk, pq.QuoteIdentifier(entry.Table), pk)

	rows, err := p.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("paging %s identifiers at offset %d: %w", class, offset, err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning %s identifier: %w", class, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s identifiers: %w", class, err)
	}
	return ids, nil
}

// FindByIDs loads the records of class whose primary key is in ids, ordered
// by primary key. When locale is set and the class has a translation table,
// translated field values replace the stored ones.
func (p *Postgres) FindByIDs(ctx context.Context, class string, ids []string, locale string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entry, err := p.entryFor(class)
	if err != nil {
		return nil, err
	}
	pk := pq.QuoteIdentifier(entry.PrimaryKey)
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s::text = ANY($1) ORDER BY %s`,
		pq.QuoteIdentifier(entry.Table), pk, pk)

	rows, err := p.db.DB.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("loading %d %s records: %w", len(ids), class, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("loading %s records: %w", class, err)
	}
	if len(records) < len(ids) {
		p.logger.Debug("records missing at load time",
			"class", class,
			"requested", len(ids),
			"found", len(records),
		)
	}

	if locale != "" && entry.TranslationTable != "" && len(records) > 0 {
		if err := p.overlayTranslations(ctx, entry, records, locale); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (p *Postgres) overlayTranslations(ctx context.Context, entry registry.Entry, records []Record, locale string) error {
	byKey := make(map[string]*Record, len(records))
	keys := make([]string, 0, len(records))
	for i := range records {
		v, _ := records[i].Get(entry.PrimaryKey)
		key := fmt.Sprint(v)
		byKey[key] = &records[i]
		keys = append(keys, key)
	}

	query := fmt.Sprintf(`SELECT foreign_key, field, content FROM %s WHERE object_class = $1 AND locale = $2 AND foreign_key = ANY($3)`,
		pq.QuoteIdentifier(entry.TranslationTable))
	rows, err := p.db.DB.QueryContext(ctx, query, entry.Class, locale, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("loading %s translations for %s: %w", entry.Class, locale, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, field string
		var content sql.NullString
		if err := rows.Scan(&key, &field, &content); err != nil {
			return fmt.Errorf("scanning translation: %w", err)
		}
		rec, ok := byKey[key]
		if !ok || !content.Valid {
			continue
		}
		if _, ok := rec.Get(field); ok {
			rec.Set(field, content.String)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating translations: %w", err)
	}
	return nil
}

func (p *Postgres) entryFor(class string) (registry.Entry, error) {
	for _, e := range p.reg.ByClass(class) {
		if e.Table != "" {
			return e, nil
		}
	}
	return registry.Entry{}, fmt.Errorf("no table registered for class %q: %w", class, apperrors.ErrUnknownIndex)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec := Record{Columns: append([]string(nil), cols...), Values: make(map[string]any, len(cols))}
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec.Values[col] = string(b)
				continue
			}
			rec.Values[col] = values[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}
