package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/locale"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/postgres"
)

// Translations answers locale questions for classes backed by a translation
// table with (object_class, foreign_key, locale, field, content) rows.
type Translations struct {
	db            *postgres.Client
	reg           *registry.Registry
	defaultLocale string
}

// NewTranslations creates a Translations store. defaultLocale is the source
// locale for classes that do not declare one.
func NewTranslations(db *postgres.Client, reg *registry.Registry, defaultLocale string) *Translations {
	return &Translations{db: db, reg: reg, defaultLocale: locale.Normalize(defaultLocale)}
}

// Translates reports whether class has a translation table.
func (t *Translations) Translates(class string) bool {
	_, ok := t.entryFor(class)
	return ok
}

// SourceLocale returns the locale the stored (untranslated) columns are in.
func (t *Translations) SourceLocale(_ context.Context, class string) (string, error) {
	e, ok := t.entryFor(class)
	if ok && e.Locales != nil && e.Locales.Source != "" {
		return locale.Normalize(e.Locales.Source), nil
	}
	return t.defaultLocale, nil
}

// TargetLocales keeps the candidates that have at least one translation row
// for class, in candidate order.
func (t *Translations) TargetLocales(ctx context.Context, class string, candidates []string) ([]string, error) {
	e, ok := t.entryFor(class)
	if !ok || len(candidates) == 0 {
		return candidates, nil
	}

	query := fmt.Sprintf(`SELECT DISTINCT locale FROM %s WHERE object_class = $1 AND locale = ANY($2)`,
		pq.QuoteIdentifier(e.TranslationTable))
	rows, err := t.db.DB.QueryContext(ctx, query, class, pq.Array(candidates))
	if err != nil {
		return nil, fmt.Errorf("querying %s translation locales: %w", class, err)
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scanning translation locale: %w", err)
		}
		present[locale.Normalize(l)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating translation locales: %w", err)
	}

	out := make([]string, 0, len(present))
	for _, c := range candidates {
		if _, ok := present[locale.Normalize(c)]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *Translations) entryFor(class string) (registry.Entry, bool) {
	for _, e := range t.reg.ByClass(class) {
		if e.TranslationTable != "" {
			return e, true
		}
	}
	return registry.Entry{}, false
}
