package store

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/document"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/errors"
)

// Normalizer turns a hydrated record into a search document.
type Normalizer interface {
	Normalize(rec Record, entry registry.Entry, groups []string) (*document.Document, error)
}

// GroupNormalizer selects the fields named by the entry's serialization
// groups. The primary key is always emitted first. With no group fields
// configured every column is emitted in store order.
type GroupNormalizer struct{}

// Normalize implements Normalizer.
func (GroupNormalizer) Normalize(rec Record, entry registry.Entry, groups []string) (*document.Document, error) {
	pkValue, ok := rec.Get(entry.PrimaryKey)
	if !ok || pkValue == nil {
		return nil, fmt.Errorf("%s record without %q: %w", entry.Class, entry.PrimaryKey, apperrors.ErrMissingPrimaryKey)
	}

	doc := document.New()
	doc.Set(entry.PrimaryKey, normalizeValue(pkValue))

	fields := entry.Fields(groups)
	if len(fields) == 0 {
		fields = rec.Columns
	}
	for _, f := range fields {
		if f == entry.PrimaryKey {
			continue
		}
		v, ok := rec.Get(f)
		if !ok {
			continue
		}
		doc.Set(f, normalizeValue(v))
	}
	return doc, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
