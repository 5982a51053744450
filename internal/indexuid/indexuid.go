// Package indexuid maps logical index names and locales to the physical index
// identifiers used on the search engine. Every function is pure.
package indexuid

import (
	"strings"
)

// Resolver applies the configured index prefix.
type Resolver struct {
	Prefix string
}

// New creates a Resolver for prefix.
func New(prefix string) Resolver {
	return Resolver{Prefix: prefix}
}

// RawFor returns base unchanged for unified indexes or an empty locale, and
// base_locale otherwise.
func (r Resolver) RawFor(base, locale string, multilingual bool) string {
	if !multilingual || locale == "" {
		return base
	}
	return base + "_" + locale
}

// UIDForRaw prepends the prefix unless raw already carries it.
func (r Resolver) UIDForRaw(raw string) string {
	if r.Prefix == "" || strings.HasPrefix(raw, r.Prefix) {
		return raw
	}
	return r.Prefix + raw
}

// UIDFor composes RawFor and UIDForRaw.
func (r Resolver) UIDFor(base, locale string, multilingual bool) string {
	return r.UIDForRaw(r.RawFor(base, locale, multilingual))
}

// ForClass derives an index uid from a record class when a job names no
// index: the short class name, lowercased, with an optional locale suffix.
func (r Resolver) ForClass(class, locale string) string {
	raw := strings.ToLower(ShortClassName(class))
	return r.UIDFor(raw, locale, locale != "")
}

// ShortClassName strips any namespace or package qualifier from class.
func ShortClassName(class string) string {
	if i := strings.LastIndexAny(class, `\./:`); i >= 0 {
		return class[i+1:]
	}
	return class
}
