// Package locale resolves which locales a logical index is populated in and
// whether it is split into one physical index per locale.
package locale

import (
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
)

// Policy is the resolved locale set of one logical index. Source is never
// part of Targets and All is Source followed by Targets.
type Policy struct {
	Source  string
	Targets []string
	All     []string
}

// Normalize lowercases and trims a locale code.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeAll normalizes, drops empties and removes duplicates while keeping
// first-seen order.
func NormalizeAll(locales []string) []string {
	seen := make(map[string]struct{}, len(locales))
	out := make([]string, 0, len(locales))
	for _, l := range locales {
		l = Normalize(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// Without returns locales with every occurrence of drop removed.
func Without(locales []string, drop string) []string {
	out := make([]string, 0, len(locales))
	for _, l := range locales {
		if l != drop {
			out = append(out, l)
		}
	}
	return out
}

// Resolver computes locale policies from the registry and the global locale
// configuration.
type Resolver struct {
	reg           *registry.Registry
	multilingual  bool
	enabled       []string
	defaultLocale string

	once     sync.Once
	detected bool
}

// NewResolver creates a Resolver. The global multilingual decision is computed
// lazily and cached for the lifetime of the Resolver.
func NewResolver(reg *registry.Registry, cfg config.LocalesConfig) *Resolver {
	return &Resolver{
		reg:           reg,
		multilingual:  cfg.Multilingual,
		enabled:       NormalizeAll(cfg.Enabled),
		defaultLocale: Normalize(cfg.Default),
	}
}

// Default returns the configured default locale.
func (r *Resolver) Default() string {
	return r.defaultLocale
}

// Enabled returns the normalized enabled locales.
func (r *Resolver) Enabled() []string {
	return append([]string(nil), r.enabled...)
}

// IsMultilingual reports whether multilingual indexing is active at all: the
// global flag is set or any registered index declares target locales.
func (r *Resolver) IsMultilingual() bool {
	r.once.Do(func() {
		if r.multilingual {
			r.detected = true
			return
		}
		for _, e := range r.reg.Entries() {
			if e.HasDeclaredTargets() {
				r.detected = true
				return
			}
		}
	})
	return r.detected
}

// IsMultilingualFor reports whether base gets one physical index per locale.
// An explicit per-index flag wins; declared targets opt the index in even when
// the global flag is off.
func (r *Resolver) IsMultilingualFor(base, fallbackSource string) bool {
	e, ok := r.reg.Lookup(base)
	if ok && e.Locales != nil {
		if e.Locales.Multilingual != nil {
			return *e.Locales.Multilingual
		}
		if len(e.Locales.Targets) > 0 {
			return true
		}
	}
	return r.IsMultilingual()
}

// LocalesFor resolves the locale policy for base. Declared targets are used as
// given; otherwise a multilingual index targets every enabled locale except its
// source and a unified index has no targets.
func (r *Resolver) LocalesFor(base, fallbackSource string) Policy {
	source := Normalize(fallbackSource)
	if source == "" {
		source = r.defaultLocale
	}

	var targets []string
	e, ok := r.reg.Lookup(base)
	if ok && e.Locales != nil && Normalize(e.Locales.Source) != "" {
		source = Normalize(e.Locales.Source)
	}

	switch {
	case ok && e.HasDeclaredTargets():
		targets = Without(NormalizeAll(e.Locales.Targets), source)
	case r.IsMultilingualFor(base, fallbackSource):
		targets = Without(r.enabled, source)
	default:
		targets = []string{}
	}
	return newPolicy(source, targets)
}

func newPolicy(source string, targets []string) Policy {
	all := NormalizeAll(append([]string{source}, targets...))
	if source != "" {
		targets = all[1:]
	} else {
		targets = all
	}
	return Policy{
		Source:  source,
		Targets: append([]string{}, targets...),
		All:     all,
	}
}
