// Package planner expands logical index names into the concrete index targets
// a sync run has to populate, one per locale when an index is multilingual.
package planner

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/indexuid"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/locale"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/internal/registry"
)

// Kind tags what a target holds.
type Kind string

const (
	KindBase   Kind = "base"
	KindSource Kind = "source"
	KindTarget Kind = "target"
)

// Target is one (base, locale) pairing scheduled for synchronization. Locale
// is empty for a KindBase target.
type Target struct {
	Base   string `json:"base"`
	UID    string `json:"uid"`
	Class  string `json:"class"`
	Locale string `json:"locale,omitempty"`
	Kind   Kind   `json:"kind"`
}

// Translatable is implemented by stores that know which locales a record
// class is actually translated into.
type Translatable interface {
	Translates(class string) bool
	SourceLocale(ctx context.Context, class string) (string, error)
	TargetLocales(ctx context.Context, class string, candidates []string) ([]string, error)
}

// Planner builds index targets. It never fails: unknown bases and collaborator
// errors are logged and planning continues.
type Planner struct {
	reg          *registry.Registry
	locales      *locale.Resolver
	uids         indexuid.Resolver
	translatable Translatable
	logger       *slog.Logger
}

// New creates a Planner. translatable may be nil.
func New(reg *registry.Registry, locales *locale.Resolver, uids indexuid.Resolver, translatable Translatable) *Planner {
	return &Planner{
		reg:          reg,
		locales:      locales,
		uids:         uids,
		translatable: translatable,
		logger:       slog.Default().With("component", "planner"),
	}
}

// TargetsForBase returns the targets for one logical index. With perLocale
// set and a multilingual index, the source locale comes first followed by
// each target locale; otherwise a single locale-less base target is returned.
// onlyLocales, when non-empty, restricts the per-locale targets.
func (p *Planner) TargetsForBase(ctx context.Context, base string, perLocale bool, onlyLocales []string) []Target {
	entry, ok := p.reg.Lookup(base)
	if !ok {
		p.logger.Warn("skipping unknown index", "base", base)
		return nil
	}

	policy := p.locales.LocalesFor(base, p.locales.Default())
	source := policy.Source
	targets := policy.Targets

	if p.translatable != nil && p.translatable.Translates(entry.Class) {
		src, err := p.translatable.SourceLocale(ctx, entry.Class)
		if err != nil {
			p.logger.Warn("resolving translation source locale", "base", base, "error", err)
		} else if src = locale.Normalize(src); src != "" {
			source = src
		}

		// The configured source stays a candidate when translations report
		// another one.
		candidates := p.locales.Enabled()
		if entry.HasDeclaredTargets() {
			candidates = policy.All
		}
		candidates = locale.Without(locale.NormalizeAll(candidates), source)
		effective, err := p.translatable.TargetLocales(ctx, entry.Class, candidates)
		if err != nil {
			p.logger.Warn("resolving translation target locales", "base", base, "error", err)
			targets = candidates
		} else {
			targets = effective
		}
	}

	targets = locale.Without(locale.NormalizeAll(targets), source)

	if !perLocale || !p.locales.IsMultilingualFor(base, source) {
		return []Target{{
			Base:  base,
			UID:   p.uids.UIDFor(base, "", false),
			Class: entry.Class,
			Kind:  KindBase,
		}}
	}

	only := toSet(onlyLocales)
	out := make([]Target, 0, len(targets)+1)
	add := func(loc string, kind Kind) {
		if loc == "" {
			return
		}
		if len(only) > 0 {
			if _, ok := only[loc]; !ok {
				return
			}
		}
		out = append(out, Target{
			Base:   base,
			UID:    p.uids.UIDFor(base, loc, true),
			Class:  entry.Class,
			Locale: loc,
			Kind:   kind,
		})
	}
	add(source, KindSource)
	for _, loc := range targets {
		add(loc, KindTarget)
	}
	if len(out) == 0 {
		p.logger.Warn("no locales left after filtering", "base", base, "only", onlyLocales)
	}
	return out
}

// TargetsForBases concatenates TargetsForBase over bases, preserving order.
func (p *Planner) TargetsForBases(ctx context.Context, bases []string, perLocale bool, onlyLocales []string) []Target {
	var out []Target
	for _, base := range bases {
		out = append(out, p.TargetsForBase(ctx, base, perLocale, onlyLocales)...)
	}
	return out
}

func toSet(locales []string) map[string]struct{} {
	normalized := locale.NormalizeAll(locales)
	if len(normalized) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(normalized))
	for _, l := range normalized {
		set[l] = struct{}{}
	}
	return set
}
