// Package registry holds the compiled table of logical search indexes: which
// record class feeds each index, its primary key, schema, facets, field
// groups and per-index locale metadata. A Registry is immutable once built and
// safe for concurrent reads.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
)

// DefaultPrimaryKey is used when an entry does not declare one.
const DefaultPrimaryKey = "id"

// Schema lists the attribute roles pushed to the engine as index settings.
type Schema struct {
	Displayed  []string
	Filterable []string
	Sortable   []string
	Searchable []string
}

// Facet is display metadata for a filterable attribute.
type Facet struct {
	Attribute string
	Label     string
	Type      string
}

// LocaleMeta is explicit per-index locale configuration. A nil Multilingual
// inherits the global flag.
type LocaleMeta struct {
	Source       string
	Targets      []string
	Multilingual *bool
}

// Entry describes one logical (unprefixed) index.
type Entry struct {
	Name             string
	Class            string
	Table            string
	PrimaryKey       string
	TranslationTable string
	Schema           Schema
	Facets           []Facet
	Groups           map[string][]string
	Locales          *LocaleMeta
}

// HasDeclaredTargets reports whether the entry names its own target locales.
func (e Entry) HasDeclaredTargets() bool {
	return e.Locales != nil && len(e.Locales.Targets) > 0
}

// Fields returns the union of the fields selected by groups, in first-seen
// order. Unknown groups contribute nothing.
func (e Entry) Fields(groups []string) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, g := range groups {
		for _, f := range e.Groups[g] {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	return fields
}

// Settings returns the engine settings document for the entry. Empty lists
// are omitted so the engine keeps its defaults for them.
func (e Entry) Settings() map[string]any {
	settings := make(map[string]any)
	if len(e.Schema.Displayed) > 0 {
		settings["displayedAttributes"] = e.Schema.Displayed
	}
	if len(e.Schema.Searchable) > 0 {
		settings["searchableAttributes"] = e.Schema.Searchable
	}
	if len(e.Schema.Filterable) > 0 {
		settings["filterableAttributes"] = e.Schema.Filterable
	}
	if len(e.Schema.Sortable) > 0 {
		settings["sortableAttributes"] = e.Schema.Sortable
	}
	return settings
}

// Registry maps logical index names to entries.
type Registry struct {
	entries []Entry
	byName  map[string]int
	byClass map[string][]int
}

// New validates and compiles entries. Names must be unique and non-empty and
// every entry needs a class.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
		byClass: make(map[string][]int),
	}
	for _, e := range entries {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("registry entry with class %q has no name", e.Class)
		}
		if e.Class == "" {
			return nil, fmt.Errorf("index %q has no class", e.Name)
		}
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("index %q declared twice", e.Name)
		}
		if e.PrimaryKey == "" {
			e.PrimaryKey = DefaultPrimaryKey
		}
		e = clone(e)
		r.byName[e.Name] = len(r.entries)
		r.byClass[e.Class] = append(r.byClass[e.Class], len(r.entries))
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// FromConfig compiles YAML index declarations, ordered by name.
func FromConfig(decls map[string]config.IndexDeclConfig) (*Registry, error) {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		d := decls[name]
		e := Entry{
			Name:             name,
			Class:            d.Class,
			Table:            d.Table,
			PrimaryKey:       d.PrimaryKey,
			TranslationTable: d.TranslationTable,
			Schema: Schema{
				Displayed:  d.Displayed,
				Filterable: d.Filterable,
				Sortable:   d.Sortable,
				Searchable: d.Searchable,
			},
			Groups: d.Groups,
		}
		for _, f := range d.Facets {
			e.Facets = append(e.Facets, Facet{Attribute: f.Attribute, Label: f.Label, Type: f.Type})
		}
		if d.Locales != nil {
			e.Locales = &LocaleMeta{
				Source:       d.Locales.Source,
				Targets:      d.Locales.Targets,
				Multilingual: d.Locales.Multilingual,
			}
		}
		entries = append(entries, e)
	}
	return New(entries...)
}

// Lookup returns the entry for a logical index name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// ByClass returns every entry fed by class, in registration order.
func (r *Registry) ByClass(class string) []Entry {
	idx := r.byClass[class]
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.entries[i])
	}
	return out
}

// Names returns all logical index names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of all entries.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// clone detaches slices and maps from the caller so later mutation of the
// declaration cannot change the compiled table.
func clone(e Entry) Entry {
	e.Schema = Schema{
		Displayed:  append([]string(nil), e.Schema.Displayed...),
		Filterable: append([]string(nil), e.Schema.Filterable...),
		Sortable:   append([]string(nil), e.Schema.Sortable...),
		Searchable: append([]string(nil), e.Schema.Searchable...),
	}
	e.Facets = append([]Facet(nil), e.Facets...)
	if e.Groups != nil {
		groups := make(map[string][]string, len(e.Groups))
		for k, v := range e.Groups {
			groups[k] = append([]string(nil), v...)
		}
		e.Groups = groups
	}
	if e.Locales != nil {
		lm := *e.Locales
		lm.Targets = append([]string(nil), lm.Targets...)
		if lm.Multilingual != nil {
			v := *lm.Multilingual
			lm.Multilingual = &v
		}
		e.Locales = &lm
	}
	return e
}
