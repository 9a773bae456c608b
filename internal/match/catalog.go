package match

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// COMMAND CATALOG
// =============================================================================
// The catalog is the static uCODE vocabulary: canonical command names plus
// their registered aliases. It is immutable once built; the matcher only
// reads it. Population happens externally (the session loads the default
// table, tests build their own).

// Entry is a single catalog entry.
type Entry struct {
	// Canonical is the uppercase canonical command name.
	Canonical string

	// Aliases are alternate spellings that resolve to Canonical.
	Aliases []string
}

// Catalog is the immutable command table consulted by the matcher.
type Catalog struct {
	entries []Entry

	// byToken maps case-folded canonical names and aliases to the
	// canonical name.
	byToken map[string]string

	// canonicals is the sorted list of canonical names, the fuzzy
	// candidate set.
	canonicals []string
}

// NewCatalog builds a catalog from entries. Duplicate canonical names or
// aliases that collide across entries are rejected.
func NewCatalog(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		entries: entries,
		byToken: make(map[string]string),
	}

	for _, e := range entries {
		canonical := strings.ToUpper(strings.TrimSpace(e.Canonical))
		if canonical == "" {
			return nil, fmt.Errorf("catalog entry with empty canonical name")
		}

		key := strings.ToLower(canonical)
		if existing, ok := c.byToken[key]; ok && existing != canonical {
			return nil, fmt.Errorf("catalog collision: %q already maps to %q", canonical, existing)
		}
		c.byToken[key] = canonical
		c.canonicals = append(c.canonicals, canonical)

		for _, alias := range e.Aliases {
			key := strings.ToLower(strings.TrimSpace(alias))
			if key == "" {
				continue
			}
			if existing, ok := c.byToken[key]; ok && existing != canonical {
				return nil, fmt.Errorf("alias collision: %q maps to both %q and %q", alias, existing, canonical)
			}
			c.byToken[key] = canonical
		}
	}

	sort.Strings(c.canonicals)
	return c, nil
}

// Resolve returns the canonical name for a token (exact or alias match,
// case-insensitive) and whether it was found.
func (c *Catalog) Resolve(token string) (string, bool) {
	canonical, ok := c.byToken[strings.ToLower(token)]
	return canonical, ok
}

// Canonicals returns the canonical command names, sorted. The returned
// slice is shared; callers must not mutate it.
func (c *Catalog) Canonicals() []string {
	return c.canonicals
}

// Len returns the number of canonical entries.
func (c *Catalog) Len() int {
	return len(c.canonicals)
}

// DefaultEntries is the built-in uCODE vocabulary. HELP, STATUS, EXIT and
// HISTORY also exist as reserved tokens in the orchestrator; they appear
// here so fuzzy matching can correct typos like HLEP toward them.
func DefaultEntries() []Entry {
	return []Entry{
		{Canonical: "HELP", Aliases: []string{"h", "man"}},
		{Canonical: "STATUS", Aliases: []string{"stat", "info"}},
		{Canonical: "EXIT", Aliases: []string{"quit", "bye", "q"}},
		{Canonical: "HISTORY", Aliases: []string{"hist"}},
		{Canonical: "PLAY", Aliases: []string{"run"}},
		{Canonical: "SHOW", Aliases: []string{"display", "view"}},
		// No "ls" alias: that token must stay free for raw shell dispatch.
		{Canonical: "LIST", Aliases: []string{"dir"}},
		{Canonical: "CLEAR", Aliases: []string{"cls"}},
		{Canonical: "GATE", Aliases: nil},
		{Canonical: "CONFIG", Aliases: []string{"cfg", "settings"}},
		{Canonical: "RELOAD", Aliases: []string{"refresh"}},
	}
}
