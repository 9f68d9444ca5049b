package extract

import "github.com/pricelens-dev/pricelens/internal/tables"

// Synonyms maps a normalized anchor term to equivalent header terms.
// The table is an input to resolution so callers can extend it per vendor.
type Synonyms map[string][]string

// DefaultSynonyms covers the column spellings seen across vendor pricelists.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		"ref":         {"reference"},
		"reference":   {"ref"},
		"mrp":         {"list price"},
		"list price":  {"mrp"},
		"qty":         {"quantity"},
		"quantity":    {"qty"},
		"desc":        {"description"},
		"description": {"desc"},
	}
}

// aliases returns the normalized query plus its synonym expansions.
func (s Synonyms) aliases(query string) []string {
	nq := tables.Normalize(query)
	out := []string{nq}
	for _, alt := range s[nq] {
		out = append(out, tables.Normalize(alt))
	}
	return out
}
