package extract

import (
	"strings"

	"github.com/pricelens-dev/pricelens/internal/tables"
)

// Mode is how the value anchor binds to a table's columns.
type Mode int

const (
	// ModeFlat binds one column matched by parent or child.
	ModeFlat Mode = iota
	// ModePin binds the single column matching (value_anchor, match_child).
	ModePin
	// ModeMelt binds every child column under the matching parent.
	ModeMelt
)

func (m Mode) String() string {
	switch m {
	case ModePin:
		return "pin"
	case ModeMelt:
		return "melt"
	default:
		return "flat"
	}
}

// ValueColumn is one bound value column. Variant names the child header in
// melt mode.
type ValueColumn struct {
	Col     int
	Variant string
}

// Mapping binds a config's fields to one table's columns.
type Mapping struct {
	PageNum      int
	Table        *tables.Table
	RowAnchorCol int
	Mode         Mode
	ValueCols    []ValueColumn
	// ExtraCols aligns with Config.Extras; -1 marks an extra this table
	// does not carry (it emits blank).
	ExtraCols []int
}

// matchTerm reports a normalized two-way substring match.
func matchTerm(alias, candidate string) bool {
	if alias == "" || candidate == "" {
		return false
	}
	return strings.Contains(candidate, alias) || strings.Contains(alias, candidate)
}

// matches reports whether the header text matches the query under the
// synonym table.
func matches(syn Synonyms, query, header string) bool {
	nc := tables.Normalize(header)
	for _, alias := range syn.aliases(query) {
		if matchTerm(alias, nc) {
			return true
		}
	}
	return false
}

// nonEmptyRatio is the fraction of a column's cells carrying a value.
func nonEmptyRatio(rows [][]string, col int) float64 {
	if len(rows) == 0 {
		return 0
	}
	n := 0
	for _, row := range rows {
		if col < len(row) && !cellEmpty(row[col]) {
			n++
		}
	}
	return float64(n) / float64(len(rows))
}

func cellEmpty(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == "-" || v == "—"
}

// resolveRowAnchor finds the row-anchor column. A parent-level match over a
// multi-child parent picks the child with the most values, leftmost on ties.
func resolveRowAnchor(t *tables.Table, anchor string, syn Synonyms) int {
	for i, col := range t.Columns {
		childHit := matches(syn, anchor, col.Child)
		parentHit := matches(syn, anchor, col.Parent)
		if !childHit && !parentHit {
			continue
		}
		if childHit || col.Parent == col.Child {
			return i
		}

		// Parent-level match: consider every column under this parent.
		best, bestRatio := i, -1.0
		for j := i; j < len(t.Columns); j++ {
			if t.Columns[j].Parent != col.Parent {
				continue
			}
			if r := nonEmptyRatio(t.Rows, j); r > bestRatio {
				best, bestRatio = j, r
			}
		}
		return best
	}
	return -1
}

// Resolve binds a config to one table. ok is false when the table is not
// usable (no row anchor or no value column).
func Resolve(pageNum int, t *tables.Table, cfg *Config, syn Synonyms) (*Mapping, bool) {
	if len(t.Columns) == 0 || len(t.Rows) == 0 {
		return nil, false
	}

	m := &Mapping{PageNum: pageNum, Table: t, RowAnchorCol: -1}

	m.RowAnchorCol = resolveRowAnchor(t, cfg.RowAnchor, syn)
	if m.RowAnchorCol < 0 {
		return nil, false
	}

	switch {
	case cfg.MatchChild != "":
		m.Mode = ModePin
		for i, col := range t.Columns {
			if i == m.RowAnchorCol {
				continue
			}
			if matches(syn, cfg.ValueAnchor, col.Parent) && matches(syn, cfg.MatchChild, col.Child) {
				m.ValueCols = append(m.ValueCols, ValueColumn{Col: i})
				break
			}
		}
	case cfg.Melt:
		m.Mode = ModeMelt
		for i, col := range t.Columns {
			if i == m.RowAnchorCol {
				continue
			}
			if matches(syn, cfg.ValueAnchor, col.Parent) {
				m.ValueCols = append(m.ValueCols, ValueColumn{Col: i, Variant: col.Child})
			}
		}
	default:
		m.Mode = ModeFlat
		for i, col := range t.Columns {
			if i == m.RowAnchorCol {
				continue
			}
			if matches(syn, cfg.ValueAnchor, col.Parent) || matches(syn, cfg.ValueAnchor, col.Child) {
				m.ValueCols = append(m.ValueCols, ValueColumn{Col: i})
				break
			}
		}
	}
	if len(m.ValueCols) == 0 {
		return nil, false
	}

	for _, extra := range cfg.Extras {
		found := -1
		for i, col := range t.Columns {
			if i == m.RowAnchorCol {
				continue
			}
			taken := false
			for _, vc := range m.ValueCols {
				if vc.Col == i {
					taken = true
					break
				}
			}
			if taken {
				continue
			}
			if matches(syn, extra, col.Parent) || matches(syn, extra, col.Child) {
				found = i
				break
			}
		}
		m.ExtraCols = append(m.ExtraCols, found)
	}

	return m, true
}
