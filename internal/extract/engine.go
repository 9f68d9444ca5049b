package extract

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pricelens-dev/pricelens/internal/tables"
)

// PageTables is one page's parsed tables, the engine's unit of input.
type PageTables struct {
	PageNum int
	Tables  []tables.Table
}

// TableRef locates the source table of an output row.
type TableRef struct {
	Page       int `json:"page"`
	TableIndex int `json:"table_index"`
}

// Flag marks one suspicious output cell. Advisory only.
type Flag struct {
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Reason string `json:"reason"`
}

// Result is a complete extraction.
type Result struct {
	Columns         []string   `json:"columns"`
	Rows            [][]string `json:"rows"`
	Flags           []Flag     `json:"flags"`
	FlaggedCount    int        `json:"flagged_count"`
	RowCount        int        `json:"row_count"`
	PageCount       int        `json:"page_count"`
	RowTableIndices []TableRef `json:"row_table_indices"`
	HasVariant      bool       `json:"has_variant"`
}

// Run resolves the config against every table and emits output rows.
// Output is a pure function of (pages, cfg, syn).
func Run(pages []PageTables, cfg *Config, syn Synonyms) *Result {
	type bound struct {
		m       *Mapping
		heading string
	}
	var mappings []bound
	hasVariant := false
	for i := range pages {
		for j := range pages[i].Tables {
			t := &pages[i].Tables[j]
			m, ok := Resolve(pages[i].PageNum, t, cfg, syn)
			if !ok {
				continue
			}
			if m.Mode == ModeMelt {
				hasVariant = true
			}
			mappings = append(mappings, bound{m: m, heading: t.Heading()})
		}
	}

	res := &Result{HasVariant: hasVariant}
	res.Columns = outputColumns(cfg, hasVariant)

	pagesUsed := map[int]bool{}
	for _, b := range mappings {
		m := b.m
		lastRef := ""
		lastValue := ""

		for _, row := range m.Table.Rows {
			// Continuation rows leave the anchor cell empty; they are
			// fill-down candidates, never section banners.
			if !cellEmpty(cell(row, m.RowAnchorCol)) && sectionRow(row) {
				continue
			}

			ref, carried := fillDown(cell(row, m.RowAnchorCol), lastRef)
			if !carried {
				lastRef = ref
			}

			emit := func(value, variant string) {
				out := make([]string, 0, len(res.Columns))
				out = append(out, ref)
				if hasVariant {
					out = append(out, variant)
				}
				for _, ei := range m.ExtraCols {
					if ei >= 0 {
						out = append(out, cell(row, ei))
					} else {
						out = append(out, "")
					}
				}
				out = append(out, value)
				if cfg.IncludeHeading {
					out = append(out, b.heading)
				}
				if cfg.IncludePage {
					out = append(out, strconv.Itoa(m.PageNum))
				}
				res.Rows = append(res.Rows, out)
				res.RowTableIndices = append(res.RowTableIndices, TableRef{Page: m.PageNum, TableIndex: m.Table.Index})
				pagesUsed[m.PageNum] = true
			}

			switch m.Mode {
			case ModeMelt:
				for _, vc := range m.ValueCols {
					emit(cleanCell(cell(row, vc.Col)), vc.Variant)
				}
			default:
				value := cleanCell(cell(row, m.ValueCols[0].Col))
				if m.Mode == ModeFlat && cfg.FillDownValue {
					if value == "" {
						value = lastValue
					} else {
						lastValue = value
					}
				}
				emit(value, "")
			}
		}
	}

	res.RowCount = len(res.Rows)
	res.PageCount = len(pagesUsed)
	res.Flags = detectAnomalies(res.Columns, res.Rows, valueColumnIndex(cfg, hasVariant))
	flaggedRows := map[int]bool{}
	for _, f := range res.Flags {
		flaggedRows[f.Row] = true
	}
	res.FlaggedCount = len(flaggedRows)
	return res
}

// outputColumns builds the header in emission order:
// reference, variant?, extras..., value, heading?, page?.
func outputColumns(cfg *Config, hasVariant bool) []string {
	cols := []string{"reference"}
	if hasVariant {
		cols = append(cols, "variant")
	}
	cols = append(cols, cfg.Extras...)
	cols = append(cols, "value")
	if cfg.IncludeHeading {
		cols = append(cols, "heading")
	}
	if cfg.IncludePage {
		cols = append(cols, "page")
	}
	return cols
}

// valueColumnIndex locates the value column within the output header.
func valueColumnIndex(cfg *Config, hasVariant bool) int {
	i := 1 // reference
	if hasVariant {
		i++
	}
	return i + len(cfg.Extras)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// cleanCell maps placeholder dashes to empty.
func cleanCell(v string) string {
	if cellEmpty(v) {
		return ""
	}
	return strings.TrimSpace(v)
}

// sectionRow reports a row whose non-empty cells all carry the same text;
// OCR renders section banners that way and they are not products.
func sectionRow(row []string) bool {
	distinct := map[string]bool{}
	for _, v := range row {
		if !cellEmpty(v) {
			distinct[v] = true
		}
	}
	return len(distinct) <= 1
}

// fillDown decides the reference for a row. Empty cells and sub-row
// annotations (a lowercase-led token, or digits-only once a reference is
// known) carry the previous reference forward.
func fillDown(cell, lastRef string) (ref string, carried bool) {
	v := cleanCell(cell)
	if v == "" {
		return lastRef, true
	}
	if lastRef != "" && isSubRowAnnotation(v, lastRef) {
		return lastRef, true
	}
	return v, false
}

func isSubRowAnnotation(v, lastRef string) bool {
	runes := []rune(v)
	if unicode.IsLower(runes[0]) && unicode.IsLetter(runes[0]) {
		return true
	}
	// A digit-only token shorter than the current reference reads as a
	// continuation suffix, not a new reference.
	if len(v) >= len(lastRef) {
		return false
	}
	for _, r := range runes {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
