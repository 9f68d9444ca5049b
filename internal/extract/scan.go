package extract

import "github.com/pricelens-dev/pricelens/internal/tables"

// ScanResult summarizes where a pair of anchors binds across an upload.
type ScanResult struct {
	TablesFound  int                  `json:"tables_found"`
	PagesFound   int                  `json:"pages_found"`
	ValueColumns []string             `json:"value_columns"`
	ExtraColumns []string             `json:"extra_columns"`
	ValueGroups  []tables.ColumnGroup `json:"value_groups"`
}

// ScanColumns finds every table where both anchors match and reports the
// distinct value and extra column names, in first-seen order.
func ScanColumns(pages []PageTables, rowAnchor, valueAnchor string, syn Synonyms) ScanResult {
	res := ScanResult{}
	pagesFound := map[int]bool{}
	valueSeen := map[string]bool{}
	extraSeen := map[string]bool{}
	var valueCols []tables.Column

	for i := range pages {
		for j := range pages[i].Tables {
			t := &pages[i].Tables[j]
			hasRef, hasVal := false, false
			for _, col := range t.Columns {
				if matches(syn, rowAnchor, col.Parent) || matches(syn, rowAnchor, col.Child) {
					hasRef = true
				}
				if matches(syn, valueAnchor, col.Parent) || matches(syn, valueAnchor, col.Child) {
					hasVal = true
				}
			}
			if !hasRef || !hasVal {
				continue
			}

			res.TablesFound++
			pagesFound[pages[i].PageNum] = true

			for _, col := range t.Columns {
				isVal := matches(syn, valueAnchor, col.Parent) || matches(syn, valueAnchor, col.Child)
				isRef := matches(syn, rowAnchor, col.Parent) || matches(syn, rowAnchor, col.Child)
				switch {
				case isVal:
					if !valueSeen[col.Display] {
						valueSeen[col.Display] = true
						res.ValueColumns = append(res.ValueColumns, col.Display)
						valueCols = append(valueCols, col)
					}
				case !isRef:
					if !extraSeen[col.Display] {
						extraSeen[col.Display] = true
						res.ExtraColumns = append(res.ExtraColumns, col.Display)
					}
				}
			}
		}
	}

	res.PagesFound = len(pagesFound)
	res.ValueGroups = tables.GroupColumns(valueCols)
	return res
}
