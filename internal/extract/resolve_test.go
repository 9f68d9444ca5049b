package extract

import (
	"log/slog"
	"testing"

	"github.com/pricelens-dev/pricelens/internal/tables"
)

func tableFrom(t *testing.T, md string) *tables.Table {
	t.Helper()
	tabs := tables.Parse(md, slog.Default())
	if len(tabs) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tabs))
	}
	return &tabs[0]
}

func TestResolveModes(t *testing.T) {
	md := `<table>
<thead>
<tr><th rowspan="2">Ref. No.</th><th rowspan="2">Description</th><th colspan="2">List Price</th></tr>
<tr><th>1P</th><th>3P</th></tr>
</thead>
<tbody>
<tr><td>A1</td><td>Breaker</td><td>100</td><td>200</td></tr>
</tbody>
</table>`
	tab := tableFrom(t, md)
	syn := DefaultSynonyms()

	t.Run("flat picks first matching column", func(t *testing.T) {
		cfg := &Config{RowAnchor: "Reference", ValueAnchor: "List Price"}
		m, ok := Resolve(1, tab, cfg, syn)
		if !ok {
			t.Fatal("expected usable mapping")
		}
		if m.Mode != ModeFlat || len(m.ValueCols) != 1 || m.ValueCols[0].Col != 2 {
			t.Errorf("unexpected mapping %+v", m)
		}
	})

	t.Run("melt binds every child under the parent", func(t *testing.T) {
		cfg := &Config{RowAnchor: "Reference", ValueAnchor: "List Price", Melt: true}
		m, ok := Resolve(1, tab, cfg, syn)
		if !ok {
			t.Fatal("expected usable mapping")
		}
		if m.Mode != ModeMelt || len(m.ValueCols) != 2 {
			t.Fatalf("unexpected mapping %+v", m)
		}
		if m.ValueCols[0].Variant != "1P" || m.ValueCols[1].Variant != "3P" {
			t.Errorf("variants %+v", m.ValueCols)
		}
	})

	t.Run("pin selects the one child", func(t *testing.T) {
		cfg := &Config{RowAnchor: "Reference", ValueAnchor: "List Price", MatchChild: "3P"}
		m, ok := Resolve(1, tab, cfg, syn)
		if !ok {
			t.Fatal("expected usable mapping")
		}
		if m.Mode != ModePin || len(m.ValueCols) != 1 || m.ValueCols[0].Col != 3 {
			t.Errorf("unexpected mapping %+v", m)
		}
	})

	t.Run("synonym maps mrp to list price", func(t *testing.T) {
		cfg := &Config{RowAnchor: "Ref", ValueAnchor: "MRP"}
		if _, ok := Resolve(1, tab, cfg, syn); !ok {
			t.Error("expected mrp to resolve against List Price")
		}
	})

	t.Run("unusable without value column", func(t *testing.T) {
		cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Weight"}
		if _, ok := Resolve(1, tab, cfg, syn); ok {
			t.Error("expected unusable mapping")
		}
	})
}

func TestResolveParentLevelRowAnchor(t *testing.T) {
	// "Catalogue" is a parent with two children; the one with more values
	// must win the row-anchor slot.
	md := `<table>
<thead>
<tr><th colspan="2">Catalogue Number</th><th rowspan="2">Price</th></tr>
<tr><th>Old</th><th>New</th></tr>
</thead>
<tbody>
<tr><td></td><td>A9F74106</td><td>450</td></tr>
<tr><td>OLD-1</td><td>A9F74206</td><td>470</td></tr>
<tr><td></td><td>A9F74306</td><td>490</td></tr>
</tbody>
</table>`
	tab := tableFrom(t, md)

	cfg := &Config{RowAnchor: "Catalogue", ValueAnchor: "Price"}
	m, ok := Resolve(1, tab, cfg, DefaultSynonyms())
	if !ok {
		t.Fatal("expected usable mapping")
	}
	if m.RowAnchorCol != 1 {
		t.Errorf("row anchor col = %d, want 1 (the fuller child)", m.RowAnchorCol)
	}
}

func TestResolveExtrasUnmatched(t *testing.T) {
	md := `<table>
<tr><th>Reference</th><th>Price</th></tr>
<tr><td>A1</td><td>100</td></tr>
</table>`
	tab := tableFrom(t, md)

	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Price", Extras: []string{"Description"}}
	m, ok := Resolve(1, tab, cfg, DefaultSynonyms())
	if !ok {
		t.Fatal("expected usable mapping")
	}
	if len(m.ExtraCols) != 1 || m.ExtraCols[0] != -1 {
		t.Errorf("extras = %v, want [-1]", m.ExtraCols)
	}
}

func TestScanColumns(t *testing.T) {
	pages := []PageTables{
		pageFrom(t, 1, meltMarkdown),
		pageFrom(t, 2, "no tables here"),
	}
	res := ScanColumns(pages, "Reference", "Unit MRP", DefaultSynonyms())

	if res.TablesFound != 1 || res.PagesFound != 1 {
		t.Errorf("found %d tables on %d pages", res.TablesFound, res.PagesFound)
	}
	if len(res.ValueColumns) != 3 {
		t.Errorf("value columns %v", res.ValueColumns)
	}
	if len(res.ValueGroups) != 1 || res.ValueGroups[0].Parent != "Unit MRP" {
		t.Errorf("groups %v", res.ValueGroups)
	}
}
