package tables

import (
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

const meltTable = `
# Contactors

## TeSys D

<table>
<thead>
<tr><th rowspan="2">Reference</th><th colspan="3">Unit MRP</th></tr>
<tr><th>AC-1</th><th>AC-3</th><th>AC-4</th></tr>
</thead>
<tbody>
<tr><td>LC1D09</td><td>1200</td><td>1300</td><td>1400</td></tr>
<tr><td>LC1D12</td><td>1500</td><td>1600</td><td>1700</td></tr>
</tbody>
</table>
`

func TestParseMultiRowHeader(t *testing.T) {
	tabs := Parse(meltTable, slog.Default())
	if len(tabs) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tabs))
	}
	tab := tabs[0]

	wantCols := []Column{
		{Parent: "Reference", Child: "Reference", Display: "Reference", Normalized: "reference"},
		{Parent: "Unit MRP", Child: "AC-1", Display: "Unit MRP · AC-1", Normalized: "unit_mrp_ac_1"},
		{Parent: "Unit MRP", Child: "AC-3", Display: "Unit MRP · AC-3", Normalized: "unit_mrp_ac_3"},
		{Parent: "Unit MRP", Child: "AC-4", Display: "Unit MRP · AC-4", Normalized: "unit_mrp_ac_4"},
	}
	if !reflect.DeepEqual(tab.Columns, wantCols) {
		t.Errorf("columns mismatch:\n got %+v\nwant %+v", tab.Columns, wantCols)
	}

	wantRows := [][]string{
		{"LC1D09", "1200", "1300", "1400"},
		{"LC1D12", "1500", "1600", "1700"},
	}
	if !reflect.DeepEqual(tab.Rows, wantRows) {
		t.Errorf("rows mismatch:\n got %v\nwant %v", tab.Rows, wantRows)
	}

	if got := tab.Heading(); got != "TeSys D" {
		t.Errorf("expected closest heading TeSys D, got %q", got)
	}
	if !reflect.DeepEqual(tab.Headings, []string{"Contactors", "TeSys D"}) {
		t.Errorf("unexpected headings %v", tab.Headings)
	}
}

func TestParseSingleRowHeader(t *testing.T) {
	md := `<table>
<tr><th>Ref</th><th>Price</th></tr>
<tr><td>A1</td><td>10</td></tr>
</table>`

	tabs := Parse(md, slog.Default())
	if len(tabs) != 1 {
		t.Fatal("expected one table")
	}
	col := tabs[0].Columns[0]
	if col.Parent != "Ref" || col.Child != "Ref" || col.Display != "Ref" {
		t.Errorf("single header row should set parent=child: %+v", col)
	}
}

func TestParseNoTH(t *testing.T) {
	// First row becomes the header when no <th> exists.
	md := `<table>
<tr><td>Ref</td><td>Price</td></tr>
<tr><td>A1</td><td>10</td></tr>
</table>`

	tabs := Parse(md, slog.Default())
	if len(tabs) != 1 {
		t.Fatal("expected one table")
	}
	if tabs[0].Columns[0].Display != "Ref" {
		t.Errorf("unexpected header %+v", tabs[0].Columns)
	}
	if len(tabs[0].Rows) != 1 {
		t.Errorf("expected 1 data row, got %d", len(tabs[0].Rows))
	}
}

func TestParseRowspanCarry(t *testing.T) {
	md := `<table>
<tr><th>Ref</th><th>Pole</th><th>Price</th></tr>
<tr><td rowspan="2">LC1D09</td><td>3P</td><td>100</td></tr>
<tr><td>4P</td><td>120</td></tr>
</table>`

	tabs := Parse(md, slog.Default())
	wantRows := [][]string{
		{"LC1D09", "3P", "100"},
		{"LC1D09", "4P", "120"},
	}
	if !reflect.DeepEqual(tabs[0].Rows, wantRows) {
		t.Errorf("rowspan carry mismatch:\n got %v\nwant %v", tabs[0].Rows, wantRows)
	}
}

func TestParseColspanAndPadding(t *testing.T) {
	md := `<table>
<tr><th>A</th><th>B</th><th>C</th></tr>
<tr><td colspan="2">wide</td><td>x</td></tr>
<tr><td>short</td></tr>
</table>`

	tabs := Parse(md, slog.Default())
	wantRows := [][]string{
		{"wide", "wide", "x"},
		{"short", "", ""},
	}
	if !reflect.DeepEqual(tabs[0].Rows, wantRows) {
		t.Errorf("colspan/padding mismatch:\n got %v\nwant %v", tabs[0].Rows, wantRows)
	}
}

func TestParseMalformed(t *testing.T) {
	t.Run("empty table yields no rows", func(t *testing.T) {
		tabs := Parse("<table></table>", slog.Default())
		if len(tabs) != 1 {
			t.Fatalf("expected 1 table, got %d", len(tabs))
		}
		if len(tabs[0].Rows) != 0 {
			t.Errorf("expected no rows, got %v", tabs[0].Rows)
		}
	})

	t.Run("unterminated table still parses", func(t *testing.T) {
		tabs := Parse("<table><tr><th>A</th></tr><tr><td>1</td></tr>", slog.Default())
		if len(tabs) != 1 || len(tabs[0].Rows) != 1 {
			t.Fatalf("unexpected result %+v", tabs)
		}
	})

	t.Run("no tables", func(t *testing.T) {
		if tabs := Parse("# just a heading\n\nprose", slog.Default()); tabs != nil {
			t.Errorf("expected nil, got %v", tabs)
		}
	})
}

func TestParseDeterministic(t *testing.T) {
	a := Parse(meltTable, slog.Default())
	b := Parse(meltTable, slog.Default())
	if !reflect.DeepEqual(a, b) {
		t.Error("parse of identical input differed")
	}
}

func TestTableIndexOrder(t *testing.T) {
	md := `<table><tr><th>A</th></tr><tr><td>1</td></tr></table>
text between
<table><tr><th>B</th></tr><tr><td>2</td></tr></table>`

	tabs := Parse(md, slog.Default())
	if len(tabs) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(tabs))
	}
	if tabs[0].Index != 0 || tabs[1].Index != 1 {
		t.Errorf("indices %d,%d", tabs[0].Index, tabs[1].Index)
	}
	if tabs[0].Columns[0].Display != "A" || tabs[1].Columns[0].Display != "B" {
		t.Error("tables out of source order")
	}
}

func TestSetextHeadings(t *testing.T) {
	md := "Switchgear\n==========\n\n<table><tr><th>A</th></tr><tr><td>1</td></tr></table>"
	tabs := Parse(md, slog.Default())
	if got := tabs[0].Heading(); got != "Switchgear" {
		t.Errorf("expected setext heading, got %q", got)
	}
}

func TestReplaceBlock(t *testing.T) {
	md := "intro\n<table><tr><th>A</th></tr></table>\nmiddle\n<table><tr><th>B</th></tr></table>\nend"

	t.Run("replaces only the addressed block", func(t *testing.T) {
		got, err := ReplaceBlock(md, 1, "<table><tr><th>B2</th></tr></table>")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(got, "<th>A</th>") || !strings.Contains(got, "<th>B2</th>") {
			t.Errorf("unexpected result %q", got)
		}
		if !strings.HasPrefix(got, "intro\n") || !strings.HasSuffix(got, "\nend") {
			t.Error("bytes outside the block changed")
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, err := ReplaceBlock(md, 2, "<table></table>"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Unit MRP", "unit mrp"},
		{"  Ref.  No. ", "ref no"},
		{"LIST-PRICE (₹)", "list price"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeCol(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Unit MRP · AC-1", "unit_mrp_ac_1"},
		{"List Price (₹)", "list_price_inr"},
		{"  Ref  ", "ref"},
	}
	for _, c := range cases {
		if got := NormalizeCol(c.in); got != c.want {
			t.Errorf("NormalizeCol(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestGroupColumns(t *testing.T) {
	cols := []Column{
		{Parent: "Reference", Child: "Reference"},
		{Parent: "Unit MRP", Child: "AC-1"},
		{Parent: "Unit MRP", Child: "AC-3"},
	}
	groups := GroupColumns(cols)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if !groups[0].IsFlat || groups[0].Parent != "Reference" {
		t.Errorf("unexpected first group %+v", groups[0])
	}
	if groups[1].IsFlat || !reflect.DeepEqual(groups[1].Children, []string{"AC-1", "AC-3"}) {
		t.Errorf("unexpected second group %+v", groups[1])
	}
}
