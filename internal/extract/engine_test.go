package extract

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/pricelens-dev/pricelens/internal/tables"
)

func pageFrom(t *testing.T, pageNum int, markdown string) PageTables {
	t.Helper()
	return PageTables{PageNum: pageNum, Tables: tables.Parse(markdown, slog.Default())}
}

const meltMarkdown = `
# Contactors

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

func TestRunMelt(t *testing.T) {
	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Unit MRP", Melt: true, IncludePage: true}
	res := Run([]PageTables{pageFrom(t, 1, meltMarkdown)}, cfg, DefaultSynonyms())

	wantCols := []string{"reference", "variant", "value", "page"}
	if !reflect.DeepEqual(res.Columns, wantCols) {
		t.Fatalf("columns = %v, want %v", res.Columns, wantCols)
	}
	if len(res.Rows) != 6 {
		t.Fatalf("expected 3 rows per data row (2 data rows), got %d", len(res.Rows))
	}

	variants := map[string]bool{}
	for _, row := range res.Rows {
		variants[row[1]] = true
		if row[3] != "1" {
			t.Errorf("page column = %q", row[3])
		}
	}
	for _, v := range []string{"AC-1", "AC-3", "AC-4"} {
		if !variants[v] {
			t.Errorf("missing variant %s in %v", v, variants)
		}
	}

	if res.Rows[0][0] != "LC1D09" || res.Rows[0][2] != "1200" {
		t.Errorf("unexpected first row %v", res.Rows[0])
	}

	if len(res.RowTableIndices) != len(res.Rows) {
		t.Fatal("row_table_indices must align with rows")
	}
	for _, ref := range res.RowTableIndices {
		if ref.Page != 1 || ref.TableIndex != 0 {
			t.Errorf("unexpected table ref %+v", ref)
		}
	}
}

func TestRunFillDown(t *testing.T) {
	md := `<table>
<tr><th>Reference</th><th>Price</th></tr>
<tr><td>LC1D09</td><td>100</td></tr>
<tr><td></td><td>110</td></tr>
<tr><td>-</td><td>120</td></tr>
</table>`

	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Price"}
	res := Run([]PageTables{pageFrom(t, 2, md)}, cfg, DefaultSynonyms())

	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(res.Rows))
	}
	for i, row := range res.Rows {
		if row[0] != "LC1D09" {
			t.Errorf("row %d reference = %q, want LC1D09", i, row[0])
		}
	}
}

func TestRunFillDownAnnotations(t *testing.T) {
	md := `<table>
<tr><th>Reference</th><th>Price</th></tr>
<tr><td>LC1D09</td><td>100</td></tr>
<tr><td>a</td><td>110</td></tr>
<tr><td>12</td><td>120</td></tr>
<tr><td>LC1D18</td><td>200</td></tr>
</table>`

	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Price"}
	res := Run([]PageTables{pageFrom(t, 1, md)}, cfg, DefaultSynonyms())

	refs := make([]string, len(res.Rows))
	for i, row := range res.Rows {
		refs[i] = row[0]
	}
	want := []string{"LC1D09", "LC1D09", "LC1D09", "LC1D18"}
	if !reflect.DeepEqual(refs, want) {
		t.Errorf("references = %v, want %v", refs, want)
	}
}

func TestRunSkipsSectionRows(t *testing.T) {
	md := `<table>
<tr><th>Reference</th><th>Price</th></tr>
<tr><td>MINIATURE CIRCUIT BREAKERS</td><td>MINIATURE CIRCUIT BREAKERS</td></tr>
<tr><td>A9F74106</td><td>450</td></tr>
</table>`

	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Price"}
	res := Run([]PageTables{pageFrom(t, 1, md)}, cfg, DefaultSynonyms())

	if len(res.Rows) != 1 {
		t.Fatalf("expected section row skipped, got %d rows", len(res.Rows))
	}
	if res.Rows[0][0] != "A9F74106" {
		t.Errorf("unexpected row %v", res.Rows[0])
	}
}

func TestRunAnomalyFlag(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<table>\n<tr><th>Reference</th><th>Price</th></tr>\n")
	for i := 0; i < 19; i++ {
		fmt.Fprintf(&sb, "<tr><td>REF%02d</td><td>%d.50</td></tr>\n", i, 100+i)
	}
	sb.WriteString("<tr><td>REF19</td><td>N/A</td></tr>\n</table>")

	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Price"}
	res := Run([]PageTables{pageFrom(t, 1, sb.String())}, cfg, DefaultSynonyms())

	if len(res.Rows) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(res.Rows))
	}

	var numericFlags []Flag
	for _, f := range res.Flags {
		if f.Reason == ReasonNonNumeric {
			numericFlags = append(numericFlags, f)
		}
	}
	if len(numericFlags) != 1 {
		t.Fatalf("expected exactly one %s flag, got %v", ReasonNonNumeric, res.Flags)
	}
	f := numericFlags[0]
	if f.Row != 19 || res.Rows[f.Row][f.Col] != "N/A" {
		t.Errorf("flag points at row %d col %d (%q)", f.Row, f.Col, res.Rows[f.Row][f.Col])
	}
}

func TestRunHeadingInjection(t *testing.T) {
	md := "# Contactors\n\n## TeSys D\n" + `<table>
<tr><th>Reference</th><th>Price</th></tr>
<tr><td>LC1D09</td><td>100</td></tr>
</table>`

	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Price", IncludeHeading: true}
	res := Run([]PageTables{pageFrom(t, 1, md)}, cfg, DefaultSynonyms())

	wantCols := []string{"reference", "value", "heading"}
	if !reflect.DeepEqual(res.Columns, wantCols) {
		t.Fatalf("columns = %v", res.Columns)
	}
	if res.Rows[0][2] != "TeSys D" {
		t.Errorf("heading = %q, want TeSys D", res.Rows[0][2])
	}
}

func TestRunExtras(t *testing.T) {
	md := `<table>
<tr><th>Reference</th><th>Description</th><th>Price</th></tr>
<tr><td>LC1D09</td><td>Contactor 9A</td><td>100</td></tr>
</table>`

	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Price", Extras: []string{"Description", "Pack Qty"}}
	res := Run([]PageTables{pageFrom(t, 1, md)}, cfg, DefaultSynonyms())

	wantCols := []string{"reference", "Description", "Pack Qty", "value"}
	if !reflect.DeepEqual(res.Columns, wantCols) {
		t.Fatalf("columns = %v", res.Columns)
	}
	want := []string{"LC1D09", "Contactor 9A", "", "100"}
	if !reflect.DeepEqual(res.Rows[0], want) {
		t.Errorf("row = %v, want %v", res.Rows[0], want)
	}
}

func TestRunDeterministic(t *testing.T) {
	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Unit MRP", Melt: true, IncludePage: true, IncludeHeading: true}
	pages := []PageTables{pageFrom(t, 1, meltMarkdown)}

	a := Run(pages, cfg, DefaultSynonyms())
	b := Run(pages, cfg, DefaultSynonyms())
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different results")
	}
}

func TestCSVRoundTrip(t *testing.T) {
	cfg := &Config{RowAnchor: "Reference", ValueAnchor: "Unit MRP", Melt: true}
	res := Run([]PageTables{pageFrom(t, 1, meltMarkdown)}, cfg, DefaultSynonyms())

	data, err := EncodeCSV(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\r\n") {
		t.Error("expected CRLF line endings")
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(records[0], res.Columns) {
		t.Errorf("header = %v", records[0])
	}
	if len(records)-1 != len(res.Rows) {
		t.Fatalf("row count mismatch")
	}
	for i, row := range res.Rows {
		if !reflect.DeepEqual(records[i+1], row) {
			t.Errorf("row %d = %v, want %v", i, records[i+1], row)
		}
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`{"row_anchor":"Reference","value_anchor":"MRP","melt":true,"extras":["Description"]}`))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.RowAnchor != "Reference" || !cfg.Melt || len(cfg.Extras) != 1 {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"row_anchor":"a","value_anchor":"b","bogus":1}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("missing anchor rejected", func(t *testing.T) {
		if _, err := ParseConfig([]byte(`{"row_anchor":"a"}`)); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty anchor rejected", func(t *testing.T) {
		if _, err := ParseConfig([]byte(`{"row_anchor":"a","value_anchor":""}`)); err == nil {
			t.Fatal("expected error")
		}
	})
}
