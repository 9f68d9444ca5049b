// Package tables parses HTML pricelist tables out of OCR page markdown.
//
// OCR output interleaves markdown prose with HTML <table> blocks. Each block
// is parsed leniently into a rectangular grid honoring rowspan/colspan, with
// up to two header rows inferred into (parent, child) column identities.
// Parsing is deterministic and never fails: malformed blocks yield a Table
// with no rows and a log line.
package tables

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Column identifies one table column by its header cells.
type Column struct {
	// Parent is the top header cell, Child the bottom one. For single-row
	// headers the two are equal.
	Parent string `json:"parent"`
	Child  string `json:"child"`
	// Display is the human-readable name: Parent alone, or
	// "Parent · Child" when they differ.
	Display string `json:"display"`
	// Normalized is a csv-safe lowercase identifier derived from Display.
	Normalized string `json:"normalized"`
}

// Table is one parsed <table> block of a page.
type Table struct {
	// Index is the block's position among the page's tables, 0-based,
	// stable across re-parses of the same markdown.
	Index   int      `json:"index"`
	Columns []Column `json:"columns"`
	// Rows holds the data rows (header rows excluded), padded so every
	// row has len(Columns) cells. Empty cells are empty strings.
	Rows [][]string `json:"rows"`
	// Headings are the markdown headings seen on the page before this
	// table, in source order.
	Headings []string `json:"headings"`
}

// Heading returns the closest heading preceding the table, or "".
func (t *Table) Heading() string {
	if len(t.Headings) == 0 {
		return ""
	}
	return t.Headings[len(t.Headings)-1]
}

// ColumnGroup groups detected columns under a shared parent header.
type ColumnGroup struct {
	Parent   string   `json:"parent"`
	Children []string `json:"children"`
	IsFlat   bool     `json:"is_flat"`
}

// Block is the raw source span of one <table> element.
type Block struct {
	Start int // byte offset of "<table"
	End   int // byte offset just past "</table>"
	HTML  string
}

var (
	tableOpen  = regexp.MustCompile(`(?i)<table\b`)
	tableClose = regexp.MustCompile(`(?i)</table\s*>`)
)

// Blocks locates <table>...</table> spans in source order. Matching is
// case-insensitive and tolerant of attributes; an unterminated table runs
// to the end of the input.
func Blocks(markdown string) []Block {
	var blocks []Block
	pos := 0
	for pos < len(markdown) {
		open := tableOpen.FindStringIndex(markdown[pos:])
		if open == nil {
			break
		}
		start := pos + open[0]
		closing := tableClose.FindStringIndex(markdown[start:])
		if closing == nil {
			blocks = append(blocks, Block{Start: start, End: len(markdown), HTML: markdown[start:]})
			break
		}
		end := start + closing[1]
		blocks = append(blocks, Block{Start: start, End: end, HTML: markdown[start:end]})
		pos = end
	}
	return blocks
}

// ReplaceBlock substitutes the index-th table block with replacement,
// leaving every byte outside the block untouched.
func ReplaceBlock(markdown string, index int, replacement string) (string, error) {
	blocks := Blocks(markdown)
	if index < 0 || index >= len(blocks) {
		return "", fmt.Errorf("table index %d out of range (page has %d tables)", index, len(blocks))
	}
	b := blocks[index]
	return markdown[:b.Start] + replacement + markdown[b.End:], nil
}

var (
	atxHeading  = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*\s*$`)
	setextLine  = regexp.MustCompile(`^(?:={3,}|-{3,})\s*$`)
	nonAlnum    = regexp.MustCompile(`[^a-z0-9]+`)
	nonWordCol  = regexp.MustCompile(`[^\w|]`)
	spacesCol   = regexp.MustCompile(`\s+`)
	underscores = regexp.MustCompile(`_+`)
)

// headingsBefore extracts markdown headings from the prose segments between
// table blocks, returning for each block the headings preceding it.
func headingsBefore(markdown string, blocks []Block) [][]string {
	out := make([][]string, len(blocks))
	var seen []string
	prev := 0
	for i, b := range blocks {
		segment := markdown[prev:b.Start]
		seen = append(seen, scanHeadings(segment)...)
		cp := make([]string, len(seen))
		copy(cp, seen)
		out[i] = cp
		prev = b.End
	}
	return out
}

// scanHeadings finds ATX and setext headings in a prose segment.
func scanHeadings(segment string) []string {
	var headings []string
	lines := strings.Split(segment, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := atxHeading.FindStringSubmatch(trimmed); m != nil {
			headings = append(headings, m[1])
			continue
		}
		// Setext: a text line underlined with === or ---.
		if trimmed != "" && i+1 < len(lines) &&
			setextLine.MatchString(strings.TrimSpace(lines[i+1])) &&
			!strings.HasPrefix(trimmed, "|") && !strings.HasPrefix(trimmed, "<") {
			headings = append(headings, trimmed)
		}
	}
	return headings
}

// Normalize lowercases, strips punctuation, and collapses whitespace for
// anchor matching.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// NormalizeCol derives a csv-safe column identifier from a display name.
func NormalizeCol(name string) string {
	name = strings.ReplaceAll(name, "₹", "INR")
	name = spacesCol.ReplaceAllString(strings.TrimSpace(name), "_")
	name = nonWordCol.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	return strings.ToLower(strings.Trim(name, "_"))
}

// Parse extracts all tables from one page's markdown.
func Parse(markdown string, logger *slog.Logger) []Table {
	if markdown == "" {
		return nil
	}
	blocks := Blocks(markdown)
	if len(blocks) == 0 {
		return nil
	}
	headings := headingsBefore(markdown, blocks)

	out := make([]Table, 0, len(blocks))
	for i, b := range blocks {
		t := parseBlock(b.HTML, i, logger)
		t.Headings = headings[i]
		out = append(out, t)
	}
	return out
}

// rawCell is one <td>/<th> as tokenized.
type rawCell struct {
	text    string
	rowSpan int
	colSpan int
	header  bool
}

// rawRow is one <tr> with its section context.
type rawRow struct {
	cells   []rawCell
	inThead bool
}

// parseBlock parses one table block into a Table. Malformed input produces
// a Table with no rows.
func parseBlock(block string, index int, logger *slog.Logger) Table {
	t := Table{Index: index}

	rows := tokenizeRows(block)
	if len(rows) == 0 {
		logger.Warn("table block has no rows", "table_index", index)
		return t
	}

	headerRows, bodyRows := splitHeader(rows)
	if len(headerRows) == 0 {
		logger.Warn("table block has no header", "table_index", index)
		return t
	}

	nCols := 0
	for _, row := range headerRows {
		count := 0
		for _, c := range row.cells {
			count += c.colSpan
		}
		if count > nCols {
			nCols = count
		}
	}
	if nCols == 0 {
		logger.Warn("table block has empty header", "table_index", index)
		return t
	}

	t.Columns = buildColumns(headerRows, nCols)
	t.Rows = buildRows(bodyRows, nCols)
	return t
}

// tokenizeRows walks the block's tokens collecting rows and cells. The
// tokenizer recovers from unclosed tags and stray text.
func tokenizeRows(block string) []rawRow {
	z := html.NewTokenizer(strings.NewReader(block))

	var rows []rawRow
	var cur *rawRow
	var cell *rawCell
	inThead := false
	var text strings.Builder

	closeCell := func() {
		if cur != nil && cell != nil {
			cell.text = collapseSpace(text.String())
			cur.cells = append(cur.cells, *cell)
		}
		cell = nil
		text.Reset()
	}
	closeRow := func() {
		closeCell()
		if cur != nil {
			rows = append(rows, *cur)
		}
		cur = nil
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			closeRow()
			return rows
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "thead":
				inThead = true
			case "tbody", "tfoot":
				inThead = false
			case "tr":
				closeRow()
				cur = &rawRow{inThead: inThead}
			case "td", "th":
				closeCell()
				if cur == nil {
					cur = &rawRow{inThead: inThead}
				}
				cell = &rawCell{rowSpan: 1, colSpan: 1, header: tok.Data == "th"}
				for _, a := range tok.Attr {
					n, err := strconv.Atoi(strings.TrimSpace(a.Val))
					if err != nil || n < 1 {
						continue
					}
					switch a.Key {
					case "rowspan":
						cell.rowSpan = n
					case "colspan":
						cell.colSpan = n
					}
				}
			case "br":
				if cell != nil {
					text.WriteByte(' ')
				}
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "td", "th":
				closeCell()
			case "tr":
				closeRow()
			case "thead":
				inThead = false
			case "table":
				closeRow()
				return rows
			}
		case html.TextToken:
			if cell != nil {
				text.Write(z.Text())
			}
		}
	}
}

// splitHeader separates header rows from data rows. <thead> rows win when
// present; otherwise a leading run of rows containing <th> cells; otherwise
// the first row. At most two rows form the header.
func splitHeader(rows []rawRow) (header, body []rawRow) {
	hasThead := false
	for _, r := range rows {
		if r.inThead {
			hasThead = true
			break
		}
	}

	if hasThead {
		for _, r := range rows {
			if r.inThead {
				header = append(header, r)
			} else {
				body = append(body, r)
			}
		}
	} else {
		headerDone := false
		for _, r := range rows {
			if !headerDone && rowHasTH(r) {
				header = append(header, r)
			} else {
				headerDone = true
				body = append(body, r)
			}
		}
		if len(header) == 0 && len(rows) > 0 {
			header = rows[:1]
			body = rows[1:]
		}
	}

	if len(header) > 2 {
		body = append(append([]rawRow{}, header[2:]...), body...)
		header = header[:2]
	}
	return header, body
}

func rowHasTH(r rawRow) bool {
	for _, c := range r.cells {
		if c.header {
			return true
		}
	}
	return false
}

// buildColumns lays header cells onto a grid honoring spans, then derives
// the (parent, child) identity of each column.
func buildColumns(headerRows []rawRow, nCols int) []Column {
	grid := make([][]*string, len(headerRows))
	for i := range grid {
		grid[i] = make([]*string, nCols)
	}

	for ri, row := range headerRows {
		ci := 0
		for _, c := range row.cells {
			for ci < nCols && grid[ri][ci] != nil {
				ci++
			}
			if ci >= nCols {
				break
			}
			text := c.text
			for dr := 0; dr < c.rowSpan; dr++ {
				for dc := 0; dc < c.colSpan; dc++ {
					r, cc := ri+dr, ci+dc
					if r < len(headerRows) && cc < nCols {
						grid[r][cc] = &text
					}
				}
			}
			ci += c.colSpan
		}
	}

	cols := make([]Column, 0, nCols)
	for ci := 0; ci < nCols; ci++ {
		levels := make([]string, 0, len(headerRows))
		for ri := range headerRows {
			v := ""
			if grid[ri][ci] != nil {
				v = *grid[ri][ci]
			}
			levels = append(levels, v)
		}

		// Collapse duplicates introduced by rowspan.
		deduped := []string{levels[0]}
		for _, lv := range levels[1:] {
			if lv != deduped[len(deduped)-1] {
				deduped = append(deduped, lv)
			}
		}

		var col Column
		if len(deduped) == 1 {
			col.Parent = deduped[0]
			col.Child = deduped[0]
			col.Display = deduped[0]
		} else {
			col.Parent = deduped[0]
			col.Child = deduped[len(deduped)-1]
			col.Display = col.Parent + " · " + col.Child
		}
		col.Normalized = NormalizeCol(col.Display)
		cols = append(cols, col)
	}
	return cols
}

// buildRows lays data cells onto the column grid, carrying rowspans down
// and duplicating across colspans. Rows are padded to nCols.
func buildRows(bodyRows []rawRow, nCols int) [][]string {
	type span struct {
		value     string
		remaining int
	}
	active := map[int]*span{}

	rows := make([][]string, 0, len(bodyRows))
	for _, row := range bodyRows {
		out := make([]string, nCols)
		ci := 0
		cellIdx := 0

		for ci < nCols {
			if sp, ok := active[ci]; ok {
				out[ci] = sp.value
				sp.remaining--
				if sp.remaining <= 0 {
					delete(active, ci)
				}
				ci++
				continue
			}
			if cellIdx >= len(row.cells) {
				ci++
				continue
			}
			c := row.cells[cellIdx]
			for dc := 0; dc < c.colSpan; dc++ {
				if ci+dc < nCols {
					out[ci+dc] = c.text
					if c.rowSpan > 1 {
						active[ci+dc] = &span{value: c.text, remaining: c.rowSpan - 1}
					}
				}
			}
			ci += c.colSpan
			cellIdx++
		}
		rows = append(rows, out)
	}
	return rows
}

// RowShapes returns the effective column count of every physical row in a
// table block, counting colspans and the columns carried into a row by
// rowspans above it. Used to diagnose structurally broken tables.
func RowShapes(block string) []int {
	rows := tokenizeRows(block)
	shapes := make([]int, 0, len(rows))

	// carry[col] holds how many more rows the rowspan above still covers.
	carry := map[int]int{}
	for _, row := range rows {
		width := 0
		for col, left := range carry {
			if left > 0 {
				width++
				carry[col] = left - 1
				if carry[col] == 0 {
					delete(carry, col)
				}
			}
		}
		col := width
		for _, c := range row.cells {
			width += c.colSpan
			if c.rowSpan > 1 {
				for dc := 0; dc < c.colSpan; dc++ {
					carry[col+dc] = c.rowSpan - 1
				}
			}
			col += c.colSpan
		}
		shapes = append(shapes, width)
	}
	return shapes
}

// CellText concatenates every cell's text in source order, lowercased with
// whitespace collapsed. Two tables with equal CellText hold the same data
// regardless of markup differences.
func CellText(block string) string {
	var parts []string
	for _, row := range tokenizeRows(block) {
		for _, c := range row.cells {
			if c.text != "" {
				parts = append(parts, strings.ToLower(c.text))
			}
		}
	}
	return strings.Join(parts, " ")
}

// GroupColumns buckets columns by parent header for column discovery.
func GroupColumns(cols []Column) []ColumnGroup {
	var order []string
	children := map[string][]string{}
	flat := map[string]bool{}

	for _, c := range cols {
		if _, ok := children[c.Parent]; !ok {
			order = append(order, c.Parent)
			children[c.Parent] = nil
			flat[c.Parent] = true
		}
		if c.Child != c.Parent && c.Child != "" {
			flat[c.Parent] = false
			dup := false
			for _, existing := range children[c.Parent] {
				if existing == c.Child {
					dup = true
					break
				}
			}
			if !dup {
				children[c.Parent] = append(children[c.Parent], c.Child)
			}
		}
	}

	groups := make([]ColumnGroup, 0, len(order))
	for _, p := range order {
		groups = append(groups, ColumnGroup{Parent: p, Children: children[p], IsFlat: flat[p]})
	}
	return groups
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
