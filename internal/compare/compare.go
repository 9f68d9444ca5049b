// Package compare joins two pricelist extractions and classifies every
// product as added, removed, or price-changed.
package compare

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pricelens-dev/pricelens/internal/extract"
)

// Statuses, per joined row.
const (
	StatusNew     = "NEW"
	StatusRemoved = "REMOVED"
	StatusUnavail = "UNAVAIL"
	StatusAvail   = "AVAIL"
	StatusUp      = "UP"
	StatusDown    = "DOWN"
	StatusSame    = "SAME"
)

// priceTolerance treats prices within 0.5% of each other as equal, so OCR
// rounding noise does not read as a price change.
const priceTolerance = 0.005

// Columns of the comparison output.
var Columns = []string{
	"Status", "Reference", "Variant", "Description",
	"Base Price", "Target Price", "Change", "% Change",
	"Base Page", "Target Page",
}

// Item is one extracted product row prepared for matching.
type Item struct {
	Ref         string
	Variant     string
	NormVariant string
	Value       string
	Desc        string
	Page        string
}

// Side is one upload's extraction grouped by normalized reference.
type Side struct {
	// Data maps normalized reference to its items, one per variant.
	Data map[string][]Item
	// Total counts items kept; Skipped counts flagged rows and invalid
	// references dropped before matching.
	Total   int
	Skipped int
	// SampleRefs holds up to five kept references for diagnostics.
	SampleRefs []string
}

// Summary aggregates row statuses.
type Summary struct {
	TotalBase        int `json:"total_base"`
	TotalTarget      int `json:"total_target"`
	Matched          int `json:"matched"`
	Added            int `json:"added"`
	Removed          int `json:"removed"`
	PriceIncreased   int `json:"price_increased"`
	PriceDecreased   int `json:"price_decreased"`
	PriceUnavailable int `json:"price_unavailable"`
	PriceAvailable   int `json:"price_available"`
	Unchanged        int `json:"unchanged"`
	BaseSkipped      int `json:"base_skipped"`
	TargetSkipped    int `json:"target_skipped"`
}

// Result is a complete comparison.
type Result struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Summary Summary    `json:"summary"`
}

// ValidReference filters out row numbers and stray fragments: a product
// reference has at least three characters, is not purely numeric, and
// contains a letter.
func ValidReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	if len([]rune(ref)) < 3 {
		return false
	}
	hasLetter := false
	allDigits := true
	for _, r := range ref {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if !unicode.IsDigit(r) {
			allDigits = false
		}
	}
	return hasLetter && !allDigits
}

// columnIndex finds the first column satisfying pred, or -1.
func columnIndex(columns []string, pred func(string) bool) int {
	for i, c := range columns {
		if pred(strings.ToLower(c)) {
			return i
		}
	}
	return -1
}

// PrepareSide groups an extraction by normalized reference, dropping
// flagged rows, empty values, invalid references, and duplicate
// (reference, variant) pairs.
func PrepareSide(res *extract.Result) Side {
	side := Side{Data: map[string][]Item{}}

	refCol := columnIndex(res.Columns, func(c string) bool { return c == "reference" })
	valCol := columnIndex(res.Columns, func(c string) bool { return c == "value" })
	variantCol := columnIndex(res.Columns, func(c string) bool { return c == "variant" })
	pageCol := columnIndex(res.Columns, func(c string) bool { return c == "page" })
	descCol := columnIndex(res.Columns, func(c string) bool {
		return strings.Contains(c, "desc") || strings.Contains(c, "product") || strings.Contains(c, "name")
	})
	if refCol < 0 || valCol < 0 {
		return side
	}

	flagged := map[int]bool{}
	for _, f := range res.Flags {
		flagged[f.Row] = true
	}
	side.Skipped = len(flagged)

	seen := map[string]map[string]bool{}
	get := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	for ri, row := range res.Rows {
		if flagged[ri] {
			continue
		}
		ref := strings.TrimSpace(get(row, refCol))
		value := strings.TrimSpace(get(row, valCol))
		if ref == "" || ref == "-" || value == "" || value == "-" {
			continue
		}
		if !ValidReference(ref) {
			side.Skipped++
			continue
		}

		variant := strings.TrimSpace(get(row, variantCol))
		if variant == "-" {
			variant = ""
		}
		normRef := strings.ToLower(ref)
		normVariant := strings.ReplaceAll(strings.ToLower(variant), " ", "")

		if seen[normRef] == nil {
			seen[normRef] = map[string]bool{}
		}
		if seen[normRef][normVariant] {
			continue
		}
		seen[normRef][normVariant] = true

		side.Data[normRef] = append(side.Data[normRef], Item{
			Ref:         ref,
			Variant:     variant,
			NormVariant: normVariant,
			Value:       value,
			Desc:        get(row, descCol),
			Page:        get(row, pageCol),
		})
		side.Total++
		if len(side.SampleRefs) < 5 {
			display := ref
			if variant != "" {
				display = fmt.Sprintf("%s (%s)", ref, variant)
			}
			side.SampleRefs = append(side.SampleRefs, display)
		}
	}
	return side
}

// status classifies a joined row.
func status(baseItem, targetItem *Item) string {
	if baseItem == nil {
		return StatusNew
	}
	if targetItem == nil {
		return StatusRemoved
	}
	basePrice, baseOK := extract.ParseNumber(baseItem.Value)
	targetPrice, targetOK := extract.ParseNumber(targetItem.Value)
	switch {
	case baseOK && targetOK:
		if equalWithin(basePrice, targetPrice, priceTolerance) {
			return StatusSame
		}
		if targetPrice > basePrice {
			return StatusUp
		}
		return StatusDown
	case baseOK:
		return StatusUnavail
	case targetOK:
		return StatusAvail
	default:
		// Both present but unparseable, e.g. "On Request" on both sides.
		return StatusSame
	}
}

func equalWithin(base, target, tolerance float64) bool {
	if base == 0 {
		return target == 0
	}
	return math.Abs(target-base) <= tolerance*math.Abs(base)
}

// formatChange renders absolute and percent change when both sides parse.
func formatChange(baseItem, targetItem *Item) (string, string) {
	if baseItem == nil || targetItem == nil {
		return "-", "-"
	}
	base, baseOK := extract.ParseNumber(baseItem.Value)
	target, targetOK := extract.ParseNumber(targetItem.Value)
	if !baseOK || !targetOK {
		return "-", "-"
	}
	change := target - base
	if change == 0 {
		return "0.00", "0.00%"
	}
	pct := 0.0
	if base != 0 {
		pct = change / base * 100
	}
	return fmt.Sprintf("%+.2f", change), fmt.Sprintf("%+.2f%%", pct)
}

// Run joins two prepared sides. References sort lexicographically; within a
// reference, variants match exactly first, then an empty variant on either
// side absorbs a leftover, then remainders become REMOVED/NEW.
func Run(base, target Side) *Result {
	res := &Result{Columns: Columns}
	res.Summary.TotalBase = base.Total
	res.Summary.TotalTarget = target.Total
	res.Summary.BaseSkipped = base.Skipped
	res.Summary.TargetSkipped = target.Skipped

	refSet := map[string]bool{}
	for ref := range base.Data {
		refSet[ref] = true
	}
	for ref := range target.Data {
		refSet[ref] = true
	}
	refs := make([]string, 0, len(refSet))
	for ref := range refSet {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	add := func(baseItem, targetItem *Item) {
		st := status(baseItem, targetItem)
		switch st {
		case StatusNew:
			res.Summary.Added++
		case StatusRemoved:
			res.Summary.Removed++
		case StatusUp:
			res.Summary.Matched++
			res.Summary.PriceIncreased++
		case StatusDown:
			res.Summary.Matched++
			res.Summary.PriceDecreased++
		case StatusUnavail:
			res.Summary.Matched++
			res.Summary.PriceUnavailable++
		case StatusAvail:
			res.Summary.Matched++
			res.Summary.PriceAvailable++
		default:
			res.Summary.Matched++
			res.Summary.Unchanged++
		}

		pick := func(f func(*Item) string) string {
			if targetItem != nil {
				if v := f(targetItem); v != "" {
					return v
				}
			}
			if baseItem != nil {
				return f(baseItem)
			}
			return ""
		}
		ref := pick(func(i *Item) string { return i.Ref })
		variant := pick(func(i *Item) string { return i.Variant })
		desc := pick(func(i *Item) string { return i.Desc })

		basePrice, targetPrice, basePage, targetPage := "", "", "", ""
		if baseItem != nil {
			basePrice, basePage = baseItem.Value, baseItem.Page
		}
		if targetItem != nil {
			targetPrice, targetPage = targetItem.Value, targetItem.Page
		}
		change, pct := formatChange(baseItem, targetItem)

		res.Rows = append(res.Rows, []string{
			st, ref, variant, desc, basePrice, targetPrice, change, pct, basePage, targetPage,
		})
	}

	for _, ref := range refs {
		baseItems := base.Data[ref]
		targetItems := target.Data[ref]
		matchedBase := map[int]bool{}
		matchedTarget := map[int]bool{}

		// Pass 1: exact variant match.
		for bi := range baseItems {
			for ti := range targetItems {
				if matchedTarget[ti] {
					continue
				}
				if baseItems[bi].NormVariant == targetItems[ti].NormVariant {
					add(&baseItems[bi], &targetItems[ti])
					matchedBase[bi] = true
					matchedTarget[ti] = true
					break
				}
			}
		}

		// Pass 2: an empty variant on either side matches a leftover.
		for bi := range baseItems {
			if matchedBase[bi] {
				continue
			}
			for ti := range targetItems {
				if matchedTarget[ti] {
					continue
				}
				if baseItems[bi].NormVariant == "" || targetItems[ti].NormVariant == "" {
					add(&baseItems[bi], &targetItems[ti])
					matchedBase[bi] = true
					matchedTarget[ti] = true
					break
				}
			}
		}

		for bi := range baseItems {
			if !matchedBase[bi] {
				add(&baseItems[bi], nil)
			}
		}
		for ti := range targetItems {
			if !matchedTarget[ti] {
				add(nil, &targetItems[ti])
			}
		}
	}
	return res
}

// EncodeCSV renders a comparison as RFC 4180 CSV with CRLF line endings.
func EncodeCSV(res *Result) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	if err := w.Write(res.Columns); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	for i, row := range res.Rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing csv row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}
