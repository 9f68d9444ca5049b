package extract

import (
	"strconv"
	"strings"
)

// currencyMarks are stripped before numeric parsing.
var currencyMarks = []string{"₹", "$", "€", "£", "Rs.", "Rs", "INR"}

// ParseNumber parses a price cell as a decimal number. It accepts comma or
// dot as the decimal separator, thousands grouping, and leading currency
// marks. Returns false for anything else.
func ParseNumber(s string) (float64, bool) {
	v := strings.TrimSpace(s)
	if v == "" || v == "-" || v == "—" {
		return 0, false
	}
	for _, mark := range currencyMarks {
		v = strings.ReplaceAll(v, mark, "")
	}
	v = strings.ReplaceAll(v, " ", "")
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(v, ",")
	lastDot := strings.LastIndex(v, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// The rightmost separator is the decimal mark.
		if lastComma > lastDot {
			v = strings.ReplaceAll(v, ".", "")
			v = strings.Replace(v, ",", ".", 1)
		} else {
			v = strings.ReplaceAll(v, ",", "")
		}
	case strings.Count(v, ",") == 1 && len(v)-lastComma-1 <= 2:
		// Single comma with one or two trailing digits reads as decimal.
		v = strings.Replace(v, ",", ".", 1)
	case lastComma >= 0:
		v = strings.ReplaceAll(v, ",", "")
	case strings.Count(v, ".") > 1:
		// Dots as grouping: keep only the last as decimal.
		head := strings.ReplaceAll(v[:lastDot], ".", "")
		v = head + v[lastDot:]
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
