package extract

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Flag reasons.
const (
	ReasonNonNumeric    = "non_numeric_in_numeric_column"
	ReasonOutlierLength = "outlier_length"
	ReasonRarePattern   = "rare_pattern"
)

// metadata columns are not profiled; the value column always is.
var unprofiledColumns = map[string]bool{
	"page":    true,
	"heading": true,
	"variant": true,
}

type columnProfile struct {
	skip        bool
	numericFrac float64
	lenMean     float64
	lenStdev    float64
	freq        map[string]int
	topShare    float64
	total       int
}

func profileColumn(values []string) columnProfile {
	p := columnProfile{freq: map[string]int{}}
	if len(values) == 0 {
		p.skip = true
		return p
	}

	numeric := 0
	var lenSum float64
	for _, v := range values {
		if _, ok := ParseNumber(v); ok {
			numeric++
		}
		lenSum += float64(utf8.RuneCountInString(v))
		p.freq[strings.ToLower(v)]++
	}
	n := float64(len(values))
	p.total = len(values)
	p.numericFrac = float64(numeric) / n
	p.lenMean = lenSum / n

	var varSum float64
	for _, v := range values {
		d := float64(utf8.RuneCountInString(v)) - p.lenMean
		varSum += d * d
	}
	p.lenStdev = math.Sqrt(varSum / n)

	top := 0
	for _, c := range p.freq {
		if c > top {
			top = c
		}
	}
	p.topShare = float64(top) / n
	return p
}

// checkCell returns the first matching flag reason, or "".
func checkCell(v string, p columnProfile) string {
	if p.skip || v == "" {
		return ""
	}
	if p.numericFrac >= 0.8 {
		if _, ok := ParseNumber(v); !ok {
			return ReasonNonNumeric
		}
	}
	l := float64(utf8.RuneCountInString(v))
	if p.lenStdev >= 2 && math.Abs(l-p.lenMean) > 3*p.lenStdev {
		return ReasonOutlierLength
	}
	if p.topShare >= 0.5 && p.freq[strings.ToLower(v)] == 1 {
		return ReasonRarePattern
	}
	return ""
}

// detectAnomalies profiles each output column and flags suspect cells.
// valueCol is always profiled regardless of its header name.
func detectAnomalies(columns []string, rows [][]string, valueCol int) []Flag {
	if len(rows) == 0 || len(columns) == 0 {
		return nil
	}

	profiles := make([]columnProfile, len(columns))
	for ci := range columns {
		if ci != valueCol && unprofiledColumns[strings.ToLower(columns[ci])] {
			profiles[ci] = columnProfile{skip: true}
			continue
		}
		var values []string
		for _, row := range rows {
			if ci < len(row) && row[ci] != "" {
				values = append(values, row[ci])
			}
		}
		profiles[ci] = profileColumn(values)
	}

	var flags []Flag
	for ri, row := range rows {
		for ci := 0; ci < len(columns) && ci < len(row); ci++ {
			if reason := checkCell(row[ci], profiles[ci]); reason != "" {
				flags = append(flags, Flag{Row: ri, Col: ci, Reason: reason})
			}
		}
	}
	return flags
}
