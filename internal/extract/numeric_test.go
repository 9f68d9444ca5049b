package extract

import "testing"

func TestParseNumber(t *testing.T) {
	valid := []struct {
		in   string
		want float64
	}{
		{"120", 120},
		{"120.50", 120.5},
		{"130,00", 130},
		{"1,234", 1234},
		{"1,234.56", 1234.56},
		{"1.234,56", 1234.56},
		{"12,34,567", 1234567},
		{"₹ 1,500", 1500},
		{"Rs. 450", 450},
		{"€99.90", 99.9},
		{"1 500", 1500},
	}
	for _, c := range valid {
		got, ok := ParseNumber(c.in)
		if !ok {
			t.Errorf("ParseNumber(%q) failed", c.in)
			continue
		}
		if got != c.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", c.in, got, c.want)
		}
	}

	invalid := []string{"", "-", "—", "N/A", "On Request", "LC1D09", "12x34"}
	for _, in := range invalid {
		if _, ok := ParseNumber(in); ok {
			t.Errorf("ParseNumber(%q) unexpectedly succeeded", in)
		}
	}
}

func TestCheckCellOutlierLength(t *testing.T) {
	// Lengths 4,4,4,...,30: the long value is past three standard
	// deviations only when the spread is wide enough.
	values := []string{"aaaa", "bbbb", "cccc", "dddd", "eeee", "ffff", "gggg", "hhhh"}
	p := profileColumn(values)
	if p.lenStdev >= 2 {
		t.Fatalf("flat lengths should have tiny stdev, got %v", p.lenStdev)
	}
	if reason := checkCell("a-very-long-outlier-value-here", p); reason != "" {
		t.Errorf("stdev floor must suppress the flag, got %q", reason)
	}
}

func TestCheckCellRarePattern(t *testing.T) {
	values := []string{"yes", "yes", "yes", "yes", "yes", "yes", "oddball", "no", "no", "no"}
	p := profileColumn(values)
	if p.topShare < 0.5 {
		t.Fatalf("top share %v", p.topShare)
	}
	if reason := checkCell("oddball", p); reason != ReasonRarePattern {
		t.Errorf("expected %s, got %q", ReasonRarePattern, reason)
	}
	if reason := checkCell("no", p); reason != "" {
		t.Errorf("repeated value must not flag, got %q", reason)
	}
}
