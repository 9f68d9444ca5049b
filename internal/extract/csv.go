package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// EncodeCSV renders a result as RFC 4180 CSV: comma delimiter, CRLF line
// endings, header row first.
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
