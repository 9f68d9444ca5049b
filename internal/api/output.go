package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Format selects how api commands print server responses.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// outputFormat is set once by the root command's --output flag.
var outputFormat = FormatYAML

// SetOutputFormat switches the process-wide output format. Anything but
// "json" keeps the yaml default.
func SetOutputFormat(format string) {
	if Format(format) == FormatJSON {
		outputFormat = FormatJSON
		return
	}
	outputFormat = FormatYAML
}

// Output prints one API response to stdout in the configured format.
// Endpoints with non-JSON payloads (CSV, images, SSE) bypass this and
// write raw bytes instead.
func Output(data any) error {
	return OutputTo(os.Stdout, outputFormat, data)
}

// OutputTo encodes data to w in the given format.
func OutputTo(w io.Writer, format Format, data any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
