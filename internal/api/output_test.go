package api

import (
	"bytes"
	"strings"
	"testing"
)

func TestOutputTo(t *testing.T) {
	data := map[string]any{"id": "abc123", "state": "done"}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, FormatJSON, data); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), `"state": "done"`) {
			t.Errorf("unexpected json output %q", buf.String())
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, FormatYAML, data); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "state: done") {
			t.Errorf("unexpected yaml output %q", buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := OutputTo(&bytes.Buffer{}, Format("toml"), data); err == nil {
			t.Fatal("expected error for unknown format")
		}
	})
}

func TestSetOutputFormat(t *testing.T) {
	t.Cleanup(func() { outputFormat = FormatYAML })

	SetOutputFormat("json")
	if outputFormat != FormatJSON {
		t.Errorf("format = %q", outputFormat)
	}
	SetOutputFormat("bogus")
	if outputFormat != FormatYAML {
		t.Errorf("unknown format should fall back to yaml, got %q", outputFormat)
	}
}
