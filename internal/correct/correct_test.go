package correct

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/pricelens-dev/pricelens/internal/apperr"
)

type fakeChat struct {
	reply  string
	err    error
	system string
	prompt string
	image  []byte
}

func (f *fakeChat) Complete(_ context.Context, system, prompt string, image []byte) (string, error) {
	f.system = system
	f.prompt = prompt
	f.image = image
	return f.reply, f.err
}

const pageMarkdown = `# Contactors

Intro prose.

<table>
<tr><th>Reference</th><th>Price</th></tr>
<tr><td>LC1D09</td><td>120.00</td></tr>
</table>

More prose.

<table>
<tr><th>Reference</th><th>Price</th></tr>
<tr><td>LC1D12</td><td>150.00</td>
<tr><td>LC1D18</td><td>200.00</td></tr>
</table>
`

func TestValidateVLM(t *testing.T) {
	t.Run("sends image but not the original html", func(t *testing.T) {
		chat := &fakeChat{reply: "<table><tr><td>LC1D09</td></tr></table>"}
		svc := NewService(chat, nil, slog.Default())

		png := []byte{0x89, 'P', 'N', 'G'}
		v, err := svc.ValidateVLM(context.Background(), pageMarkdown, 0, png)
		if err != nil {
			t.Fatalf("ValidateVLM: %v", err)
		}
		if chat.image == nil {
			t.Error("page image was not sent")
		}
		if strings.Contains(chat.prompt, "LC1D09") {
			t.Error("original table text leaked into the prompt")
		}
		if !strings.Contains(chat.prompt, "table number 1") {
			t.Errorf("prompt does not name the table: %q", chat.prompt)
		}
		if v.Method != "vlm" {
			t.Errorf("method = %q", v.Method)
		}
	})

	t.Run("missing table index", func(t *testing.T) {
		svc := NewService(&fakeChat{}, nil, slog.Default())
		_, err := svc.ValidateVLM(context.Background(), pageMarkdown, 5, nil)
		if !apperr.IsKind(err, apperr.NotFound) {
			t.Errorf("expected NotFound, got %v", err)
		}
	})
}

func TestValidateLLM(t *testing.T) {
	t.Run("prompt carries table, diagnosis, and page context", func(t *testing.T) {
		chat := &fakeChat{reply: "<table><tr><td>x</td></tr></table>"}
		svc := NewService(nil, chat, slog.Default())

		_, err := svc.ValidateLLM(context.Background(), pageMarkdown, 1)
		if err != nil {
			t.Fatalf("ValidateLLM: %v", err)
		}
		if !strings.Contains(chat.prompt, "LC1D12") {
			t.Error("prompt is missing the original table")
		}
		if !strings.Contains(chat.prompt, "Structural diagnosis") {
			t.Error("prompt is missing the diagnosis")
		}
		if !strings.Contains(chat.prompt, "# Contactors") {
			t.Error("prompt is missing the page context")
		}
		if chat.image != nil {
			t.Error("llm method must not send an image")
		}
	})

	t.Run("equivalent reply reports no change", func(t *testing.T) {
		// Same cell data as table 0, different markup and casing.
		chat := &fakeChat{reply: "```html\n<table><thead><tr><th>REFERENCE</th><th>price</th></tr></thead>" +
			"<tbody><tr><td>lc1d09</td><td>120.00</td></tr></tbody></table>\n```"}
		svc := NewService(nil, chat, slog.Default())

		v, err := svc.ValidateLLM(context.Background(), pageMarkdown, 0)
		if err != nil {
			t.Fatalf("ValidateLLM: %v", err)
		}
		if !v.NoChange {
			t.Error("expected no_change for equivalent cell data")
		}
	})

	t.Run("reply without a table is an upstream error", func(t *testing.T) {
		svc := NewService(nil, &fakeChat{reply: "I cannot see any table here."}, slog.Default())
		_, err := svc.ValidateLLM(context.Background(), pageMarkdown, 0)
		if !apperr.IsKind(err, apperr.Upstream) {
			t.Errorf("expected Upstream, got %v", err)
		}
	})
}

func TestDiagnose(t *testing.T) {
	t.Run("flags rows off the dominant width", func(t *testing.T) {
		table := `<table>
<tr><td>a</td><td>b</td><td>c</td></tr>
<tr><td>d</td><td>e</td><td>f</td></tr>
<tr><td>g</td><td>h</td></tr>
</table>`
		diag := Diagnose(table)
		if !strings.Contains(diag, "expected width 3") {
			t.Errorf("diagnosis missing mode width: %s", diag)
		}
		if !strings.Contains(diag, "row 3: 2 columns  <-- MISMATCH") {
			t.Errorf("short row not flagged: %s", diag)
		}
		if strings.Contains(diag, "row 1: 3 columns  <--") {
			t.Errorf("conforming row flagged: %s", diag)
		}
	})

	t.Run("rowspan carry counts toward width", func(t *testing.T) {
		table := `<table>
<tr><td rowspan="2">a</td><td>b</td><td>c</td></tr>
<tr><td>e</td><td>f</td></tr>
</table>`
		diag := Diagnose(table)
		if strings.Contains(diag, "MISMATCH") {
			t.Errorf("rowspan-balanced table flagged: %s", diag)
		}
	})
}

func TestEquivalent(t *testing.T) {
	a := `<table><tr><th>Ref</th></tr><tr><td>LC1D09</td><td> 120.00 </td></tr></table>`
	b := `<table><thead><tr><th>REF</th></tr></thead><tbody><tr><td>lc1d09</td><td>120.00</td></tr></tbody></table>`
	c := `<table><tr><th>Ref</th></tr><tr><td>LC1D09</td><td>130.00</td></tr></table>`

	if !Equivalent(a, b) {
		t.Error("markup-only differences must be equivalent")
	}
	if Equivalent(a, c) {
		t.Error("different cell data must not be equivalent")
	}
}

func TestApply(t *testing.T) {
	t.Run("replaces only the targeted block", func(t *testing.T) {
		corrected := `<table><tr><th>Reference</th><th>Price</th></tr><tr><td>LC1D12</td><td>155.00</td></tr></table>`
		updated, err := Apply(pageMarkdown, 1, corrected)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if !strings.Contains(updated, "155.00") {
			t.Error("replacement not applied")
		}
		if !strings.Contains(updated, "LC1D09</td><td>120.00") {
			t.Error("untouched table changed")
		}
		if !strings.Contains(updated, "# Contactors") || !strings.Contains(updated, "More prose.") {
			t.Error("prose outside the block changed")
		}
	})

	t.Run("rejects replacements that are not one table", func(t *testing.T) {
		if _, err := Apply(pageMarkdown, 0, "no table at all"); !apperr.IsKind(err, apperr.Validation) {
			t.Errorf("expected Validation, got %v", err)
		}
		two := "<table></table><table></table>"
		if _, err := Apply(pageMarkdown, 0, two); !apperr.IsKind(err, apperr.Validation) {
			t.Errorf("expected Validation, got %v", err)
		}
	})

	t.Run("index out of range", func(t *testing.T) {
		if _, err := Apply(pageMarkdown, 9, "<table></table>"); !apperr.IsKind(err, apperr.Validation) {
			t.Errorf("expected Validation, got %v", err)
		}
	})
}
