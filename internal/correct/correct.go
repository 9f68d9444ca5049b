// Package correct re-OCRs a single pricelist table through a vision or text
// model and applies accepted replacements surgically into the page markdown.
package correct

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/pricelens-dev/pricelens/internal/apperr"
	"github.com/pricelens-dev/pricelens/internal/tables"
)

// Validation is the result of one correction round-trip. NoChange means the
// model's table holds the same cell data as the original and there is
// nothing to apply.
type Validation struct {
	Method    string `json:"method"`
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	NoChange  bool   `json:"no_change"`
}

// Service runs table corrections against the configured VLM and LLM.
type Service struct {
	vlm Chat
	llm Chat
	log *slog.Logger
}

// NewService creates a correction service.
func NewService(vlm, llm Chat, log *slog.Logger) *Service {
	return &Service{vlm: vlm, llm: llm, log: log.With("component", "correct")}
}

const vlmSystemPrompt = `You are a table transcription engine for product pricelists.
The user sends a scanned pricelist page image and tells you which table on the
page to transcribe. Re-read ONLY that table from the image and output it as an
HTML table.

Rules:
- Output exactly one <table> element and nothing else. No prose, no markdown,
  no code fences, no explanation.
- Allowed tags: <table>, <thead>, <tbody>, <tr>, <th>, <td>.
- Allowed attributes: rowspan and colspan. Use them wherever a cell visually
  spans several rows or columns.
- Keep header rows in <thead> and data rows in <tbody>.
- Transcribe cell text exactly as printed, including product references and
  prices. Empty cells stay empty.`

const llmSystemPrompt = `You repair the structure of HTML tables extracted by OCR
from product pricelists. The user sends a table whose rows have inconsistent
column counts, a structural diagnosis, and the full page text for context.

Fix the structure only: add or remove misplaced cells, restore missing
rowspan/colspan attributes, and rebalance rows so every row spans the same
number of columns. Never invent cell text and never drop cell text that is
present.

Output exactly one corrected <table> element and nothing else. No prose, no
markdown, no code fences. Allowed tags: <table>, <thead>, <tbody>, <tr>,
<th>, <td>; allowed attributes: rowspan and colspan.`

// originalBlock looks up the table-index-th block of the page markdown.
func originalBlock(pageMarkdown string, tableIndex int) (tables.Block, error) {
	blocks := tables.Blocks(pageMarkdown)
	if tableIndex < 0 || tableIndex >= len(blocks) {
		return tables.Block{}, apperr.New(apperr.NotFound,
			"table %d not found, page has %d tables", tableIndex, len(blocks))
	}
	return blocks[tableIndex], nil
}

// ValidateVLM re-OCRs one table from the page image. The original HTML is
// deliberately not sent so the model cannot anchor on a broken transcription.
func (s *Service) ValidateVLM(ctx context.Context, pageMarkdown string, tableIndex int, pagePNG []byte) (*Validation, error) {
	block, err := originalBlock(pageMarkdown, tableIndex)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"This pricelist page contains %d table(s). Transcribe table number %d, counting from the top of the page starting at 1.",
		len(tables.Blocks(pageMarkdown)), tableIndex+1)
	reply, err := s.vlm.Complete(ctx, vlmSystemPrompt, prompt, pagePNG)
	if err != nil {
		return nil, err
	}
	return s.finish("vlm", block.HTML, reply)
}

// ValidateLLM asks the text model to repair the table's structure, guided by
// a per-row column-count diagnosis and the surrounding page markdown.
func (s *Service) ValidateLLM(ctx context.Context, pageMarkdown string, tableIndex int) (*Validation, error) {
	block, err := originalBlock(pageMarkdown, tableIndex)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Table to repair:\n\n")
	b.WriteString(block.HTML)
	b.WriteString("\n\n")
	b.WriteString(Diagnose(block.HTML))
	b.WriteString("\n\nFull page text for context:\n\n")
	b.WriteString(pageMarkdown)

	reply, err := s.llm.Complete(ctx, llmSystemPrompt, b.String(), nil)
	if err != nil {
		return nil, err
	}
	return s.finish("llm", block.HTML, reply)
}

func (s *Service) finish(method, original, reply string) (*Validation, error) {
	corrected, err := ExtractTableHTML(reply)
	if err != nil {
		return nil, err
	}
	v := &Validation{Method: method, Original: original, Corrected: corrected}
	if Equivalent(original, corrected) {
		v.NoChange = true
		s.log.Info("correction reports no change", "method", method)
	}
	return v, nil
}

// Diagnose describes each row's effective column count, marking rows that
// deviate from the dominant width.
func Diagnose(tableHTML string) string {
	shapes := tables.RowShapes(tableHTML)
	if len(shapes) == 0 {
		return "Structural diagnosis: the table has no rows."
	}

	freq := map[int]int{}
	for _, w := range shapes {
		freq[w]++
	}
	widths := make([]int, 0, len(freq))
	for w := range freq {
		widths = append(widths, w)
	}
	sort.Ints(widths)
	mode := widths[0]
	for _, w := range widths {
		if freq[w] > freq[mode] {
			mode = w
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Structural diagnosis (expected width %d columns, rowspan carry-over included):\n", mode)
	for i, w := range shapes {
		if w == mode {
			fmt.Fprintf(&b, "- row %d: %d columns\n", i+1, w)
		} else {
			fmt.Fprintf(&b, "- row %d: %d columns  <-- MISMATCH\n", i+1, w)
		}
	}
	return b.String()
}

// Equivalent reports whether two tables carry the same cell data: the
// concatenated, lowercased, whitespace-normalized cell text is equal.
func Equivalent(a, b string) bool {
	return tables.CellText(a) == tables.CellText(b)
}

var codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")

// ExtractTableHTML pulls the first <table> element out of a model reply,
// tolerating code fences and surrounding prose.
func ExtractTableHTML(reply string) (string, error) {
	if m := codeFence.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}
	blocks := tables.Blocks(reply)
	if len(blocks) == 0 {
		return "", apperr.New(apperr.Upstream, "model reply contains no table")
	}
	return strings.TrimSpace(blocks[0].HTML), nil
}

// Apply substitutes the corrected table for the table-index-th block of the
// page markdown, leaving every byte outside the block untouched. The
// replacement must itself be a single table.
func Apply(pageMarkdown string, tableIndex int, corrected string) (string, error) {
	corrected = strings.TrimSpace(corrected)
	if n := len(tables.Blocks(corrected)); n != 1 {
		return "", apperr.New(apperr.Validation, "corrected_table must contain exactly one table, got %d", n)
	}
	updated, err := tables.ReplaceBlock(pageMarkdown, tableIndex, corrected)
	if err != nil {
		return "", apperr.Wrap(apperr.Validation, err, "applying correction")
	}
	return updated, nil
}
