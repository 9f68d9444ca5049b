package endpoints

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/correct"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// ValidateTableRequest selects a table and a correction method.
type ValidateTableRequest struct {
	TableIndex int    `json:"table_index"`
	Method     string `json:"method"`
}

// ValidateTableEndpoint handles POST /uploads/{id}/page/{n}/validate-table.
// The VLM method re-reads the table from the rendered page image; the LLM
// method repairs structural defects from the HTML alone.
type ValidateTableEndpoint struct{}

func (e *ValidateTableEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/uploads/{id}/page/{n}/validate-table", e.handler
}

func (e *ValidateTableEndpoint) RequiresAuth() bool { return true }

func (e *ValidateTableEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, n, markdown, err := pageMarkdown(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	var req ValidateTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppErr(w, err)
		return
	}

	svc := svcctx.CorrectFrom(r.Context())
	var result *correct.Validation
	switch req.Method {
	case "vlm":
		image, err := svcctx.BlobFrom(r.Context()).GetPageImage(r.Context(), upload.ID, n)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		result, err = svc.ValidateVLM(r.Context(), markdown, req.TableIndex, image)
		if err != nil {
			writeAppErr(w, err)
			return
		}
	case "llm":
		result, err = svc.ValidateLLM(r.Context(), markdown, req.TableIndex)
		if err != nil {
			writeAppErr(w, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, `method must be "vlm" or "llm"`)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *ValidateTableEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var table int
	var method string
	cmd := &cobra.Command{
		Use:   "validate-table <id> <n>",
		Short: "Ask a model to re-read or repair one table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ValidateTableRequest{TableIndex: table, Method: method}
			var resp correct.Validation
			err := getClient().Post(cmd.Context(),
				"/uploads/"+args[0]+"/page/"+args[1]+"/validate-table", req, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&table, "table", 0, "Table index on the page")
	cmd.Flags().StringVar(&method, "method", "vlm", `Correction method: "vlm" or "llm"`)
	return cmd
}

// ApplyCorrectionRequest carries a reviewed replacement table.
type ApplyCorrectionRequest struct {
	TableIndex     int    `json:"table_index"`
	CorrectedTable string `json:"corrected_table"`
}

// ApplyCorrectionEndpoint handles POST /uploads/{id}/page/{n}/apply-correction.
// The replacement is spliced over the original block only; the rest of the
// page markdown is untouched. A completed auto-extraction is re-run since its
// input just changed.
type ApplyCorrectionEndpoint struct{}

func (e *ApplyCorrectionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/uploads/{id}/page/{n}/apply-correction", e.handler
}

func (e *ApplyCorrectionEndpoint) RequiresAuth() bool { return true }

func (e *ApplyCorrectionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, n, markdown, err := pageMarkdown(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	var req ApplyCorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppErr(w, err)
		return
	}
	updated, err := correct.Apply(markdown, req.TableIndex, req.CorrectedTable)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	st := svcctx.StoreFrom(r.Context())
	if err := st.SetPageMarkdown(r.Context(), upload.ID, n, updated); err != nil {
		writeAppErr(w, err)
		return
	}
	if upload.ExtractState == store.ExtractDone {
		pipe := svcctx.PipelineFrom(r.Context())
		go pipe.AutoExtract(context.Background(), upload)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *ApplyCorrectionEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var table int
	var file string
	cmd := &cobra.Command{
		Use:   "apply-correction <id> <n>",
		Short: "Replace one table with a corrected version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			corrected, err := readFileOrStdin(file)
			if err != nil {
				return err
			}
			req := ApplyCorrectionRequest{TableIndex: table, CorrectedTable: corrected}
			return getClient().Post(cmd.Context(),
				"/uploads/"+args[0]+"/page/"+args[1]+"/apply-correction", req, nil)
		},
	}
	cmd.Flags().IntVar(&table, "table", 0, "Table index on the page")
	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the corrected table HTML (- for stdin)")
	return cmd
}
