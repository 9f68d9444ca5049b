package endpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/apperr"
	"github.com/pricelens-dev/pricelens/internal/extract"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// ScanColumnsRequest names the two anchors to probe tables with.
type ScanColumnsRequest struct {
	RowAnchor   string `json:"row_anchor"`
	ValueAnchor string `json:"value_anchor"`
}

// ScanColumnsEndpoint handles POST /uploads/{id}/scan-columns: a dry run
// that reports which tables and columns an extraction config would bind to.
type ScanColumnsEndpoint struct{}

func (e *ScanColumnsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/uploads/{id}/scan-columns", e.handler
}

func (e *ScanColumnsEndpoint) RequiresAuth() bool { return true }

func (e *ScanColumnsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	var req ScanColumnsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppErr(w, err)
		return
	}
	if strings.TrimSpace(req.RowAnchor) == "" || strings.TrimSpace(req.ValueAnchor) == "" {
		writeError(w, http.StatusBadRequest, "row_anchor and value_anchor are required")
		return
	}
	pipe := svcctx.PipelineFrom(r.Context())
	pages, err := pipe.PageTables(r.Context(), upload.ID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	res := extract.ScanColumns(pages, req.RowAnchor, req.ValueAnchor, pipe.Synonyms())
	writeJSON(w, http.StatusOK, res)
}

func (e *ScanColumnsEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var rowAnchor, valueAnchor string
	cmd := &cobra.Command{
		Use:   "scan-columns <id>",
		Short: "Discover extractable columns in an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ScanColumnsRequest{RowAnchor: rowAnchor, ValueAnchor: valueAnchor}
			var resp extract.ScanResult
			if err := getClient().Post(cmd.Context(), "/uploads/"+args[0]+"/scan-columns", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&rowAnchor, "row-anchor", "", "Column naming the item (required)")
	cmd.Flags().StringVar(&valueAnchor, "value-anchor", "", "Column holding the value (required)")
	cmd.MarkFlagRequired("row-anchor")
	cmd.MarkFlagRequired("value-anchor")
	return cmd
}

// rawJSON passes CLI-supplied JSON through the client without re-encoding.
func rawJSON(s string) json.RawMessage { return json.RawMessage(s) }

// runExtract validates the request config and runs it over all parsed pages.
func runExtract(r *http.Request) (*store.Upload, *extract.Result, error) {
	upload, err := workspaceUpload(r)
	if err != nil {
		return nil, nil, err
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Validation, err, "reading request body")
	}
	cfg, err := extract.ParseConfig(raw)
	if err != nil {
		return nil, nil, err
	}
	pipe := svcctx.PipelineFrom(r.Context())
	pages, err := pipe.PageTables(r.Context(), upload.ID)
	if err != nil {
		return nil, nil, err
	}
	return upload, extract.Run(pages, cfg, pipe.Synonyms()), nil
}

// ExtractEndpoint handles POST /uploads/{id}/extract.
type ExtractEndpoint struct{}

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/uploads/{id}/extract", e.handler
}

func (e *ExtractEndpoint) RequiresAuth() bool { return true }

func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	_, res, err := runExtract(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ExtractEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run an extraction config against an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readFileOrStdin(configFile)
			if err != nil {
				return err
			}
			data, err := getClient().PostRaw(cmd.Context(), "/uploads/"+args[0]+"/extract", rawJSON(cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Extraction config JSON file (- for stdin)")
	return cmd
}

// ExtractCSVEndpoint handles POST /uploads/{id}/extract/csv.
type ExtractCSVEndpoint struct{}

func (e *ExtractCSVEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/uploads/{id}/extract/csv", e.handler
}

func (e *ExtractCSVEndpoint) RequiresAuth() bool { return true }

func (e *ExtractCSVEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, res, err := runExtract(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	data, err := extract.EncodeCSV(res)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", upload.ID+".csv"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *ExtractCSVEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "csv <id>",
		Short: "Run an extraction config and print CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readFileOrStdin(configFile)
			if err != nil {
				return err
			}
			data, err := getClient().PostRaw(cmd.Context(), "/uploads/"+args[0]+"/extract/csv", rawJSON(cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Extraction config JSON file (- for stdin)")
	return cmd
}

// ExtractDownloadEndpoint handles GET /uploads/{id}/extract/download: the
// CSV cached by the auto-extraction run.
type ExtractDownloadEndpoint struct{}

func (e *ExtractDownloadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/extract/download", e.handler
}

func (e *ExtractDownloadEndpoint) RequiresAuth() bool { return true }

func (e *ExtractDownloadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	if upload.ExtractState != store.ExtractDone || upload.ExtractCSV == "" {
		writeError(w, http.StatusNotFound, "no completed extraction for this upload")
		return
	}
	data, err := svcctx.BlobFrom(r.Context()).GetCSV(r.Context(), upload.ID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", upload.ID+".csv"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *ExtractDownloadEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "download <id>",
		Short: "Download the cached auto-extraction CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := getClient().GetRaw(cmd.Context(), "/uploads/"+args[0]+"/extract/download")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
