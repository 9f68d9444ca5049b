package endpoints

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
	"github.com/pricelens-dev/pricelens/internal/tables"
)

// pageMarkdown loads the done-state markdown for a page, resolving common
// request errors to the right status.
func pageMarkdown(r *http.Request) (*store.Upload, int, string, error) {
	upload, err := workspaceUpload(r)
	if err != nil {
		return nil, 0, "", err
	}
	n, err := pageNum(r)
	if err != nil {
		return nil, 0, "", err
	}
	page, err := svcctx.StoreFrom(r.Context()).GetPage(r.Context(), upload.ID, n)
	if err != nil {
		return nil, 0, "", err
	}
	return upload, n, page.Markdown, nil
}

// PageTablesResponse lists the parsed tables of one page.
type PageTablesResponse struct {
	PageNum int            `json:"page_num"`
	Tables  []tables.Table `json:"tables"`
}

// PageTablesEndpoint handles GET /uploads/{id}/page/{n}/tables.
type PageTablesEndpoint struct{}

func (e *PageTablesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/page/{n}/tables", e.handler
}

func (e *PageTablesEndpoint) RequiresAuth() bool { return true }

func (e *PageTablesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	_, n, markdown, err := pageMarkdown(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	parsed := tables.Parse(markdown, svcctx.LoggerFrom(r.Context()))
	writeJSON(w, http.StatusOK, PageTablesResponse{PageNum: n, Tables: parsed})
}

func (e *PageTablesEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <id> <n>",
		Short: "List parsed tables on one page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp PageTablesResponse
			err := getClient().Get(cmd.Context(),
				"/uploads/"+args[0]+"/page/"+args[1]+"/tables", &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// TableCSVEndpoint handles GET /uploads/{id}/page/{n}/tables/csv?table=K:
// one parsed table rendered as CSV for spreadsheet spot checks.
type TableCSVEndpoint struct{}

func (e *TableCSVEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/page/{n}/tables/csv", e.handler
}

func (e *TableCSVEndpoint) RequiresAuth() bool { return true }

func (e *TableCSVEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, n, markdown, err := pageMarkdown(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	k, err := strconv.Atoi(r.URL.Query().Get("table"))
	if err != nil || k < 0 {
		writeError(w, http.StatusBadRequest, "table must be a non-negative index")
		return
	}
	parsed := tables.Parse(markdown, svcctx.LoggerFrom(r.Context()))
	if k >= len(parsed) {
		writeError(w, http.StatusNotFound, "table index out of range")
		return
	}
	t := parsed[k]

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	header := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = col.Display
	}
	cw.Write(header)
	for _, row := range t.Rows {
		cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		writeAppErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s_p%d_t%d.csv", upload.ID, n, k)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (e *TableCSVEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var table int
	cmd := &cobra.Command{
		Use:   "table-csv <id> <n>",
		Short: "Download one parsed table as CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := getClient().GetRaw(cmd.Context(), fmt.Sprintf(
				"/uploads/%s/page/%s/tables/csv?table=%d", args[0], args[1], table))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().IntVar(&table, "table", 0, "Table index on the page")
	return cmd
}

// TableRegion estimates where one table sits on the page, as fractions of
// the markdown length. Rough but good enough for a UI scroll hint.
type TableRegion struct {
	Index int     `json:"index"`
	Top   float64 `json:"top"`
	Bot   float64 `json:"bot"`
}

// TableRegionsEndpoint handles GET /uploads/{id}/page/{n}/table-regions.
type TableRegionsEndpoint struct{}

func (e *TableRegionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/page/{n}/table-regions", e.handler
}

func (e *TableRegionsEndpoint) RequiresAuth() bool { return true }

func (e *TableRegionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	_, _, markdown, err := pageMarkdown(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	regions := []TableRegion{}
	if total := len(markdown); total > 0 {
		for i, b := range tables.Blocks(markdown) {
			regions = append(regions, TableRegion{
				Index: i,
				Top:   float64(b.Start) / float64(total),
				Bot:   float64(b.End) / float64(total),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string][]TableRegion{"regions": regions})
}

func (e *TableRegionsEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "table-regions <id> <n>",
		Short: "Show estimated table positions on one page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string][]TableRegion
			err := getClient().Get(cmd.Context(),
				"/uploads/"+args[0]+"/page/"+args[1]+"/table-regions", &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
