package endpoints

import (
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// PageView is one page's OCR output.
type PageView struct {
	PageNum  int    `json:"page_num"`
	Markdown string `json:"markdown"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

// GetPageEndpoint handles GET /uploads/{id}/page/{n}.
type GetPageEndpoint struct{}

func (e *GetPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/page/{n}", e.handler
}

func (e *GetPageEndpoint) RequiresAuth() bool { return true }

func (e *GetPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	n, err := pageNum(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	page, err := svcctx.StoreFrom(r.Context()).GetPage(r.Context(), upload.ID, n)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PageView{
		PageNum:  page.PageNum,
		Markdown: page.Markdown,
		State:    page.State,
		Error:    page.Error,
	})
}

func (e *GetPageEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "page <id> <n>",
		Short: "Show the OCR markdown for one page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp PageView
			if err := getClient().Get(cmd.Context(), "/uploads/"+args[0]+"/page/"+args[1], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeFile writes CLI download output.
func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// readFileOrStdin reads CLI input from a file, or stdin when path is "-".
func readFileOrStdin(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
