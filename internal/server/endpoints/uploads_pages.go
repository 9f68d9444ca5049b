package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// ListPagesEndpoint handles GET /uploads/{id}/pages: the ordered PNG
// filenames the renderer produced.
type ListPagesEndpoint struct{}

func (e *ListPagesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/pages", e.handler
}

func (e *ListPagesEndpoint) RequiresAuth() bool { return true }

func (e *ListPagesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	names, err := svcctx.BlobFrom(r.Context()).ListPageImages(r.Context(), upload.ID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"pages": names})
}

func (e *ListPagesEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "pages <id>",
		Short: "List rendered page images for an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string][]string
			if err := getClient().Get(cmd.Context(), "/uploads/"+args[0]+"/pages", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PageStateView is one page's OCR state.
type PageStateView struct {
	PageNum int    `json:"page_num"`
	State   string `json:"state"`
}

// PageStatesEndpoint handles GET /uploads/{id}/page-states.
type PageStatesEndpoint struct{}

func (e *PageStatesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/page-states", e.handler
}

func (e *PageStatesEndpoint) RequiresAuth() bool { return true }

func (e *PageStatesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	pages, err := svcctx.StoreFrom(r.Context()).ListPages(r.Context(), upload.ID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	states := make([]PageStateView, 0, len(pages))
	for _, p := range pages {
		states = append(states, PageStateView{PageNum: p.PageNum, State: p.State})
	}
	writeJSON(w, http.StatusOK, states)
}

func (e *PageStatesEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "page-states <id>",
		Short: "List per-page OCR states for an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp []PageStateView
			if err := getClient().Get(cmd.Context(), "/uploads/"+args[0]+"/page-states", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// MarkdownEndpoint handles GET /uploads/{id}/markdown: every completed page
// joined into one document with page separator comments.
type MarkdownEndpoint struct{}

func (e *MarkdownEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/markdown", e.handler
}

func (e *MarkdownEndpoint) RequiresAuth() bool { return true }

func (e *MarkdownEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	pages, err := svcctx.StoreFrom(r.Context()).ListPages(r.Context(), upload.ID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	var b strings.Builder
	for _, p := range pages {
		if p.State != store.PageDone || p.Markdown == "" {
			continue
		}
		fmt.Fprintf(&b, "<!-- Page %d -->\n\n%s\n\n", p.PageNum, strings.TrimSpace(p.Markdown))
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", upload.ID+".md"))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

func (e *MarkdownEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "markdown <id>",
		Short: "Download the combined markdown for an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := getClient().GetRaw(cmd.Context(), "/uploads/"+args[0]+"/markdown")
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// PageImageEndpoint handles GET /uploads/{id}/page/{n}/image.
type PageImageEndpoint struct{}

func (e *PageImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/page/{n}/image", e.handler
}

func (e *PageImageEndpoint) RequiresAuth() bool { return true }

func (e *PageImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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
	data, err := svcctx.BlobFrom(r.Context()).GetPageImage(r.Context(), upload.ID, n)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *PageImageEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "page-image <id> <n>",
		Short: "Download one rendered page image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := getClient().GetRaw(cmd.Context(),
				"/uploads/"+args[0]+"/page/"+args[1]+"/image")
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("%s_page_%s.png", args[0], args[1])
			}
			return writeFile(out, data)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file path")
	return cmd
}
