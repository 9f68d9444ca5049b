package endpoints

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// GetUploadEndpoint handles GET /uploads/{id}.
type GetUploadEndpoint struct{}

func (e *GetUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}", e.handler
}

func (e *GetUploadEndpoint) RequiresAuth() bool { return true }

func (e *GetUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadView(upload))
}

func (e *GetUploadEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp UploadView
			if err := getClient().Get(cmd.Context(), "/uploads/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UpdateUploadRequest is the mutable subset of an upload.
type UpdateUploadRequest struct {
	Company string `json:"company,omitempty"`
	Year    *int   `json:"year,omitempty"`
	Month   *int   `json:"month,omitempty"`
}

// UpdateUploadEndpoint handles PUT /uploads/{id}.
type UpdateUploadEndpoint struct{}

func (e *UpdateUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/uploads/{id}", e.handler
}

func (e *UpdateUploadEndpoint) RequiresAuth() bool { return true }

func (e *UpdateUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	var req UpdateUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppErr(w, err)
		return
	}
	if c := strings.TrimSpace(req.Company); c != "" {
		upload.Company = c
	}
	if req.Year != nil {
		upload.Year = *req.Year
	}
	if req.Month != nil {
		upload.Month = *req.Month
	}
	st := svcctx.StoreFrom(r.Context())
	if err := st.SaveUpload(r.Context(), upload); err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadView(upload))
}

func (e *UpdateUploadEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var company string
	var year, month int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an upload's company, year, or month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := UpdateUploadRequest{Company: company}
			if cmd.Flags().Changed("year") {
				req.Year = &year
			}
			if cmd.Flags().Changed("month") {
				req.Month = &month
			}
			var resp UploadView
			if err := getClient().Put(cmd.Context(), "/uploads/"+args[0], req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "New vendor name")
	cmd.Flags().IntVar(&year, "year", 0, "New pricelist year")
	cmd.Flags().IntVar(&month, "month", 0, "New pricelist month")
	return cmd
}

// DeleteUploadEndpoint handles DELETE /uploads/{id}. The pipeline run, the
// database rows, and the stored objects all go.
type DeleteUploadEndpoint struct{}

func (e *DeleteUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/uploads/{id}", e.handler
}

func (e *DeleteUploadEndpoint) RequiresAuth() bool { return true }

func (e *DeleteUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	svcctx.PipelineFrom(r.Context()).Cancel(upload.ID)

	st := svcctx.StoreFrom(r.Context())
	if err := st.DeleteUpload(r.Context(), upload.WorkspaceID, upload.ID); err != nil {
		writeAppErr(w, err)
		return
	}
	if err := svcctx.BlobFrom(r.Context()).DeleteUploadFiles(r.Context(), upload.ID); err != nil {
		if log := svcctx.LoggerFrom(r.Context()); log != nil {
			log.Warn("blob cleanup failed", "upload_id", upload.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteUploadEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an upload and all derived data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getClient().Delete(cmd.Context(), "/uploads/"+args[0])
		},
	}
}
