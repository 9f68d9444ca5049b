package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/auth"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// ListUploadsEndpoint handles GET /uploads.
type ListUploadsEndpoint struct{}

func (e *ListUploadsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads", e.handler
}

func (e *ListUploadsEndpoint) RequiresAuth() bool { return true }

func (e *ListUploadsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())

	uploads, err := st.ListUploads(r.Context(), identity.WorkspaceID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadViews(uploads))
}

func (e *ListUploadsEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploads in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp []UploadView
			if err := getClient().Get(cmd.Context(), "/uploads", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
