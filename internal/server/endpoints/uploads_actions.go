package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// ActionResponse reports the outcome of a pipeline action.
type ActionResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// ResumeUploadEndpoint handles POST /uploads/{id}/resume. Only interrupted
// uploads have work to pick up; resuming a finished upload is a no-op and
// resuming an active one is a conflict.
type ResumeUploadEndpoint struct{}

func (e *ResumeUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/uploads/{id}/resume", e.handler
}

func (e *ResumeUploadEndpoint) RequiresAuth() bool { return true }

func (e *ResumeUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	switch upload.State {
	case store.UploadDone:
		writeJSON(w, http.StatusOK, ActionResponse{ID: upload.ID, State: upload.State})
		return
	case store.UploadInterrupted:
		pipe := svcctx.PipelineFrom(r.Context())
		if err := pipe.Resume(r.Context(), upload); err != nil {
			writeAppErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, ActionResponse{ID: upload.ID, State: store.UploadQueued})
	default:
		writeError(w, http.StatusConflict, "upload is not resumable in state "+upload.State)
	}
}

func (e *ResumeUploadEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume an interrupted upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ActionResponse
			if err := getClient().Post(cmd.Context(), "/uploads/"+args[0]+"/resume", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ReparseUploadEndpoint handles POST /uploads/{id}/reparse. Clears page
// markdown and re-runs OCR against the already rendered images.
type ReparseUploadEndpoint struct{}

func (e *ReparseUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/uploads/{id}/reparse", e.handler
}

func (e *ReparseUploadEndpoint) RequiresAuth() bool { return true }

func (e *ReparseUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	if upload.Active() {
		writeError(w, http.StatusConflict, "upload is already processing")
		return
	}
	pipe := svcctx.PipelineFrom(r.Context())
	if err := pipe.Reparse(r.Context(), upload); err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ActionResponse{ID: upload.ID, State: store.UploadQueued})
}

func (e *ReparseUploadEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "reparse <id>",
		Short: "Re-run OCR for an upload from its rendered pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp ActionResponse
			if err := getClient().Post(cmd.Context(), "/uploads/"+args[0]+"/reparse", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
