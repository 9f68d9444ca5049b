package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/progress"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// StatusEndpoint handles GET /uploads/{id}/status as a Server-Sent Events
// stream. Browsers cannot set headers on EventSource, so auth also rides the
// token and workspace query parameters (see internal/auth).
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/status", e.handler
}

func (e *StatusEndpoint) RequiresAuth() bool { return true }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := progress.Record{
		State:        upload.State,
		CurrentPage:  upload.CurrentPage,
		TotalPages:   upload.TotalPages,
		Message:      upload.Message,
		ExtractState: upload.ExtractState,
	}

	// A finished upload gets a single snapshot event, then the stream ends.
	switch upload.State {
	case store.UploadDone, store.UploadError, store.UploadInterrupted:
		writeEvent(w, flusher, snapshot)
		return
	}

	hub := svcctx.HubFrom(r.Context())
	sub := hub.Subscribe(upload.ID)
	defer hub.Unsubscribe(upload.ID, sub)

	writeEvent(w, flusher, snapshot)

	for {
		select {
		case <-r.Context().Done():
			return
		case rec, open := <-sub.Out:
			if !open {
				return
			}
			writeEvent(w, flusher, rec)
			if rec.Terminal {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, rec progress.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func (e *StatusEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the current processing state of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The CLI reads the regular detail endpoint instead of
			// holding an SSE stream open.
			var resp UploadView
			if err := getClient().Get(cmd.Context(), "/uploads/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(map[string]any{
				"state":         resp.State,
				"current_page":  resp.CurrentPage,
				"total_pages":   resp.TotalPages,
				"message":       resp.Message,
				"extract_state": resp.ExtractState,
			})
		},
	}
}
