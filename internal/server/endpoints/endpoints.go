// Package endpoints defines the HTTP API surface. Each endpoint pairs a
// route with a CLI command over the same operation (see internal/api).
package endpoints

import (
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/pricelens-dev/pricelens/internal/apperr"
	"github.com/pricelens-dev/pricelens/internal/auth"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppErr maps an error to its HTTP status via apperr kinds.
func writeAppErr(w http.ResponseWriter, err error) {
	writeError(w, apperr.HTTPStatus(err), err.Error())
}

// decodeJSON decodes a request body, rejecting trailing garbage.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, err, "invalid request body")
	}
	return nil
}

// workspaceUpload loads the upload named in the path, scoped to the
// authenticated workspace.
func workspaceUpload(r *http.Request) (*store.Upload, error) {
	id := r.PathValue("id")
	if id == "" {
		return nil, apperr.New(apperr.Validation, "upload id is required")
	}
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		return nil, apperr.New(apperr.Internal, "request has no identity")
	}
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		return nil, apperr.New(apperr.Internal, "store not initialized")
	}
	return st.GetUpload(r.Context(), identity.WorkspaceID, id)
}

// pageNum parses the {n} path segment (1-based).
func pageNum(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		return 0, apperr.New(apperr.Validation, "page number must be a positive integer")
	}
	return n, nil
}

// UploadView decorates an upload with its derived document type.
type UploadView struct {
	store.Upload
	DocType string `json:"doc_type"`
}

func uploadView(u *store.Upload) UploadView {
	docType := "pdf"
	if ext := strings.TrimPrefix(path.Ext(u.PDFKey), "."); ext != "" && ext != "pdf" {
		docType = "image"
	}
	return UploadView{Upload: *u, DocType: docType}
}

func uploadViews(uploads []store.Upload) []UploadView {
	views := make([]UploadView, 0, len(uploads))
	for i := range uploads {
		views = append(views, uploadView(&uploads[i]))
	}
	return views
}
