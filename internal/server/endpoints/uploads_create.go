package endpoints

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/auth"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// maxUploadBytes bounds the multipart body. Vendor pricelists run to a few
// hundred pages; 200 MiB leaves ample headroom.
const maxUploadBytes = 200 << 20

var allowedExtensions = map[string]bool{"pdf": true, "png": true, "jpg": true, "jpeg": true}

// CreateUploadResponse is the response for a successful upload.
type CreateUploadResponse struct {
	ID string `json:"id"`
}

// CreateUploadEndpoint handles POST /upload.
type CreateUploadEndpoint struct{}

func (e *CreateUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/upload", e.handler
}

func (e *CreateUploadEndpoint) RequiresAuth() bool { return true }

func (e *CreateUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	company := strings.TrimSpace(r.FormValue("company"))
	if company == "" {
		writeError(w, http.StatusBadRequest, "company is required")
		return
	}
	year, _ := strconv.Atoi(r.FormValue("year"))
	month, _ := strconv.Atoi(r.FormValue("month"))

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !allowedExtensions[ext] {
		writeError(w, http.StatusBadRequest, "file must be a pdf, png, or jpg")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	identity, _ := auth.IdentityFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	bl := svcctx.BlobFrom(r.Context())
	pipe := svcctx.PipelineFrom(r.Context())

	upload := &store.Upload{
		ID:          store.NewID(),
		WorkspaceID: identity.WorkspaceID,
		UserID:      identity.UserID,
		Filename:    header.Filename,
		Company:     company,
		Year:        year,
		Month:       month,
	}
	key, err := bl.PutOriginal(r.Context(), upload.ID, ext, data)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	upload.PDFKey = key

	if err := st.CreateUpload(r.Context(), upload); err != nil {
		writeAppErr(w, err)
		return
	}
	pipe.Enqueue(upload, true)

	writeJSON(w, http.StatusCreated, CreateUploadResponse{ID: upload.ID})
}

func (e *CreateUploadEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var company string
	var year, month int
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a pricelist PDF or image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			fields := map[string]string{"company": company}
			if year > 0 {
				fields["year"] = strconv.Itoa(year)
			}
			if month > 0 {
				fields["month"] = strconv.Itoa(month)
			}

			var resp CreateUploadResponse
			err = getClient().PostMultipart(cmd.Context(), "/upload",
				fields, "file", filepath.Base(args[0]), f, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "Vendor the pricelist belongs to (required)")
	cmd.Flags().IntVar(&year, "year", 0, "Pricelist year")
	cmd.Flags().IntVar(&month, "month", 0, "Pricelist month")
	cmd.MarkFlagRequired("company")
	return cmd
}
