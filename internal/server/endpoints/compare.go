package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/apperr"
	"github.com/pricelens-dev/pricelens/internal/auth"
	"github.com/pricelens-dev/pricelens/internal/compare"
	"github.com/pricelens-dev/pricelens/internal/extract"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// CompareRequest names the two uploads to diff. When config is omitted the
// base company's default schema is used.
type CompareRequest struct {
	BaseUploadID   string          `json:"base_upload_id"`
	TargetUploadID string          `json:"target_upload_id"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// runCompare loads both sides, extracts them with one shared config, and
// diffs the results.
func runCompare(r *http.Request) (*compare.Result, error) {
	var req CompareRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	if req.BaseUploadID == "" || req.TargetUploadID == "" {
		return nil, apperr.New(apperr.Validation, "base_upload_id and target_upload_id are required")
	}
	if req.BaseUploadID == req.TargetUploadID {
		return nil, apperr.New(apperr.Validation, "cannot compare an upload against itself")
	}

	identity, _ := auth.IdentityFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())
	pipe := svcctx.PipelineFrom(r.Context())

	base, err := st.GetUpload(r.Context(), identity.WorkspaceID, req.BaseUploadID)
	if err != nil {
		return nil, err
	}
	target, err := st.GetUpload(r.Context(), identity.WorkspaceID, req.TargetUploadID)
	if err != nil {
		return nil, err
	}

	raw := []byte(req.Config)
	if len(raw) == 0 {
		schema, err := st.DefaultSchema(r.Context(), identity.WorkspaceID, base.Company)
		if err != nil {
			return nil, err
		}
		if schema == nil {
			return nil, apperr.New(apperr.Validation,
				"no config given and no default schema for %s", base.Company)
		}
		raw = []byte(schema.Fields)
	}
	cfg, err := extract.ParseConfig(raw)
	if err != nil {
		return nil, err
	}

	syn := pipe.Synonyms()
	basePages, err := pipe.PageTables(r.Context(), base.ID)
	if err != nil {
		return nil, err
	}
	targetPages, err := pipe.PageTables(r.Context(), target.ID)
	if err != nil {
		return nil, err
	}
	baseSide := compare.PrepareSide(extract.Run(basePages, cfg, syn))
	targetSide := compare.PrepareSide(extract.Run(targetPages, cfg, syn))
	return compare.Run(baseSide, targetSide), nil
}

// CompareEndpoint handles POST /compare.
type CompareEndpoint struct{}

func (e *CompareEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/compare", e.handler
}

func (e *CompareEndpoint) RequiresAuth() bool { return true }

func (e *CompareEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	res, err := runCompare(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *CompareEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "run <base-id> <target-id>",
		Short: "Compare two uploads of the same vendor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := compareRequest(args, configFile)
			if err != nil {
				return err
			}
			var resp compare.Result
			if err := getClient().Post(cmd.Context(), "/compare", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Extraction config JSON file (- for stdin)")
	return cmd
}

// CompareCSVEndpoint handles POST /compare/csv.
type CompareCSVEndpoint struct{}

func (e *CompareCSVEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/compare/csv", e.handler
}

func (e *CompareCSVEndpoint) RequiresAuth() bool { return true }

func (e *CompareCSVEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	res, err := runCompare(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	data, err := compare.EncodeCSV(res)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "comparison.csv"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *CompareCSVEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "csv <base-id> <target-id>",
		Short: "Compare two uploads and print CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := compareRequest(args, configFile)
			if err != nil {
				return err
			}
			data, err := getClient().PostRaw(cmd.Context(), "/compare/csv", req)
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

func compareRequest(args []string, configFile string) (CompareRequest, error) {
	req := CompareRequest{BaseUploadID: args[0], TargetUploadID: args[1]}
	if configFile != "" {
		cfg, err := readFileOrStdin(configFile)
		if err != nil {
			return req, err
		}
		req.Config = json.RawMessage(cfg)
	}
	return req, nil
}

// ComparableEndpoint handles GET /uploads/{id}/comparable: finished uploads
// of the same company, the candidates worth diffing against.
type ComparableEndpoint struct{}

func (e *ComparableEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/uploads/{id}/comparable", e.handler
}

func (e *ComparableEndpoint) RequiresAuth() bool { return true }

func (e *ComparableEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	upload, err := workspaceUpload(r)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	uploads, err := svcctx.StoreFrom(r.Context()).ComparableUploads(
		r.Context(), upload.WorkspaceID, upload.Company, upload.ID)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadViews(uploads))
}

func (e *ComparableEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "comparable <id>",
		Short: "List uploads an upload can be compared against",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp []UploadView
			if err := getClient().Get(cmd.Context(), "/uploads/"+args[0]+"/comparable", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
