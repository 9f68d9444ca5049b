package endpoints

import (
	"context"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/auth"
	"github.com/pricelens-dev/pricelens/internal/extract"
	"github.com/pricelens-dev/pricelens/internal/store"
	"github.com/pricelens-dev/pricelens/internal/svcctx"
)

// ListSchemasEndpoint handles GET /schemas, optionally filtered by company.
type ListSchemasEndpoint struct{}

func (e *ListSchemasEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/schemas", e.handler
}

func (e *ListSchemasEndpoint) RequiresAuth() bool { return true }

func (e *ListSchemasEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())

	schemas, err := st.ListSchemas(r.Context(), identity.WorkspaceID, r.URL.Query().Get("company"))
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas)
}

func (e *ListSchemasEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var company string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved extraction schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/schemas"
			if company != "" {
				path += "?company=" + company
			}
			var resp []store.Schema
			if err := getClient().Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "Filter by vendor")
	return cmd
}

// CreateSchemaEndpoint handles POST /schemas. Fields must be a valid
// extraction config.
type CreateSchemaEndpoint struct{}

func (e *CreateSchemaEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/schemas", e.handler
}

func (e *CreateSchemaEndpoint) RequiresAuth() bool { return true }

func (e *CreateSchemaEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var raw struct {
		Company   string         `json:"company"`
		Name      string         `json:"name"`
		Fields    datatypes.JSON `json:"fields"`
		IsDefault bool           `json:"is_default"`
	}
	if err := decodeJSON(r, &raw); err != nil {
		writeAppErr(w, err)
		return
	}
	if strings.TrimSpace(raw.Company) == "" || strings.TrimSpace(raw.Name) == "" {
		writeError(w, http.StatusBadRequest, "company and name are required")
		return
	}
	if _, err := extract.ParseConfig([]byte(raw.Fields)); err != nil {
		writeAppErr(w, err)
		return
	}

	identity, _ := auth.IdentityFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())

	schema := &store.Schema{
		ID:          store.NewID(),
		WorkspaceID: identity.WorkspaceID,
		Company:     raw.Company,
		Name:        raw.Name,
		Fields:      raw.Fields,
	}
	if err := st.CreateSchema(r.Context(), schema); err != nil {
		writeAppErr(w, err)
		return
	}
	if raw.IsDefault {
		updated, err := st.SetDefaultSchema(r.Context(), identity.WorkspaceID, schema.ID)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		schema = updated
		go reExtractCompany(svcctx.ServicesFrom(r.Context()), identity.WorkspaceID, schema.Company)
	}
	writeJSON(w, http.StatusCreated, schema)
}

func (e *CreateSchemaEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var company, name, fieldsFile string
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an extraction schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := readFileOrStdin(fieldsFile)
			if err != nil {
				return err
			}
			body := map[string]any{
				"company":    company,
				"name":       name,
				"fields":     rawJSON(fields),
				"is_default": isDefault,
			}
			var resp store.Schema
			if err := getClient().Post(cmd.Context(), "/schemas", body, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "Vendor the schema applies to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Schema name (required)")
	cmd.Flags().StringVarP(&fieldsFile, "fields", "f", "", "Extraction config JSON file (- for stdin)")
	cmd.Flags().BoolVar(&isDefault, "default", false, "Make this the company default")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("name")
	return cmd
}

// DeleteSchemaEndpoint handles DELETE /schemas/{id}.
type DeleteSchemaEndpoint struct{}

func (e *DeleteSchemaEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/schemas/{id}", e.handler
}

func (e *DeleteSchemaEndpoint) RequiresAuth() bool { return true }

func (e *DeleteSchemaEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())

	if err := st.DeleteSchema(r.Context(), identity.WorkspaceID, r.PathValue("id")); err != nil {
		writeAppErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteSchemaEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an extraction schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getClient().Delete(cmd.Context(), "/schemas/"+args[0])
		},
	}
}

// SetDefaultSchemaEndpoint handles POST /schemas/{id}/set-default. Changing
// the default re-extracts every upload of the company that has no usable
// extraction yet.
type SetDefaultSchemaEndpoint struct{}

func (e *SetDefaultSchemaEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/schemas/{id}/set-default", e.handler
}

func (e *SetDefaultSchemaEndpoint) RequiresAuth() bool { return true }

func (e *SetDefaultSchemaEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	st := svcctx.StoreFrom(r.Context())

	schema, err := st.SetDefaultSchema(r.Context(), identity.WorkspaceID, r.PathValue("id"))
	if err != nil {
		writeAppErr(w, err)
		return
	}
	go reExtractCompany(svcctx.ServicesFrom(r.Context()), identity.WorkspaceID, schema.Company)

	writeJSON(w, http.StatusOK, schema)
}

func (e *SetDefaultSchemaEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <id>",
		Short: "Make a schema the company default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp store.Schema
			if err := getClient().Post(cmd.Context(), "/schemas/"+args[0]+"/set-default", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// reExtractCompany re-runs auto-extraction for uploads whose extraction is
// missing or failed, after the company's default schema changed.
func reExtractCompany(svcs *svcctx.Services, workspaceID, company string) {
	if svcs == nil {
		return
	}
	ctx := context.Background()
	uploads, err := svcs.Store.UploadsNeedingExtraction(ctx, workspaceID, company)
	if err != nil {
		svcs.Logger.Warn("listing uploads for re-extraction", "company", company, "error", err)
		return
	}
	for i := range uploads {
		svcs.Pipeline.AutoExtract(ctx, &uploads[i])
	}
}
