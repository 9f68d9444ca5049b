package endpoints

import (
	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
)

// All returns every endpoint in registration order.
func All() []api.Endpoint {
	var eps []api.Endpoint
	eps = append(eps, healthEndpoints...)
	eps = append(eps, uploadEndpoints...)
	eps = append(eps, pageEndpoints...)
	eps = append(eps, extractEndpoints...)
	eps = append(eps, schemaEndpoints...)
	eps = append(eps, compareEndpoints...)
	return eps
}

var healthEndpoints = []api.Endpoint{
	&HealthEndpoint{},
	&ReadyEndpoint{},
}

var uploadEndpoints = []api.Endpoint{
	&CreateUploadEndpoint{},
	&ListUploadsEndpoint{},
	&GetUploadEndpoint{},
	&UpdateUploadEndpoint{},
	&DeleteUploadEndpoint{},
	&ResumeUploadEndpoint{},
	&ReparseUploadEndpoint{},
	&StatusEndpoint{},
	&ListPagesEndpoint{},
	&PageStatesEndpoint{},
	&MarkdownEndpoint{},
	&ComparableEndpoint{},
}

var pageEndpoints = []api.Endpoint{
	&GetPageEndpoint{},
	&PageImageEndpoint{},
	&PageTablesEndpoint{},
	&TableCSVEndpoint{},
	&TableRegionsEndpoint{},
	&ValidateTableEndpoint{},
	&ApplyCorrectionEndpoint{},
}

var extractEndpoints = []api.Endpoint{
	&ScanColumnsEndpoint{},
	&ExtractEndpoint{},
	&ExtractCSVEndpoint{},
	&ExtractDownloadEndpoint{},
}

var schemaEndpoints = []api.Endpoint{
	&ListSchemasEndpoint{},
	&CreateSchemaEndpoint{},
	&DeleteSchemaEndpoint{},
	&SetDefaultSchemaEndpoint{},
}

var compareEndpoints = []api.Endpoint{
	&CompareEndpoint{},
	&CompareCSVEndpoint{},
}

// Registry returns an api.Registry with every endpoint registered.
func Registry() *api.Registry {
	r := api.NewRegistry()
	for _, ep := range All() {
		r.Register(ep)
	}
	return r
}

// Commands builds the "api" command tree. Upload, page, extraction, schema,
// and compare operations group under their own subcommands.
func Commands(getClient func() *api.Client) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running pricelens server via HTTP.

These commands require a running server (pricelens serve).
Use --server, --token, and --workspace to point at it.

Examples:
  pricelens api health                   # Check server health
  pricelens api uploads list             # List workspace uploads
  pricelens api uploads get <id>         # Get a specific upload`,
	}

	for _, ep := range healthEndpoints {
		apiCmd.AddCommand(ep.Command(getClient))
	}
	apiCmd.AddCommand(
		group("uploads", "Manage pricelist uploads", uploadEndpoints, getClient),
		group("pages", "Inspect and correct OCR pages", pageEndpoints, getClient),
		group("extract", "Run and download extractions", extractEndpoints, getClient),
		group("schemas", "Manage extraction schemas", schemaEndpoints, getClient),
		group("compare", "Compare uploads", compareEndpoints, getClient),
	)
	return apiCmd
}

func group(use, short string, eps []api.Endpoint, getClient func() *api.Client) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}
	for _, ep := range eps {
		cmd.AddCommand(ep.Command(getClient))
	}
	return cmd
}
