package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint defines both an HTTP route and its corresponding CLI command.
// This provides a single source of truth for API operations.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler for this endpoint.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresAuth returns true if the endpoint needs an access token and
	// a workspace scope. Health probes are the only exceptions.
	RequiresAuth() bool

	// Command returns a Cobra command that calls this endpoint via HTTP.
	// getClient is called at runtime so server URL and credentials come
	// from flags (deferred evaluation).
	Command(getClient func() *Client) *cobra.Command
}
