package main

import (
	"os"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/internal/server/endpoints"
)

var (
	serverURL string
	apiToken  string
	workspace string
)

// getClient builds the HTTP client at runtime (after flag parsing).
func getClient() *api.Client {
	token := apiToken
	if token == "" {
		token = os.Getenv("PRICELENS_TOKEN")
	}
	ws := workspace
	if ws == "" {
		ws = os.Getenv("PRICELENS_WORKSPACE")
	}
	return api.NewClient(serverURL, token, ws)
}

func init() {
	apiCmd := endpoints.Commands(getClient)

	// Persistent so all subcommands inherit them
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8000", "Server URL",
	)
	apiCmd.PersistentFlags().StringVar(
		&apiToken, "token", "", "Access token (default: $PRICELENS_TOKEN)",
	)
	apiCmd.PersistentFlags().StringVar(
		&workspace, "workspace", "", "Workspace id (default: $PRICELENS_WORKSPACE)",
	)

	rootCmd.AddCommand(apiCmd)
}
