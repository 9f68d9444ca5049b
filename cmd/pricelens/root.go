package main

import (
	"github.com/spf13/cobra"

	"github.com/pricelens-dev/pricelens/internal/api"
	"github.com/pricelens-dev/pricelens/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pricelens",
	Short: "Pricelist ingestion and comparison service",
	Long: `Pricelens turns vendor pricelist PDFs and scans into structured data.

The pipeline includes:
  - PDF rendering and VLM-powered page OCR to markdown
  - HTML-table-aware column extraction with anomaly flagging
  - Model-assisted table correction
  - Price comparison across pricelist revisions`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.pricelens/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
