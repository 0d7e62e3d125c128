package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest and query HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Run one archival and retention pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Archive(cmd.Context())
	},
}
