package cmd

import (
	"github.com/spf13/cobra"

	"github.com/moltstore/appreview/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for marketplace tooling",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agents and marketplace tooling run and query reviews natively.
Configure with:

  {
    "mcpServers": {
      "appreview": { "command": "appreview", "args": ["mcp"] }
    }
  }

Available tools: review_run, review_quick_scan, review_get, review_list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := getRunner(true)
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(runner, s)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
