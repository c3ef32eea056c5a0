package cli

import (
	"fmt"
	"os"

	"docqa/internal/mcpserver"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start the Model Context Protocol server so AI assistants can ask questions
and search evidence in ingested documents.

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "docqa": {
        "command": "/path/to/docqa",
        "args": ["mcp", "serve", "--user", "USER_ID"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().String("user", "", "user id for ask_documents calls that carry none (default $DOCQA_MCP_USER_ID)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	user, err := cmd.Flags().GetString("user")
	if err != nil {
		return fmt.Errorf("getting user flag: %w", err)
	}
	if user == "" {
		user = os.Getenv("DOCQA_MCP_USER_ID")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	stack, closeFn, err := openQueryStack(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	server, err := mcpserver.NewServer(&mcpserver.Ports{
		Query:    stack.Orchestrator,
		Search:   stack.Searcher,
		Embed:    stack.Embedder,
		Settings: mcpserver.Settings{DefaultUserID: user, Threshold: cfg.SearchThreshold},
	})
	if err != nil {
		return err
	}
	logger.Info("mcp server starting", "transport", "stdio")
	return server.Run(cmd.Context())
}
