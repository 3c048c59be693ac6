package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gptsh/gptsh/internal/mcp"
)

func init() {
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect MCP tool servers",
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers and their status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := startManager(cmd.Context())
		if err != nil {
			return err
		}
		defer manager.StopAll()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tSTATUS\tERROR")
		for _, state := range manager.States() {
			errText := ""
			if state.Error != nil {
				errText = state.Error.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", state.Name, state.Status, errText)
		}
		return w.Flush()
	},
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List every advertised tool",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := startManager(cmd.Context())
		if err != nil {
			return err
		}
		defer manager.StopAll()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, tool := range manager.Tools() {
			fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
		}
		return w.Flush()
	},
}

func startManager(ctx context.Context) (*mcp.Manager, error) {
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return nil, &configError{err: err}
	}
	manager := mcp.NewManager(cfg)
	manager.StartAll(ctx)
	return manager, nil
}
