package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nighthawk/tool"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools [name]",
		Short: "List the tools every step provides to the model",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTools,
	}
	cmd.Flags().Bool("schema", false, "Print the argument schema of each tool as JSON")
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	showSchema, _ := cmd.Flags().GetBool("schema")
	registry := tool.Builtins()

	tools := registry.Tools()
	if len(args) == 1 {
		t, ok := registry.Lookup(args[0])
		if !ok {
			return exitError(exitUsage, "unknown tool %q", args[0])
		}
		tools = []tool.Tool{t}
	}

	if showSchema {
		out := make(map[string]any, len(tools))
		for _, t := range tools {
			out[t.Name] = map[string]any{
				"description": t.Description,
				"parameters":  t.Schema,
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(writer, "%s\t%s\n", t.Name, t.Description)
	}
	return writer.Flush()
}
