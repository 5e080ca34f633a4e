package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/nighthawk/contract"
	"github.com/petal-labs/nighthawk/core"
)

// NewSchemaCmd creates the "schema" subcommand.
func NewSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the step outcome JSON schema or prompt fragment",
		Long: "schema prints the outcome contract a model is held to for a step with the " +
			"given loop context, denied kinds and error types.",
		Args: cobra.NoArgs,
		RunE: runSchema,
	}

	cmd.Flags().Bool("loop", false, "The step sits inside a loop (allows break and continue)")
	cmd.Flags().StringArray("deny", nil, "Deny an outcome kind (repeatable)")
	cmd.Flags().StringArray("error-type", nil, "Allow a raise error type (repeatable)")
	cmd.Flags().Bool("prompt", false, "Print the prompt fragment instead of the schema")

	return cmd
}

func runSchema(cmd *cobra.Command, _ []string) error {
	inLoop, _ := cmd.Flags().GetBool("loop")
	denyNames, _ := cmd.Flags().GetStringArray("deny")
	errorTypes, _ := cmd.Flags().GetStringArray("error-type")
	prompt, _ := cmd.Flags().GetBool("prompt")

	var denied []core.Kind
	for _, name := range denyNames {
		k, ok := core.ParseKind(name)
		if !ok {
			return exitError(exitUsage, "unknown outcome kind %q", name)
		}
		denied = append(denied, k)
	}
	allowed := contract.AllowedKinds(inLoop, denied)

	if prompt {
		fragment, err := contract.BuildPromptFragment(allowed, errorTypes)
		if err != nil {
			return exitError(exitUsage, "%v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), fragment)
		return nil
	}

	schema, err := contract.BuildSchema(allowed, errorTypes)
	if err != nil {
		return exitError(exitUsage, "%v", err)
	}
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing schema: %w", err)
	}
	out = append(out, '\n')
	if _, err := cmd.OutOrStdout().Write(out); err != nil {
		return fmt.Errorf("writing to stdout: %w", err)
	}
	return nil
}
