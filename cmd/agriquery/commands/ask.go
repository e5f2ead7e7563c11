package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// NewAskCmd constructs the `agriquery ask` command, which answers a single
// question on the command line. Complex questions are decomposed and driven
// to completion in-process.
func NewAskCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the agricultural assistant a question",
		Long: `Ask the assistant a natural language question.

Simple questions are answered in a single retrieval+generation pass. Questions
that need multiple knowledge areas are decomposed into a workflow; ask executes
every subtask in order and prints the synthesized summary.

Examples:
  agriquery ask "What is the price of tomato in Bargarh today?"
  agriquery ask "Compare fertilizer recommendations for rice and wheat, and list schemes that subsidize them"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			core, err := buildCore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer core.Close()

			out, err := core.Engine.Answer(ctx, args[0], topK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if !out.IsWorkflow {
				fmt.Println(out.Response)
				return nil
			}

			// Complex question — drive the workflow here so the CLI stays
			// a one-shot experience.
			fmt.Printf("Decomposed into %d steps:\n", len(out.Subtasks))
			for i, st := range out.Subtasks {
				fmt.Printf("  [%d/%d] %s\n", i+1, len(out.Subtasks), st.Description)
				result, execErr := core.Engine.WorkflowExecute(ctx, out.WorkflowID, i)
				if execErr != nil {
					return fmt.Errorf("ask: step %d: %w", i, execErr)
				}
				if result.Error != "" {
					return fmt.Errorf("ask: step %d failed: %s", i, result.Error)
				}
			}

			summary, err := core.Engine.WorkflowSummary(ctx, out.WorkflowID)
			if err != nil {
				return fmt.Errorf("ask: summary: %w", err)
			}
			fmt.Println()
			fmt.Println(summary)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Retrieval budget per question (0 = default)")

	return cmd
}
