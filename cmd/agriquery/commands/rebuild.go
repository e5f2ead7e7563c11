package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// NewRebuildCmd constructs the `agriquery rebuild` command, which re-indexes
// the reference datasets into the vector store.
func NewRebuildCmd() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild vector collections from the reference datasets",
		Long: `Rebuild vector collections from the JSON datasets under the data directory
(AGRIQUERY_DATA_DIR, default "data"). Each collection is rebuilt atomically:
queries running during a rebuild see either the old contents or the new,
never a mix.

Examples:
  agriquery rebuild
  agriquery rebuild --collection prices`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			core, err := buildCore(ctx, log)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			defer core.Close()

			rebuilt, err := core.Engine.RebuildIndex(ctx, collection)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}

			fmt.Printf("rebuilt collections: %s\n", strings.Join(rebuilt, ", "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Rebuild a single collection (default: all with datasets)")

	return cmd
}
