package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DevjeetSahu/agriquery-go/internal/version"
)

// NewVersionCmd constructs the `agriquery version` command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agriquery %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}
