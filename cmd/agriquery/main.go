// Command agriquery is the entry point for the agricultural query-answering
// assistant. It provides a CLI interface (via Cobra) for one-shot questions,
// index rebuilds, and the HTTP server that fronts the engine.
package main

import (
	"fmt"
	"os"

	"github.com/DevjeetSahu/agriquery-go/cmd/agriquery/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
