// Command wofi indexes and queries the wofi knowledge graph.
package main

import (
	"fmt"
	"os"

	"github.com/bertona88/wofi/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
