// Command entitystore manages block-versioned entity storage for
// blockchain indexing deployments.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/entitystore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
