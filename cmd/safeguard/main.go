// Command safeguard is the execution safety control plane.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/safeguard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "safeguard:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
