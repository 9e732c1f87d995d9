// Command e2eshark runs end-to-end model tests through torch-mlir and IREE.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/e2eshark/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
