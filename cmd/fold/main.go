// Command fold is the command-line front end of the fold store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fold/internal/cli"
)

// version is set via ldflags during build
var version = "dev"

func main() {
	root := cli.NewRootCommand()
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
