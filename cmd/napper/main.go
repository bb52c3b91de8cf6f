// Command napper runs the sync server and the device-side client.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/napper/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "napper:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
