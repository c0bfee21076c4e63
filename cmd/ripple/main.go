// Command ripple inspects and changes a persisted reactive state store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ripple/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ripple:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
