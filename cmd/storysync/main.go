// Command storysync keeps story chapters in sync with the story storage API.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/storysync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
