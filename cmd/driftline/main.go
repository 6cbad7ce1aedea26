// Package main is the driftline CLI entrypoint.
package main

import (
	"os"

	"github.com/driftline-labs/driftline/internal/cli"
)

func main() {
	err := cli.Execute()
	os.Exit(cli.ExitCode(err))
}
