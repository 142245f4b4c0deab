// Command s3 validates, converts, runs and serves Software 3.0 documents.
package main

import (
	"fmt"
	"os"

	"github.com/software3/software3/cmd/s3/commands"
)

const version = "0.1.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := commands.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
