package main

import (
	"os"

	"github.com/beam-cloud/indexsync/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		cli.PrintError(err)
		os.Exit(1)
	}
}
