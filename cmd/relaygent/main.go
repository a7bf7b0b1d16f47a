// Package main is the entry point for the relaygent CLI.
package main

import (
	"os"

	"github.com/relaygent/relaygent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
