// Package main is the entry point for the penates CLI.
package main

import (
	"os"

	"github.com/penates/penates/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
