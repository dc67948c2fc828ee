// Package main is the entry point for the hostdeck admin CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/hostdeck/cmd/hostdeckctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
