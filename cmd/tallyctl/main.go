// Package main provides the entry point for the tallyctl CLI tool.
package main

import (
	"fmt"
	"os"

	"movement-tally/cmd/tallyctl/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
