// Package main provides the entry point for the volumeguard CLI.
package main

import (
	"fmt"
	"os"

	"github.com/hed1ad/volumeguard/cmd/volumeguard/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
