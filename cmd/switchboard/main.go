// Package main provides the entry point for the switchboard CLI.
package main

import (
	"fmt"
	"os"

	"github.com/switchboard-ai/switchboard/cmd/switchboard/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
