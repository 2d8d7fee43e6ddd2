// Package main provides the entry point for the minionctl orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/minionctl/orchestrator/cmd/minionctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
