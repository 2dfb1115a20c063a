// Command advisorkb is the entry point for the AdvisorKB knowledge service.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// document ingestion and scoped chat API.
package main

import (
	"fmt"
	"os"

	"github.com/ledgerpeak/advisorkb/cmd/advisorkb/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
