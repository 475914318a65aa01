// Package main is the prospector CLI: search-and-qualify runs plus
// reporting over stored evaluations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "prospector",
	Short: "Find pages matching a pattern via search engine results",
	Long: `Prospector resolves a search query to candidate URLs through a chain of
search providers, fetches each page with browser-grade stealth, and keeps the
ones where a regular expression matches often enough.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
