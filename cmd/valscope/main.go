package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "valscope",
		Short: "Debugger-side tagged-value inspection",
		Long: `Valscope renders a target runtime's tagged, dynamically-typed values as
structured text. It attaches to a stopped process through a headless Delve
backend, reads raw memory, decodes values through a layout registry, and
prints each value's logical shape.`,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dapCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
