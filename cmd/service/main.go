package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "weather-advice-service",
		Short: "Weather lookups with rule-based practical advice",
		Long: `weather-advice-service serves current weather for a city together with
practical advice (precautions, places, activities) derived from it.
Without a subcommand it starts the HTTP service.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(newServeCmd(), newAdviseCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
