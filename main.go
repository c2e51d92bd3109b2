package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debugLog   bool
)

var rootCmd = &cobra.Command{
	Use:           "rag-assistant",
	Short:         "Retrieval-augmented chat assistant for a student organization directory",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (environment variables still apply)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable development logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
