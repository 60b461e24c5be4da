package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "newsposter",
	Short:         "Fetch news, summarize it and draft LinkedIn and X posts",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", color.NoColor, "disable colored output")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd, mcpCmd)
	rootCmd.AddCommand(newsCmd, postsCmd, sessionCmd)
	rootCmd.AddCommand(topicsCmd, modelsCmd, configCmd, cleanupCmd)
}

func main() {
	// A .env file in the working directory fills in unset NEWSPOSTER_* variables.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		printWarning("Could not load .env file: %v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
