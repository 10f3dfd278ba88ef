// fluentgate — hardened HTTP gateway for the fluent CLI engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fluentgate",
	Short: "fluentgate — hardened HTTP gateway for the fluent CLI engine.",
	Long: `fluentgate accepts JSON job requests over HTTP and runs them through the
fluent engine binary: validate, stage file payloads, build the argument
vector, execute in a sandboxed process, and return sanitized output.
Nothing from a request ever reaches a shell.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
