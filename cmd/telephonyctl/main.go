package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var serverURL string
var apiKey string
var noColor bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "telephonyctl",
	Short: "telephonyctl manages calls on a running voice gateway",
	Long: `A command line client for the voice gateway management API:
place outbound calls, inspect and end active ones, and mint API keys.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		getEnvOrDefault("TELEPHONY_SERVER", "http://localhost:8080"),
		"Base URL of the voice gateway")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key",
		getEnvOrDefault("TELEPHONY_API_KEY", ""),
		"API key for the management API (JWT, see 'telephonyctl token')")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")
}
