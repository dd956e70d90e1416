// Command gatewayctl is an operator CLI for a running gateway: budget and
// cache inspection, and config validation, over the gateway's own HTTP API.
// Grounded on jefflaplante-conduit/cmd/gateway's cobra root+subcommand tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "gatewayctl",
	Short: "Operator CLI for the LLM gateway",
	Long:  "gatewayctl talks to a running gateway over its HTTP API for day-to-day operator tasks: checking spend, inspecting the cache, and validating config before a deploy.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", getEnv("GATEWAY_ADDR", "http://localhost:8080"), "gateway API base URL")

	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(configCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
