package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Anonymous store-and-forward message relay",
	Long: `relay pairs each transport principal with an opaque identity, lets
identities exchange contact IDs and holds messages until the recipient
next interacts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.AddCommand(newServeCmd(), newTokenCmd())
}

// main wires high-level dependencies. Business logic lives in internal/relay.
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
