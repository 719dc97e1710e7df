// Command plenumd runs the plenum action server: the write side of the
// assembly management platform. Clients POST action batches to it, the
// server validates them against the model definitions, resolves relations
// and commits each batch as one atomic datastore write.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	// Overrides for the most common config keys. Empty means "use the
	// config file / environment value".
	flagListen    string
	flagReaderURL string
	flagWriterURL string
	flagAuthURL   string
	flagRedisURL  string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "plenumd",
	Short: "plenumd - assembly management action server",
	Long: `The write side of the plenum assembly management platform.

Clients POST action batches against the root endpoint; plenumd validates
each action payload, runs the business checks, resolves relations between
models and writes the whole batch as a single atomic datastore request.`,
	Run: func(cmd *cobra.Command, args []string) {
		// No subcommand - show help
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: plenum.yaml in . or /etc/plenum)")
	rootCmd.PersistentFlags().StringVar(&flagListen, "listen", "", "Listen address, e.g. :9002 (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagReaderURL, "datastore-reader-url", "", "Datastore reader base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagWriterURL, "datastore-writer-url", "", "Datastore writer base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagAuthURL, "auth-url", "", "Auth service base URL for token refresh (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagRedisURL, "redis-url", "", "Redis URL for the modified_fields stream (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: json or console (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
