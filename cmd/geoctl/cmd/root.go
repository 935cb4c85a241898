package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"geo-drill/internal/config"
	"geo-drill/internal/logger"
)

var (
	cfg config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "geoctl",
	Short: "Offline tooling for drill-down boundary data",
	Long: `geoctl prepares and inspects the boundary files served by geo-api.

It converts GeoJSON into quantized topology documents, splits a
collection into per-country files, imports collections into the entity
store and drives the focus machine headless for smoke checks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		config.LoadDotenv()
		log = logger.Setup()
		cfg = config.FromEnv()
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
