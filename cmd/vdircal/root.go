package main

import (
	"cmp"
	"os"

	"github.com/spf13/cobra"

	"vdircal/internal/config"
	appLog "vdircal/internal/log"
)

const defaultConfigPath = "/etc/vdircal/config.yaml"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "vdircal",
	Short: "Live calendar view over vdir collections",
	Long: `vdircal loads calendar collections stored in the vdir layout
(one directory per collection, one .ics file per item), keeps them in sync
with the filesystem and serves the result over a small read-only HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		cmp.Or(os.Getenv("VDIRCAL_CONFIG"), defaultConfigPath), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config if set)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(eventsCmd)
}

// loadConfig loads the config file and applies its log settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	appLog.Setup(appLog.Options{Level: level, File: cfg.Log.File})
	return cfg, nil
}
