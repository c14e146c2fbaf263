// Package cmd holds the gptbridge command line.
package cmd

import (
	"log/slog"

	"gptbridge/pkg/config"
	"gptbridge/pkg/monitor"

	"github.com/spf13/cobra"
)

// Version is printed in the startup banner.
var Version = "dev"

var (
	cfgFile  string
	sysFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "gptbridge",
	Short: "OpenAI proxy backend with a developer agent",
	Long: `gptbridge exposes text, audio and image use cases over REST and runs a
developer agent with short conversation memory and a web search tool. The
agent is also reachable from telegram and a websocket chat.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// the system file decides the level unless the flag is given
		level := config.LoadSystemConfig(sysFile).LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		monitor.SetupSlog(level)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "app config file (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&sysFile, "system", "system.json", "system config file (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// loadConfig reads both config files. The system file falls back to defaults.
func loadConfig() (*config.Config, *config.SystemConfig, error) {
	cfg, sys, err := config.Load(cfgFile, sysFile)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("Configuration loaded", "config", cfgFile, "system", sysFile)
	return cfg, sys, nil
}
