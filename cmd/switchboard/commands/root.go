// Package commands provides the CLI commands for switchboard.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	configPath string
	logLevel   string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Switchboard - session orchestration for MCP tool servers",
	Long: `Switchboard connects an agent host to many MCP tool servers over
long-lived sessions, keeping the connection pool, tool index, and persisted
preferences coherent across disconnects and reconnects.

Run 'switchboard serve' to start the daemon, or 'switchboard tools' to
connect once and list the tools the configured servers expose.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; ignore a missing file.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (json, jsonc, or yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "Human-readable log output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("switchboard %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the config path and initializes logging from it. The
// resolved path is returned so serve can watch the file for changes.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		for _, candidate := range []string{
			"switchboard.jsonc",
			"switchboard.json",
			"switchboard.yaml",
			filepath.Join(config.GetPaths().Config, "switchboard.jsonc"),
			filepath.Join(config.GetPaths().Config, "switchboard.yaml"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil, "", fmt.Errorf("no config file found; pass --config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: prettyLogs || cfg.Log.Pretty,
	})

	return cfg, path, nil
}
