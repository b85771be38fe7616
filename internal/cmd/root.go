// Package cmd implements the goharvest command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/goharvest/internal/config"
	"github.com/3leaps/goharvest/internal/observability"
	"github.com/3leaps/goharvest/internal/server/handlers"
)

// VersionInfo is the build identity injected by main.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var (
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *config.AppIdentity

	cfgFile  string
	logLevel string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "goharvest",
	Short: "Asynchronous document and record ingestion",
	Long: `goharvest runs ingestion jobs: directory scans that extract text from
documents into a CSV or JSONL manifest, and record streams that push rows
from CSV or XLSX files into an index sink in batches.

Run one job in the foreground with "scan" or "stream", or start the HTTP
job API with "serve".`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./goharvest.yaml, then ~/.config/goharvest/goharvest.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set during startup, or nil.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

// Execute runs the root command and exits with the mapped exit code.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(handleExit(err))
	}
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	appIdentity = &config.AppIdentity{BinaryName: "goharvest", EnvPrefix: "GOHARVEST", ConfigName: "goharvest"}

	observability.InitCLILoggerLevel(appIdentity.BinaryName, cliLevel())

	config.SetConfigFile(cfgFile)
	if _, err := config.Load(cmd.Context(), cliOverrides()); err != nil {
		return exitError(exitConfigError, "Failed to load configuration", err)
	}
	return nil
}

func cliLevel() zapcore.Level {
	if verbose {
		return zapcore.DebugLevel
	}
	if logLevel != "" {
		return observability.ParseLevel(logLevel)
	}
	return zapcore.InfoLevel
}

// cliOverrides maps persistent flags to config keys. Flags win over env.
func cliOverrides() map[string]any {
	out := map[string]any{}
	if logLevel != "" {
		out["logging"] = map[string]any{"level": logLevel}
	}
	if verbose {
		out["logging"] = map[string]any{"level": "debug"}
	}
	return out
}

// loadedConfig returns the config loaded by initRuntime.
func loadedConfig() (*config.Config, error) {
	cfg, err := config.Current()
	if err != nil {
		return nil, fmt.Errorf("configuration unavailable: %w", err)
	}
	return cfg, nil
}
