// Package cmd implements the jobprobe command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/internal/config"
	"github.com/3leaps/jobprobe/internal/observability"
)

const serviceName = "jobprobe"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

var (
	cfgFile    string
	envFile    string
	logLevel   string
	logProfile string

	// appConfig is loaded once per invocation by the root pre-run hook.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "jobprobe",
	Short: "Synthetic job probe for generative-inference backends",
	Long: `jobprobe authenticates against an identity provider, submits one
generative-inference job to a job API and polls it to a terminal outcome,
classifying elapsed time into queued, running and total phases against
configurable budgets.

Each session emits JSONL records (session, observation, outcome, error) and
exits non-zero when the job fails, times out or cannot be submitted.

Examples:
  jobprobe run
  jobprobe run --queued-warning 30s --queued-max 5m
  jobprobe run --model sdxl --output file:probe.jsonl
  jobprobe doctor`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Dotenv file to load (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logProfile, "log-profile", "", "Log profile (structured|console)")
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so an in-flight session ends with a cancelled outcome.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// initConfig loads configuration and configures the CLI logger.
func initConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	logging := map[string]any{}
	if logLevel != "" {
		logging["level"] = logLevel
	}
	if logProfile != "" {
		logging["profile"] = logProfile
	}
	var overrides []map[string]any
	if len(logging) > 0 {
		overrides = append(overrides, map[string]any{"logging": logging})
	}

	cfg, err := config.LoadWithOptions(cmd.Context(), config.Options{
		ConfigFile: cfgFile,
		EnvFile:    envFile,
	}, overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}

	if err := observability.ConfigureCLILogger(serviceName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("config_file", cfgFile),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("auth_provider", cfg.Auth.Provider))

	appConfig = cfg
	return nil
}
