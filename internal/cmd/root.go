// Package cmd holds the folio command tree: the serve command that owns the
// rate limit manager and the session store, and thin client commands that talk
// to a running server's admin API.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"folio/internal/platform/config"
	"folio/internal/platform/health"
	"folio/internal/platform/logger"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	cfg *config.Config
	log *slog.Logger

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by the main package with ldflags values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	if version != "" {
		health.Version = version
	}
}

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Adaptive LLM rate limiting and conversation memory",
	Long: `folio keeps LLM calls under per-model provider limits and compacts long
conversations into rolling summaries.

Run "folio serve" to start the service; the other commands query a running
server through its admin API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command. It is called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./folio.yaml or ./config/folio.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug|info|warn|error)")
}

// initConfig loads .env, then the config file and FOLIO_* variables.
func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded
	log = logger.New(cfg.Log.Level)
	slog.SetDefault(log)
	return nil
}
