package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rate limiter, session memory and admin API",
	Long: `Start the HTTP server with graceful shutdown support.

SIGINT or SIGTERM stops accepting requests, stops the idle session sweep and
waits up to server.shutdown_timeout for in-flight requests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("initializing folio",
			"version", versionInfo.Version,
			"environment", cfg.Server.Environment,
			"addr", cfg.Server.Addr,
		)
		app, err := newApplication(ctx, cfg, log)
		if err != nil {
			log.Error("startup failed", "error", err)
			return err
		}
		return app.run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
