package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"conduit/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conduit server",
		Long: `Start the conduit server.

The server runs the session workers and exposes:
- REST API endpoints for sessions, approvals, todos and policy
- WebSocket push for events, task state and approval requests
- Scheduled messages when cron is enabled

It listens on the configured host and port (default: 127.0.0.1:8787).`,
		Example: `  # Start server with default configuration
  conduit serve

  # Start server on another port
  conduit serve --port 9000

  # Start server with verbose logging
  conduit serve --verbose`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx, err := mustContext(cmd)
	if err != nil {
		return err
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}

	srv, err := server.NewServer(server.ServerConfig{
		Config:      cfg,
		ConfigPath:  cliCtx.ConfigPath,
		StoragePath: cliCtx.StoragePath,
		Version:     Version,
		Logger:      *log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info().
		Str("address", "http://"+srv.Addr()).
		Msg("server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case serveErr = <-srv.ErrorChan():
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("server error")
		}
	}

	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		if serveErr == nil {
			serveErr = err
		}
	}

	log.Info().Msg("server stopped")
	return serveErr
}
