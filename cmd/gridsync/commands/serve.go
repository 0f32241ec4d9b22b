package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/gridsync/config"
	"github.com/teranos/gridsync/errors"
	"github.com/teranos/gridsync/logger"
	"github.com/teranos/gridsync/server"
)

// ServeCmd starts the WebSocket relay server.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the document relay server",
	Long:    `Start the WebSocket relay that synchronizes spreadsheet documents between connected clients and persists their state.`,
	RunE:    runServe,
}

var (
	serveConfigPath string
	serveAddr       string
	serveDBPath     string
)

func init() {
	ServeCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to a TOML config file")
	ServeCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Document database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveDBPath != "" {
		cfg.Database.Path = serveDBPath
	}

	if err := logger.Initialize(cfg.Log.JSON); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer logger.Sync()
	log := logger.Logger

	srv, err := server.New(cfg, log)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Relay server listening", "addr", cfg.Server.Addr, "db", cfg.Database.Path)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case sig := <-sigCh:
		log.Infow("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown failed")
	}
	return nil
}
