package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valscope/valscope/internal/cli/config"
	"github.com/valscope/valscope/internal/debug"
	"github.com/valscope/valscope/internal/layout"
	"github.com/valscope/valscope/internal/web"
)

var serveBackend string

func init() {
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Address of a running headless Delve server (host:port)")
	serveCmd.MarkFlagRequired("backend")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP inspection surface",
	Long: `Serve layout listings and value renderings over HTTP, reading memory
from a running headless Delve server whose target is stopped at a breakpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		registry, err := layout.Load(cfg.Layouts)
		if err != nil {
			return fmt.Errorf("failed to load layouts: %w", err)
		}

		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()

		backend := debug.NewDelveClient(logger)
		if err := backend.Connect(serveBackend); err != nil {
			return err
		}
		defer backend.Close()

		server := web.NewServer(registry, backend.Memory(), logger)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start(cfg.Server.ListenAddr())
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errChan:
			return err
		case <-sigChan:
			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		}
	},
}
