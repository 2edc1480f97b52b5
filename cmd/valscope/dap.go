package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valscope/valscope/internal/cli/config"
	"github.com/valscope/valscope/internal/debug"
	"github.com/valscope/valscope/internal/layout"
)

var dapListen string

func init() {
	dapCmd.Flags().StringVar(&dapListen, "listen", "localhost:4711", "Address to accept DAP connections on")
}

var dapCmd = &cobra.Command{
	Use:   "dap",
	Short: "Run the Debug Adapter Protocol server",
	Long: `Accept DAP connections from an editor. Launch requests start the target
under Delve; evaluate requests render tagged values through the layout
registry.`,
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

		listener, err := net.Listen("tcp", dapListen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", dapListen, err)
		}
		defer listener.Close()

		logger.Info("DAP server listening", zap.String("addr", dapListen))

		for {
			conn, err := listener.Accept()
			if err != nil {
				return fmt.Errorf("accept failed: %w", err)
			}

			adapter := debug.NewAdapter(conn, registry, logger)
			go func() {
				defer conn.Close()
				if err := adapter.Start(); err != nil {
					logger.Warn("adapter session ended with error", zap.Error(err))
				}
			}()
		}
	},
}
