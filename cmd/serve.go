package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/echoid/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the echoid web server to start and stop identification from a browser
or any HTTP client on the same network.

Session progress is streamed as JSON events on the /events websocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		// Create and start the web server
		srv, err := server.New(cfgFile, addr)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		defer srv.Close()

		slog.Info("echoid web server starting", "addr", addr, "config", cfgFile)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr in config)")
}
