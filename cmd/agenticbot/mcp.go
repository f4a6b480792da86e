package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaig1/agenticbot/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the session tools over MCP stdio",
	Long: `Serve submit_turn, session_history and session_stats as MCP tools on
stdin/stdout. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, appOptions{stderrLogs: true})
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		srv, err := mcp.NewServer(&mcp.Config{
			Name:    "agenticbot",
			Version: version,
			Logger:  a.logger.Underlying().Named("mcp"),
			Meter:   a.tel.Meter("github.com/jaig1/agenticbot/internal/mcp"),
		}, a.service)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "agenticbot MCP stdio server started")
		return srv.Run(ctx)
	},
}
