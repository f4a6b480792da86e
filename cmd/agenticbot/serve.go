package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API over HTTP",
	Long: `Serve the session API over HTTP.

Endpoints:
  POST   /api/v1/sessions                 create a session id
  POST   /api/v1/sessions/:id/turns       submit a question or clarification answer (?trail=true adds the decision trail)
  GET    /api/v1/sessions/:id/pending     pending clarification question
  GET    /api/v1/sessions/:id/history     conversation history
  DELETE /api/v1/sessions/:id             clear a session
  GET    /api/v1/stats                    request statistics
  GET    /health, /metrics`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	srv, err := http.NewServer(a.service, a.logger, &http.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
		Health: func() string {
			h := a.tel.Health()
			switch {
			case !a.tel.IsEnabled():
				return "disabled"
			case h.Degraded:
				return "degraded"
			default:
				return "ok"
			}
		},
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown requested",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}
