package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API and the due-posting scheduler.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for active requests, stops the scheduler and closes the database.`,
	Example: `  feeengine serve --port 3000
  feeengine serve --db :memory: --due-posting=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("port", "", "HTTP port (env HTTP_PORT)")
	serveCmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origins (env CORS_ORIGINS)")
	serveCmd.Flags().Bool("due-posting", true, "Run the due-posting scheduler (env DUE_POSTING_ENABLED)")
	serveCmd.Flags().Duration("due-posting-interval", 0, "Scheduler interval (env DUE_POSTING_INTERVAL)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	if v, _ := cmd.Flags().GetString("port"); v != "" {
		cfg.HTTPPort = v
	}
	if v, _ := cmd.Flags().GetStringSlice("cors-origin"); len(v) > 0 {
		cfg.CORSOrigins = v
	}
	if cmd.Flags().Changed("due-posting") {
		cfg.DuePostingEnabled, _ = cmd.Flags().GetBool("due-posting")
	}
	if v, _ := cmd.Flags().GetDuration("due-posting-interval"); v > 0 {
		cfg.DuePostingInterval = v
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.service, a.store, a.logger)

	scheduler := api.NewDuePostingScheduler(a.service, a.logger)
	scheduler.CheckInterval = cfg.DuePostingInterval
	scheduler.Enabled = cfg.DuePostingEnabled
	handler.Scheduler = scheduler

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", cfg.DatabasePath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	scheduler.Start()
	defer scheduler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	a.logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}
