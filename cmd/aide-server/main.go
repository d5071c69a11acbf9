package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aide/internal/config"
	"aide/internal/shared/logging"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "aide-server",
		Short: "aide agent engine SSE server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, logLevel)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath, logLevel string) error {
	logger := logging.New(os.Stderr, logging.ParseLevel(logLevel), "Server")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Info("data root: %s", cfg.DataPath())
	logger.Info("model: %s @ %s", cfg.LLM.Model, cfg.LLM.APIBase)
	logger.Info("security level: %s", cfg.Security.Level)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     newRouter(a),
		ReadTimeout: 30 * time.Second,
		// No write timeout: chat streams stay open as long as a run takes.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown: %v", err)
	}
	a.shutdown(ctx)
	return nil
}
