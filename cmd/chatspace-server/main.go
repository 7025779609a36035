package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatspace/chat"
	"chatspace/internal/config"
	"chatspace/metrics"
	"chatspace/pkg/logger"
)

const version = "1.0.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "chatspace-server",
		Short:         "chatspace-server",
		Long:          "chatspace-server runs the group-chat application over the chatspace reliable UDP transport.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func runServer(ctx context.Context, configPath string) error {
	logger.Banner("ChatSpace Server", version)

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	logger.Info("server name: %s", cfg.ServerName)
	logger.Info("listening on %s:%d", cfg.Host, cfg.Port)
	logger.Info("history limit: %d messages per room", cfg.HistoryLimit)
	logger.Success("configuration loaded")

	srv := chat.NewServer(cfg.Port, cfg.HistoryLimit)
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Success("chatspace-server started")

	reporter := metrics.NewReporter(srv, "Server")
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go func() {
		if err := reporter.Serve(metricsCtx, cfg.MetricsAddr); err != nil {
			logger.Warn("metrics server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sig := <-sigCh
	logger.Warn("received signal: %v", sig)
	logger.Info("shutting down gracefully...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("shutdown error: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	reporter.PrintReport()
	logger.Success("chatspace-server stopped")
	return nil
}
