package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/api"
	"github.com/cardioscan/backend/internal/app"
	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/pkg/config"
	appLogger "github.com/cardioscan/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting CardioScan API Server")

	metrics.Init()

	components, err := app.Build(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize components", zap.Error(err))
	}

	srv := api.New(api.Deps{
		Config:        cfg,
		History:       components.History,
		Scanners:      components.Scanners,
		Sessions:      components.Sessions,
		Authenticator: components.Authenticator,
		Remote:        components.Remote,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := srv.App.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := srv.Shutdown(); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	if err := components.Close(); err != nil {
		appLogger.Error("Failed to close storage", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
