package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"statement-converter/internal/bootstrap"
	"statement-converter/pkg/config"
	"statement-converter/pkg/logger"

	"go.uber.org/zap"
)

// @title Statement Converter API
// @version 1.0
// @description Converts bank statement PDFs into CSV, JSON or spreadsheet files with a daily usage allowance per caller.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Optional. Type "Bearer" followed by a space and JWT token to get the authenticated allowance.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logger.Init(cfg.Logger.Level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting statement converter service")

	svc, err := bootstrap.New(context.Background(), cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			appLogger.Error("Failed to release resources", zap.Error(err))
		}
	}()

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := svc.App.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	if err := svc.App.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}
