package main

import (
	"context"
	"net/http"
	"sync"

	"statement-converter/internal/bootstrap"
	"statement-converter/pkg/config"
	"statement-converter/pkg/logger"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
)

var (
	handler http.HandlerFunc
	once    sync.Once
	initErr error
)

func init() {
	// "ConvertStatement" is the entry point name configured in GCP.
	functions.HTTP("ConvertStatement", handleConvertStatement)
}

// main is required by the Go Functions Framework.
func main() {}

// handleConvertStatement serves the whole conversion API from one function instance.
func handleConvertStatement(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		var cfg *config.Config
		cfg, initErr = config.Load()
		if initErr != nil {
			return
		}
		if initErr = logger.Init(cfg.Logger.Level); initErr != nil {
			return
		}

		var svc *bootstrap.Service
		svc, initErr = bootstrap.New(context.Background(), cfg, logger.Get())
		if initErr != nil {
			return
		}
		handler = adaptor.FiberApp(svc.App)
	})
	if initErr != nil {
		logger.Get().Error("Conversion service initialization failed", zap.Error(initErr))
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	handler(w, r)
}
