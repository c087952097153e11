package api

import (
	"errors"
	"strings"

	"statement-converter/docs"
	"statement-converter/internal/api/handlers"
	"statement-converter/internal/dto"
	"statement-converter/pkg/auth"
	"statement-converter/pkg/config"
	"statement-converter/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var allowedHeaders = []string{
	"authorization",
	"x-client-info",
	"apikey",
	"content-type",
	"x-supabase-client-platform",
	"x-supabase-client-platform-version",
	"x-supabase-client-runtime",
	"x-supabase-client-runtime-version",
}

var exposedHeaders = []string{
	fiber.HeaderContentDisposition,
	handlers.HeaderTransactionsCount,
	handlers.HeaderRemainingConversions,
	fiber.HeaderXRequestID,
}

func SetupRouter(
	conversionHandler *handlers.ConversionHandler,
	usageHandler *handlers.UsageHandler,
	jwtManager *auth.JWTManager,
	cfg *config.Config,
	appLogger *zap.Logger,
) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "statement-converter",
		BodyLimit:    bodyLimit(cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler(appLogger),
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  strings.Join(allowedHeaders, ", "),
		ExposeHeaders: strings.Join(exposedHeaders, ", "),
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	_ = docs.SwaggerInfo
	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", usageHandler.Health)

	identified := app.Group("",
		middleware.ClientAddress(cfg.Server.TrustProxyHeaders),
		middleware.OptionalAuth(jwtManager, appLogger),
	)
	identified.Post("/convert", conversionHandler.Convert)
	identified.Get("/usage", usageHandler.GetUsage)

	return app
}

// multipartOverhead covers form boundaries, part headers and the format field.
const multipartOverhead = 1024 * 1024

// bodyLimit keeps the server limit above the upload limit so an oversized file always reaches
// the handler and gets the invalid-upload answer. fasthttp drops the connection on bodies past
// the server limit before any response can be written.
func bodyLimit(cfg *config.Config) int {
	floor := int(cfg.Limits.MaxUploadBytes) + multipartOverhead
	return max(cfg.Server.BodyLimit, floor)
}

// errorHandler renders framework errors in the conversion error shape.
func errorHandler(appLogger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		switch code {
		case fiber.StatusInternalServerError:
			appLogger.Error("Unhandled request error", zap.Error(err), zap.String("path", c.Path()))
			return c.Status(code).JSON(dto.ErrorResponse{
				Error:   "Conversion failed",
				Message: "Something went wrong. Please try again.",
			})
		default:
			return c.Status(code).JSON(dto.ErrorResponse{Error: fe.Message, Message: fe.Message})
		}
	}
}
