package handlers

import (
	"context"
	"time"

	"statement-converter/internal/dto"
	"statement-converter/internal/service"
	"statement-converter/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

type UsageHandler struct {
	limiter    *service.UsageLimiter
	identities *service.IdentityResolver
	logger     *zap.Logger
}

func NewUsageHandler(limiter *service.UsageLimiter, identities *service.IdentityResolver, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		limiter:    limiter,
		identities: identities,
		logger:     logger,
	}
}

// GetUsage godoc
// @Summary Current usage
// @Description Reports the caller's allowance without consuming a conversion
// @Tags conversion
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.UsageResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /usage [get]
func (h *UsageHandler) GetUsage(c *fiber.Ctx) error {
	identity := h.identities.Resolve(middleware.SubjectID(c), middleware.ClientAddressOf(c))

	snapshot, err := h.limiter.Usage(c.UserContext(), identity)
	if err != nil {
		h.logger.Error("Failed to read usage", zap.Error(err), zap.String("request_id", requestID(c)))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error:   "Service unavailable",
			Message: "Usage tracking is temporarily unavailable. Please try again later.",
		})
	}

	return c.JSON(dto.UsageResponse{
		Tier:      string(snapshot.Tier),
		Limit:     snapshot.Limit,
		Used:      snapshot.Used,
		Remaining: snapshot.Remaining,
		ResetAt:   snapshot.ResetAt,
	})
}

// Health godoc
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Failure 503 {object} dto.HealthResponse
// @Router /health [get]
func (h *UsageHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	if err := h.limiter.Ping(ctx); err != nil {
		h.logger.Warn("Quota store ping failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.HealthResponse{
			Status:     "degraded",
			QuotaStore: "unavailable",
		})
	}

	return c.JSON(dto.HealthResponse{Status: "ok", QuotaStore: "ok"})
}
