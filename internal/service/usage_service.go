package service

import (
	"context"
	"fmt"
	"time"

	"statement-converter/internal/models"
	"statement-converter/internal/repository"
	"statement-converter/pkg/config"

	"go.uber.org/zap"
)

// UsageLimiter enforces the per-identity conversion allowance over a rolling fixed window.
type UsageLimiter struct {
	store              repository.QuotaStore
	window             time.Duration
	anonymousLimit     int
	authenticatedLimit int
	now                func() time.Time
	logger             *zap.Logger
}

func NewUsageLimiter(store repository.QuotaStore, cfg *config.LimitsConfig, logger *zap.Logger) *UsageLimiter {
	return &UsageLimiter{
		store:              store,
		window:             cfg.Window,
		anonymousLimit:     cfg.AnonymousDailyLimit,
		authenticatedLimit: cfg.AuthenticatedDailyLimit,
		now:                time.Now,
		logger:             logger,
	}
}

// SetClock replaces the time source.
func (l *UsageLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// LimitFor returns the allowance of the identity's tier.
func (l *UsageLimiter) LimitFor(identity models.Identity) int {
	if identity.Authenticated() {
		return l.authenticatedLimit
	}
	return l.anonymousLimit
}

// CheckAndIncrement admits or denies one conversion for identifier. An admitted call consumes
// one unit before any work happens. A store failure denies the call and returns the error.
func (l *UsageLimiter) CheckAndIncrement(ctx context.Context, identifier string, dailyLimit int) (models.UsageDecision, error) {
	rec, allowed, err := l.store.Increment(ctx, identifier, dailyLimit, l.window, l.now())
	if err != nil {
		return models.UsageDecision{Allowed: false, Remaining: 0, Limit: dailyLimit}, fmt.Errorf("check usage: %w", err)
	}

	decision := models.UsageDecision{
		Allowed: allowed,
		Limit:   dailyLimit,
		ResetAt: rec.ResetAt,
	}
	if allowed {
		decision.Remaining = max(dailyLimit-rec.Count, 0)
	}

	l.logger.Debug("Usage checked",
		zap.Bool("allowed", decision.Allowed),
		zap.Int("remaining", decision.Remaining),
		zap.Int("limit", dailyLimit),
	)

	return decision, nil
}

// Usage reports the identity's current window without consuming anything.
func (l *UsageLimiter) Usage(ctx context.Context, identity models.Identity) (models.UsageSnapshot, error) {
	limit := l.LimitFor(identity)
	snapshot := models.UsageSnapshot{Tier: identity.Tier, Limit: limit, Remaining: limit}

	rec, found, err := l.store.Peek(ctx, identity.Key, l.now())
	if err != nil {
		return snapshot, fmt.Errorf("peek usage: %w", err)
	}
	if !found {
		return snapshot, nil
	}

	resetAt := rec.ResetAt
	snapshot.Used = min(rec.Count, limit)
	snapshot.Remaining = max(limit-rec.Count, 0)
	snapshot.ResetAt = &resetAt
	return snapshot, nil
}

// Ping checks the backing store.
func (l *UsageLimiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
