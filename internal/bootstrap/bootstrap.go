package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"statement-converter/internal/api"
	"statement-converter/internal/api/handlers"
	"statement-converter/internal/repository"
	"statement-converter/internal/service"
	"statement-converter/pkg/auth"
	"statement-converter/pkg/config"
	"statement-converter/pkg/gcp"
	"statement-converter/pkg/postgres"
	"statement-converter/pkg/redisdb"
	"statement-converter/pkg/sqlite"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Service is the fully wired conversion API.
type Service struct {
	App *fiber.App

	cancel  context.CancelFunc
	closers []func() error
}

// New builds the quota store and extractor selected by cfg and mounts them on a fiber app.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	svc := &Service{cancel: cancel}

	store, err := NewQuotaStore(ctx, bgCtx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	svc.closers = append(svc.closers, store.Close)

	extractor, closeExtractor, err := NewExtractor(ctx, cfg, logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	if closeExtractor != nil {
		svc.closers = append(svc.closers, closeExtractor)
	}

	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	if cfg.JWT.SecretKey == "" {
		logger.Warn("JWT_SECRET_KEY is not set, every caller is treated as anonymous")
	}

	limiter := service.NewUsageLimiter(store, &cfg.Limits, logger)
	identities := service.NewIdentityResolver(cfg.Limits.IdentifierSalt)
	conversions := service.NewConversionService(limiter, extractor, cfg.Limits.MaxUploadBytes, cfg.Extractor.Timeout, logger)

	svc.App = api.SetupRouter(
		handlers.NewConversionHandler(conversions, identities, logger),
		handlers.NewUsageHandler(limiter, identities, logger),
		jwtManager,
		cfg,
		logger,
	)

	logger.Info("Conversion service wired",
		zap.String("quota_store", cfg.Quota.Store),
		zap.String("extractor", cfg.Extractor.Provider),
		zap.Int("anonymous_limit", cfg.Limits.AnonymousDailyLimit),
		zap.Int("authenticated_limit", cfg.Limits.AuthenticatedDailyLimit),
	)

	return svc, nil
}

// Close stops background work and releases every client in reverse order.
func (s *Service) Close() error {
	s.cancel()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewQuotaStore connects the configured counter backend. SQL backends are migrated on open.
// Background sweeps are bound to bgCtx.
func NewQuotaStore(ctx, bgCtx context.Context, cfg *config.Config, logger *zap.Logger) (repository.QuotaStore, error) {
	switch cfg.Quota.Store {
	case config.QuotaStoreMemory:
		logger.Warn("Using in-memory quota store, counters are per process")
		store := repository.NewMemoryQuotaStore(cfg.Quota.MemoryMaxEntries, logger)
		store.StartJanitor(bgCtx, cfg.Quota.SweepInterval)
		return store, nil

	case config.QuotaStorePostgres:
		pool, err := postgres.NewPool(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := repository.NewPostgresQuotaStore(pool, logger)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, nil

	case config.QuotaStoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		store := repository.NewSQLiteQuotaStore(db, logger)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, nil

	case config.QuotaStoreRedis:
		client, err := redisdb.NewClient(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return repository.NewRedisQuotaStore(client, cfg.Redis.Prefix, logger), nil

	case config.QuotaStoreFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, err
		}
		return repository.NewFirestoreQuotaStore(client, cfg.Firestore.Collection, logger), nil

	default:
		return nil, fmt.Errorf("unknown quota store %q", cfg.Quota.Store)
	}
}

// NewExtractor builds the configured model client. The returned close func may be nil.
func NewExtractor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Extractor, func() error, error) {
	switch cfg.Extractor.Provider {
	case config.ProviderGateway:
		return service.NewGatewayExtractor(&cfg.Gateway, nil, logger), nil, nil

	case config.ProviderGigaChat:
		extractor, err := service.NewGigaChatExtractor(ctx, &cfg.GigaChat, logger)
		if err != nil {
			return nil, nil, err
		}
		return extractor, extractor.Close, nil

	case config.ProviderVertex:
		client, err := gcp.NewVertexClient(ctx, cfg.Vertex.ProjectID, cfg.Vertex.Region)
		if err != nil {
			return nil, nil, err
		}
		return service.NewVertexExtractor(client, &cfg.Vertex, cfg.Gateway.MaxTokens, logger), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown extractor provider %q", cfg.Extractor.Provider)
	}
}
