package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statement-converter/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresQuotaStore is the durable, multi-instance store. Atomicity comes from the row lock
// taken by INSERT ... ON CONFLICT.
type PostgresQuotaStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresQuotaStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresQuotaStore {
	return &PostgresQuotaStore{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the usage table when missing.
func (r *PostgresQuotaStore) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, postgresUsageSchema); err != nil {
		return fmt.Errorf("failed to create usage schema: %w", err)
	}
	return nil
}

func (r *PostgresQuotaStore) Increment(ctx context.Context, identifier string, limit int, window time.Duration, now time.Time) (models.UsageRecord, bool, error) {
	now = now.UTC()
	sql, args, err := upsertUsage(squirrel.Dollar, identifier, limit, now.Add(window), now).ToSql()
	if err != nil {
		return models.UsageRecord{}, false, err
	}

	rec := models.UsageRecord{Identifier: identifier}
	err = r.db.QueryRow(ctx, sql, args...).Scan(&rec.Count, &rec.ResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		current, found, peekErr := r.Peek(ctx, identifier, now)
		if peekErr != nil {
			return models.UsageRecord{}, false, peekErr
		}
		if !found {
			current = models.UsageRecord{Identifier: identifier, Count: limit}
		}
		return current, false, nil
	}
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: increment usage: %w", ErrStoreUnavailable, err)
	}

	return rec, true, nil
}

func (r *PostgresQuotaStore) Peek(ctx context.Context, identifier string, now time.Time) (models.UsageRecord, bool, error) {
	sql, args, err := selectUsage(squirrel.Dollar, identifier).ToSql()
	if err != nil {
		return models.UsageRecord{}, false, err
	}

	rec := models.UsageRecord{Identifier: identifier}
	err = r.db.QueryRow(ctx, sql, args...).Scan(&rec.Count, &rec.ResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UsageRecord{}, false, nil
	}
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: read usage: %w", ErrStoreUnavailable, err)
	}
	if rec.Expired(now) {
		return models.UsageRecord{}, false, nil
	}
	return rec, true, nil
}

// DeleteExpired physically removes elapsed windows.
func (r *PostgresQuotaStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	sql, args, err := deleteExpiredUsage(squirrel.Dollar, now.UTC()).ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired usage: %w", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresQuotaStore) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresQuotaStore) Close() error {
	r.db.Close()
	return nil
}
