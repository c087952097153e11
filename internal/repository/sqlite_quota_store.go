package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"statement-converter/internal/models"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// SQLiteQuotaStore is a durable store for single-instance deployments.
type SQLiteQuotaStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteQuotaStore(db *sql.DB, logger *zap.Logger) *SQLiteQuotaStore {
	return &SQLiteQuotaStore{
		db:     db,
		logger: logger,
	}
}

func (r *SQLiteQuotaStore) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteUsageSchema); err != nil {
		return fmt.Errorf("failed to create usage schema: %w", err)
	}
	return nil
}

func (r *SQLiteQuotaStore) Increment(ctx context.Context, identifier string, limit int, window time.Duration, now time.Time) (models.UsageRecord, bool, error) {
	query, args, err := upsertUsage(squirrel.Question, identifier, limit, now.Add(window).UnixMilli(), now.UnixMilli()).ToSql()
	if err != nil {
		return models.UsageRecord{}, false, err
	}

	var (
		count   int
		resetAt int64
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&count, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
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

	return models.UsageRecord{
		Identifier: identifier,
		Count:      count,
		ResetAt:    time.UnixMilli(resetAt),
	}, true, nil
}

func (r *SQLiteQuotaStore) Peek(ctx context.Context, identifier string, now time.Time) (models.UsageRecord, bool, error) {
	query, args, err := selectUsage(squirrel.Question, identifier).ToSql()
	if err != nil {
		return models.UsageRecord{}, false, err
	}

	var (
		count   int
		resetAt int64
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&count, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UsageRecord{}, false, nil
	}
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: read usage: %w", ErrStoreUnavailable, err)
	}

	rec := models.UsageRecord{Identifier: identifier, Count: count, ResetAt: time.UnixMilli(resetAt)}
	if rec.Expired(now) {
		return models.UsageRecord{}, false, nil
	}
	return rec, true, nil
}

func (r *SQLiteQuotaStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query, args, err := deleteExpiredUsage(squirrel.Question, now.UnixMilli()).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired usage: %w", ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}

func (r *SQLiteQuotaStore) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *SQLiteQuotaStore) Close() error {
	return r.db.Close()
}
