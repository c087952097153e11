package repository

import (
	"context"
	"errors"
	"time"

	"statement-converter/internal/models"
)

// ErrStoreUnavailable wraps every failure to reach the backing counter storage. Callers treat
// it as a denial.
var ErrStoreUnavailable = errors.New("quota store unavailable")

// QuotaStore keeps per-identifier usage counters over fixed windows.
type QuotaStore interface {
	// Increment performs the check-and-increment as one atomic step. When the identifier has no
	// live window a new one starting at now is opened with count 1. When the live count is
	// already at limit nothing is written and allowed is false.
	Increment(ctx context.Context, identifier string, limit int, window time.Duration, now time.Time) (record models.UsageRecord, allowed bool, err error)

	// Peek returns the live record for identifier without mutating it. found is false when the
	// record is absent or its window has elapsed.
	Peek(ctx context.Context, identifier string, now time.Time) (record models.UsageRecord, found bool, err error)

	Ping(ctx context.Context) error
	Close() error
}
