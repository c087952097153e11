package repository

import (
	"github.com/Masterminds/squirrel"
)

const usageTable = "usage_counters"

const postgresUsageSchema = `
CREATE TABLE IF NOT EXISTS usage_counters (
	identifier TEXT PRIMARY KEY,
	count      INTEGER NOT NULL,
	reset_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_counters_reset_at_idx ON usage_counters (reset_at);
`

// reset_at is stored as epoch milliseconds; modernc sqlite has no native timestamp type.
const sqliteUsageSchema = `
CREATE TABLE IF NOT EXISTS usage_counters (
	identifier TEXT PRIMARY KEY,
	count      INTEGER NOT NULL,
	reset_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_counters_reset_at_idx ON usage_counters (reset_at);
`

// upsertUsage builds the single-statement check-and-increment. The conflict branch only
// updates when the stored window has elapsed or the count is below limit, so a denied call
// returns no row and writes nothing.
func upsertUsage(format squirrel.PlaceholderFormat, identifier string, limit int, newResetAt, now interface{}) squirrel.InsertBuilder {
	return squirrel.Insert(usageTable).
		Columns("identifier", "count", "reset_at").
		Values(identifier, 1, newResetAt).
		Suffix(`ON CONFLICT (identifier) DO UPDATE SET
	count = CASE WHEN usage_counters.reset_at < ? THEN 1 ELSE usage_counters.count + 1 END,
	reset_at = CASE WHEN usage_counters.reset_at < ? THEN excluded.reset_at ELSE usage_counters.reset_at END
WHERE usage_counters.reset_at < ? OR usage_counters.count < ?
RETURNING count, reset_at`, now, now, now, limit).
		PlaceholderFormat(format)
}

func selectUsage(format squirrel.PlaceholderFormat, identifier string) squirrel.SelectBuilder {
	return squirrel.Select("count", "reset_at").
		From(usageTable).
		Where(squirrel.Eq{"identifier": identifier}).
		PlaceholderFormat(format)
}

func deleteExpiredUsage(format squirrel.PlaceholderFormat, now interface{}) squirrel.DeleteBuilder {
	return squirrel.Delete(usageTable).
		Where(squirrel.Lt{"reset_at": now}).
		PlaceholderFormat(format)
}
