package repository

import (
	"context"
	"sync"
	"time"

	"statement-converter/internal/models"

	"go.uber.org/zap"
)

// MemoryQuotaStore keeps counters in process memory. Counters are not shared between
// instances, so it is meant for tests and single-process development.
type MemoryQuotaStore struct {
	mu         sync.Mutex
	entries    map[string]models.UsageRecord
	maxEntries int
	logger     *zap.Logger
}

func NewMemoryQuotaStore(maxEntries int, logger *zap.Logger) *MemoryQuotaStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryQuotaStore{
		entries:    make(map[string]models.UsageRecord),
		maxEntries: maxEntries,
		logger:     logger,
	}
}

func (s *MemoryQuotaStore) Increment(_ context.Context, identifier string, limit int, window time.Duration, now time.Time) (models.UsageRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxEntries {
		removed := s.sweepLocked(now)
		if len(s.entries) >= s.maxEntries {
			s.logger.Warn("Usage map above capacity after sweep",
				zap.Int("entries", len(s.entries)),
				zap.Int("removed", removed),
			)
		}
	}

	rec, ok := s.entries[identifier]
	if !ok || rec.Expired(now) {
		rec = models.UsageRecord{Identifier: identifier, Count: 1, ResetAt: now.Add(window)}
		s.entries[identifier] = rec
		return rec, true, nil
	}

	if rec.Count >= limit {
		return rec, false, nil
	}

	rec.Count++
	s.entries[identifier] = rec
	return rec, true, nil
}

func (s *MemoryQuotaStore) Peek(_ context.Context, identifier string, now time.Time) (models.UsageRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[identifier]
	if !ok || rec.Expired(now) {
		return models.UsageRecord{}, false, nil
	}
	return rec, true, nil
}

// Sweep drops every expired entry and returns how many were removed.
func (s *MemoryQuotaStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryQuotaStore) sweepLocked(now time.Time) int {
	removed := 0
	for id, rec := range s.entries {
		if rec.Expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryQuotaStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor sweeps expired entries every interval until ctx is done.
func (s *MemoryQuotaStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if removed := s.Sweep(now); removed > 0 {
					s.logger.Debug("Swept expired usage entries", zap.Int("removed", removed))
				}
			}
		}
	}()
}

func (s *MemoryQuotaStore) Ping(context.Context) error { return nil }

func (s *MemoryQuotaStore) Close() error { return nil }
