package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"statement-converter/internal/models"
	"statement-converter/internal/repository"
	"statement-converter/pkg/config"

	"go.uber.org/zap"
)

var testLimits = config.LimitsConfig{
	AnonymousDailyLimit:     3,
	AuthenticatedDailyLimit: 20,
	Window:                  24 * time.Hour,
	MaxUploadBytes:          10 * 1024 * 1024,
	IdentifierSalt:          "test-salt",
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *fakeClock) *UsageLimiter {
	l := NewUsageLimiter(repository.NewMemoryQuotaStore(100, zap.NewNop()), &testLimits, zap.NewNop())
	l.SetClock(clock.Now)
	return l
}

// brokenStore fails every call.
type brokenStore struct{}

var errBroken = errors.New("connection refused")

func (brokenStore) Increment(context.Context, string, int, time.Duration, time.Time) (models.UsageRecord, bool, error) {
	return models.UsageRecord{}, false, errBroken
}

func (brokenStore) Peek(context.Context, string, time.Time) (models.UsageRecord, bool, error) {
	return models.UsageRecord{}, false, errBroken
}

func (brokenStore) Ping(context.Context) error { return errBroken }
func (brokenStore) Close() error               { return nil }

// stubExtractor returns canned results and records what it saw.
type stubExtractor struct {
	mu           sync.Mutex
	transactions []models.Transaction
	err          error
	calls        int
	lastPDF      []byte
	block        bool
}

func (s *stubExtractor) Extract(ctx context.Context, pdf []byte) ([]models.Transaction, error) {
	s.mu.Lock()
	s.calls++
	s.lastPDF = pdf
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, upstreamFailure(ctx.Err())
	}
	return s.transactions, s.err
}

func (s *stubExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pdfUpload(name string, data []byte) *Upload {
	return &Upload{
		FileName:    name,
		ContentType: "application/pdf",
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func amount(v float64) *float64 {
	return &v
}
