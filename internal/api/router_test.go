package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"statement-converter/internal/api/handlers"
	"statement-converter/internal/dto"
	"statement-converter/internal/models"
	"statement-converter/internal/repository"
	"statement-converter/internal/service"
	"statement-converter/pkg/auth"
	"statement-converter/pkg/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cannedExtractor struct {
	transactions []models.Transaction
	err          error
	calls        int
}

func (e *cannedExtractor) Extract(context.Context, []byte) ([]models.Transaction, error) {
	e.calls++
	return e.transactions, e.err
}

type failingStore struct{ repository.QuotaStore }

func (failingStore) Increment(context.Context, string, int, time.Duration, time.Time) (models.UsageRecord, bool, error) {
	return models.UsageRecord{}, false, repository.ErrStoreUnavailable
}

func (failingStore) Peek(context.Context, string, time.Time) (models.UsageRecord, bool, error) {
	return models.UsageRecord{}, false, repository.ErrStoreUnavailable
}

func (failingStore) Ping(context.Context) error { return repository.ErrStoreUnavailable }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			BodyLimit:         12 * 1024 * 1024,
			TrustProxyHeaders: true,
		},
		Limits: config.LimitsConfig{
			AnonymousDailyLimit:     3,
			AuthenticatedDailyLimit: 20,
			Window:                  24 * time.Hour,
			MaxUploadBytes:          10 * 1024 * 1024,
			IdentifierSalt:          "salt",
		},
		Extractor: config.ExtractorConfig{Timeout: 5 * time.Second},
	}
}

func newTestApp(t *testing.T, store repository.QuotaStore, extractor service.Extractor) (*fiber.App, *auth.JWTManager) {
	t.Helper()
	return newTestAppWithConfig(t, testConfig(), store, extractor)
}

func newTestAppWithConfig(t *testing.T, cfg *config.Config, store repository.QuotaStore, extractor service.Extractor) (*fiber.App, *auth.JWTManager) {
	t.Helper()
	log := zap.NewNop()

	jwtManager := auth.NewJWTManager("secret", "", "")
	limiter := service.NewUsageLimiter(store, &cfg.Limits, log)
	identities := service.NewIdentityResolver(cfg.Limits.IdentifierSalt)
	conversions := service.NewConversionService(limiter, extractor, cfg.Limits.MaxUploadBytes, cfg.Extractor.Timeout, log)

	app := SetupRouter(
		handlers.NewConversionHandler(conversions, identities, log),
		handlers.NewUsageHandler(limiter, identities, log),
		jwtManager,
		cfg,
		log,
	)
	return app, jwtManager
}

func sampleTransactions() []models.Transaction {
	debit, balance := 45.5, 1234.5
	return []models.Transaction{{Date: "2024-01-15", Description: "GROCERY STORE", Debit: &debit, Balance: &balance}}
}

func convertRequest(t *testing.T, fileName, contentType string, data []byte, format string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if data != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	if format != "" {
		require.NoError(t, w.WriteField("format", format))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/convert", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	return req
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decodeError(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestConvertAnonymousQuota(t *testing.T) {
	extractor := &cannedExtractor{transactions: sampleTransactions()}
	app, _ := newTestApp(t, repository.NewMemoryQuotaStore(100, zap.NewNop()), extractor)
	pdf := append([]byte("%PDF-1.4\n"), make([]byte, 2*1024*1024)...)

	resp, body := do(t, app, convertRequest(t, "march.pdf", "application/pdf", pdf, "csv"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="march.csv"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "1", resp.Header.Get("X-Transactions-Count"))
	assert.Equal(t, "2", resp.Header.Get("X-Remaining-Conversions"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.True(t, strings.HasPrefix(string(body), "Date,Description,Debit,Credit,Balance\n"))

	for _, want := range []string{"1", "0"} {
		resp, _ = do(t, app, convertRequest(t, "march.pdf", "application/pdf", pdf, "csv"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, want, resp.Header.Get("X-Remaining-Conversions"))
	}

	resp, body = do(t, app, convertRequest(t, "march.pdf", "application/pdf", pdf, "csv"))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	errBody := decodeError(t, body)
	assert.Equal(t, "Rate limit exceeded", errBody["error"])
	assert.Equal(t, "You've used all 3 free conversions. Sign in for more, or try again later.", errBody["message"])
	assert.EqualValues(t, 0, errBody["remaining"])
	assert.EqualValues(t, 3, errBody["limit"])
	assert.Equal(t, 3, extractor.calls)
}

func TestConvertAuthenticatedTier(t *testing.T) {
	app, jwtManager := newTestApp(t, repository.NewMemoryQuotaStore(100, zap.NewNop()), &cannedExtractor{transactions: sampleTransactions()})
	token, err := jwtManager.GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)

	req := convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, body := do(t, app, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "19", resp.Header.Get("X-Remaining-Conversions"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `[{"date":"2024-01-15","description":"GROCERY STORE","debit":45.5,"credit":null,"balance":1234.5}]`, string(body))

	// a bad token silently falls back to the anonymous tier
	req = convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "xlsx")
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, _ = do(t, app, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-Remaining-Conversions"))
	assert.Equal(t, `attachment; filename="a.xlsx"`, resp.Header.Get("Content-Disposition"))
}

func TestConvertRejectsInvalidUploads(t *testing.T) {
	extractor := &cannedExtractor{transactions: sampleTransactions()}
	app, _ := newTestApp(t, repository.NewMemoryQuotaStore(100, zap.NewNop()), extractor)

	resp, body := do(t, app, convertRequest(t, "photo.png", "image/png", []byte("png"), "csv"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Only PDF files are supported", decodeError(t, body)["error"])

	resp, body = do(t, app, convertRequest(t, "", "", nil, "csv"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file provided", decodeError(t, body)["error"])

	resp, body = do(t, app, convertRequest(t, "big.pdf", "application/pdf", make([]byte, 10*1024*1024+1), "csv"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "File size must be less than 10MB", decodeError(t, body)["error"])

	assert.Zero(t, extractor.calls)

	// each rejected attempt was still charged
	resp, body = do(t, app, convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "csv"))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Rate limit exceeded", decodeError(t, body)["error"])
}

func TestBodyLimitStaysAboveUploadLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BodyLimit = 1024 * 1024
	assert.Equal(t, 11*1024*1024, bodyLimit(cfg))

	cfg.Server.BodyLimit = 32 * 1024 * 1024
	assert.Equal(t, 32*1024*1024, bodyLimit(cfg))
}

func TestConvertOversizedFileWithLowServerLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BodyLimit = 1024 * 1024
	extractor := &cannedExtractor{}
	app, _ := newTestAppWithConfig(t, cfg, repository.NewMemoryQuotaStore(100, zap.NewNop()), extractor)

	resp, body := do(t, app, convertRequest(t, "huge.pdf", "application/pdf", make([]byte, 10*1024*1024+512), "csv"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "File size must be less than 10MB", decodeError(t, body)["error"])
	assert.Zero(t, extractor.calls)
}

func TestConvertIgnoresForwardedForByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustProxyHeaders = false
	extractor := &cannedExtractor{transactions: sampleTransactions()}
	app, _ := newTestAppWithConfig(t, cfg, repository.NewMemoryQuotaStore(100, zap.NewNop()), extractor)

	for i := 0; i < 3; i++ {
		req := convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "csv")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		resp, _ := do(t, app, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	req := convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "csv")
	req.Header.Set("X-Forwarded-For", "198.51.100.99")
	resp, _ := do(t, app, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 3, extractor.calls)
}

func TestConvertNoTransactions(t *testing.T) {
	app, _ := newTestApp(t, repository.NewMemoryQuotaStore(100, zap.NewNop()), &cannedExtractor{transactions: []models.Transaction{}})

	resp, body := do(t, app, convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "csv"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errBody := decodeError(t, body)
	assert.Equal(t, "No transactions found", errBody["error"])
	assert.Equal(t, "Could not extract transactions from this document. Please ensure it's a valid bank statement.", errBody["message"])
	assert.NotContains(t, errBody, "remaining")
}

func TestConvertUpstreamRateLimited(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	extractor := service.NewGatewayExtractor(&config.GatewayConfig{URL: upstream.URL, APIKey: "k", Model: "m"}, upstream.Client(), zap.NewNop())
	app, _ := newTestApp(t, repository.NewMemoryQuotaStore(100, zap.NewNop()), extractor)

	resp, body := do(t, app, convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "csv"))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	errBody := decodeError(t, body)
	assert.Equal(t, "Rate limited", errBody["error"])
	assert.Equal(t, "Too many requests. Please try again later.", errBody["message"])
	assert.NotContains(t, errBody, "limit")
}

func TestConvertFailsClosed(t *testing.T) {
	extractor := &cannedExtractor{transactions: sampleTransactions()}
	app, _ := newTestApp(t, failingStore{}, extractor)

	resp, body := do(t, app, convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "csv"))
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Service unavailable", decodeError(t, body)["error"])
	assert.Zero(t, extractor.calls)

	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	app, _ := newTestApp(t, repository.NewMemoryQuotaStore(100, zap.NewNop()), &cannedExtractor{})

	req := httptest.NewRequest(http.MethodOptions, "/convert", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")

	resp, _ := do(t, app, req)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "x-client-info")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "authorization")
}

func TestUsageAndHealth(t *testing.T) {
	app, _ := newTestApp(t, repository.NewMemoryQuotaStore(100, zap.NewNop()), &cannedExtractor{transactions: sampleTransactions()})

	resp, _ := do(t, app, convertRequest(t, "a.pdf", "application/pdf", []byte("%PDF"), "csv"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/usage", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	resp, body := do(t, app, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var usage dto.UsageResponse
	require.NoError(t, json.Unmarshal(body, &usage))
	assert.Equal(t, "anonymous", usage.Tier)
	assert.Equal(t, 3, usage.Limit)
	assert.Equal(t, 1, usage.Used)
	assert.Equal(t, 2, usage.Remaining)
	assert.NotNil(t, usage.ResetAt)

	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","quota_store":"ok"}`, string(body))
}
