package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"statement-converter/internal/api"
	"statement-converter/internal/api/handlers"
	"statement-converter/internal/models"
	"statement-converter/internal/repository"
	"statement-converter/internal/service"
	"statement-converter/pkg/auth"
	"statement-converter/pkg/config"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type countingExtractor struct{ calls int }

func (e *countingExtractor) Extract(context.Context, []byte) ([]models.Transaction, error) {
	e.calls++
	return nil, nil
}

func TestUploadContentType(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     []byte
		want     string
	}{
		{"pdf extension", "march.PDF", []byte("%PDF-1.4"), "application/pdf"},
		{"png extension", "photo.png", pngHeader, "image/png"},
		{"no extension pdf bytes", "statement", []byte("%PDF-1.4\n"), "application/pdf"},
		{"no extension png bytes", "scan", pngHeader, "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uploadContentType(tt.fileName, tt.data))
		})
	}
}

func TestControllerDeclaresFileType(t *testing.T) {
	var declared string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		declared = header.Header.Get("Content-Type")
		_, _ = w.Write([]byte("Date,Description,Debit,Credit,Balance"))
	}))
	defer srv.Close()

	c := newController(srv, &recorder{}, nil)
	_, err := c.Convert(context.Background(), "photo.png", pngHeader, models.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "image/png", declared)
}

func TestControllerNonPDFRejectedByServer(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{BodyLimit: 12 * 1024 * 1024},
		Limits: config.LimitsConfig{
			AnonymousDailyLimit:     3,
			AuthenticatedDailyLimit: 20,
			Window:                  24 * time.Hour,
			MaxUploadBytes:          10 * 1024 * 1024,
			IdentifierSalt:          "salt",
		},
	}
	log := zap.NewNop()
	extractor := &countingExtractor{}
	limiter := service.NewUsageLimiter(repository.NewMemoryQuotaStore(100, log), &cfg.Limits, log)
	identities := service.NewIdentityResolver(cfg.Limits.IdentifierSalt)
	app := api.SetupRouter(
		handlers.NewConversionHandler(service.NewConversionService(limiter, extractor, cfg.Limits.MaxUploadBytes, time.Second, log), identities, log),
		handlers.NewUsageHandler(limiter, identities, log),
		auth.NewJWTManager("", "", ""),
		cfg,
		log,
	)

	srv := httptest.NewServer(adaptor.FiberApp(app))
	defer srv.Close()

	c := newController(srv, &recorder{}, nil)
	_, err := c.Convert(context.Background(), "photo.png", pngHeader, models.FormatCSV)

	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, "Only PDF files are supported", serr.Message)
	assert.Zero(t, extractor.calls)
}
