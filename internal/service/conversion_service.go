package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"statement-converter/internal/models"
	applog "statement-converter/pkg/logger"

	"go.uber.org/zap"
)

// Upload describes the submitted file. Open is called at most once and only after the upload
// passed validation.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

type ConversionRequest struct {
	Identity  models.Identity
	// Upload is nil when the request carried no file
	Upload    *Upload
	Format    models.OutputFormat
	RequestID string
}

type ConversionResult struct {
	Data             []byte
	MediaType        string
	FileName         string
	TransactionCount int
	RemainingQuota   int
}

// ConversionService runs admission, validation, extraction and encoding for one request.
type ConversionService struct {
	limiter        *UsageLimiter
	extractor      Extractor
	maxUploadBytes int64
	extractTimeout time.Duration
	logger         *zap.Logger
}

func NewConversionService(limiter *UsageLimiter, extractor Extractor, maxUploadBytes int64, extractTimeout time.Duration, logger *zap.Logger) *ConversionService {
	return &ConversionService{
		limiter:        limiter,
		extractor:      extractor,
		maxUploadBytes: maxUploadBytes,
		extractTimeout: extractTimeout,
		logger:         logger,
	}
}

// Convert returns a *ConversionError for every failure. Admission runs before validation, so
// an invalid upload still consumes one conversion.
func (s *ConversionService) Convert(ctx context.Context, req ConversionRequest) (*ConversionResult, error) {
	logger := applog.WithRequest(s.logger, req.RequestID).With(zap.String("tier", string(req.Identity.Tier)))

	limit := s.limiter.LimitFor(req.Identity)
	decision, err := s.limiter.CheckAndIncrement(ctx, req.Identity.Key, limit)
	if err != nil {
		logger.Error("Usage store unavailable, denying conversion", zap.Error(err))
		return nil, newUsageUnavailable(err)
	}
	if !decision.Allowed {
		logger.Info("Conversion denied by usage limit", zap.Int("limit", limit))
		return nil, newQuotaExceeded(req.Identity, limit)
	}

	if cerr := s.validate(req.Upload); cerr != nil {
		logger.Info("Upload rejected", zap.String("reason", cerr.Title))
		return nil, cerr
	}

	data, err := s.read(req.Upload)
	if err != nil {
		var cerr *ConversionError
		if errors.As(err, &cerr) {
			return nil, cerr
		}
		logger.Error("Failed to read upload", zap.Error(err))
		return nil, newUnclassified(err)
	}

	if pages, err := InspectPDF(data); err != nil {
		logger.Debug("Could not inspect PDF structure", zap.Error(err))
	} else {
		logger.Info("Statement received", zap.Int("pages", pages), zap.Int("bytes", len(data)))
	}

	extractCtx := ctx
	if s.extractTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, s.extractTimeout)
		defer cancel()
	}

	started := time.Now()
	transactions, err := s.extractor.Extract(extractCtx, data)
	if err != nil {
		logger.Error("Extraction failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return nil, fromExtractionError(err)
	}
	if len(transactions) == 0 {
		logger.Info("No transactions extracted")
		return nil, newNoTransactions()
	}

	encoded, err := Encode(transactions, req.Format)
	if err != nil {
		logger.Error("Encoding failed", zap.Error(err))
		return nil, newUnclassified(err)
	}

	logger.Info("Conversion completed",
		zap.Int("transactions", len(transactions)),
		zap.String("format", string(req.Format)),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &ConversionResult{
		Data:             encoded.Data,
		MediaType:        encoded.MediaType,
		FileName:         models.OutputFileName(req.Upload.FileName, models.OutputFormat(encoded.Extension)),
		TransactionCount: len(transactions),
		RemainingQuota:   decision.Remaining,
	}, nil
}

func (s *ConversionService) validate(upload *Upload) *ConversionError {
	if upload == nil || upload.Open == nil {
		return newInvalidUpload("No file provided")
	}
	if !strings.Contains(strings.ToLower(upload.ContentType), "pdf") {
		return newInvalidUpload("Only PDF files are supported")
	}
	if upload.Size > s.maxUploadBytes {
		return s.tooLarge()
	}
	return nil
}

func (s *ConversionService) tooLarge() *ConversionError {
	return newInvalidUpload(fmt.Sprintf("File size must be less than %dMB", s.maxUploadBytes/(1024*1024)))
}

// read loads the upload into memory, enforcing the size limit on the actual byte count.
func (s *ConversionService) read(upload *Upload) ([]byte, error) {
	rc, err := upload.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, s.tooLarge()
	}
	return data, nil
}
