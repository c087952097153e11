package service

import (
	"errors"
	"fmt"
	"net/http"

	"statement-converter/internal/models"
)

// ErrorKind is the client-facing failure class of a conversion.
type ErrorKind string

const (
	KindInvalidUpload       ErrorKind = "invalid_upload"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindUpstreamRateLimited ErrorKind = "upstream_rate_limited"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindNoTransactions      ErrorKind = "no_transactions_found"
	KindUnclassified        ErrorKind = "unclassified"
)

// ConversionError is the only error type the conversion endpoint hands to clients.
type ConversionError struct {
	Kind      ErrorKind
	Title     string
	Message   string
	Remaining *int
	Limit     *int
	Cause     error
}

func (e *ConversionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Title, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Title)
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// StatusCode maps the kind to its HTTP status.
func (e *ConversionError) StatusCode() int {
	switch e.Kind {
	case KindInvalidUpload:
		return http.StatusBadRequest
	case KindQuotaExceeded, KindUpstreamRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindNoTransactions:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newInvalidUpload(title string) *ConversionError {
	return &ConversionError{Kind: KindInvalidUpload, Title: title, Message: title}
}

func newQuotaExceeded(identity models.Identity, limit int) *ConversionError {
	remaining := 0
	message := fmt.Sprintf("You've used all %d free conversions. Sign in for more, or try again later.", limit)
	if identity.Authenticated() {
		message = fmt.Sprintf("You've used all %d conversions for today. Try again later.", limit)
	}
	return &ConversionError{
		Kind:      KindQuotaExceeded,
		Title:     "Rate limit exceeded",
		Message:   message,
		Remaining: &remaining,
		Limit:     &limit,
	}
}

func newUsageUnavailable(cause error) *ConversionError {
	return &ConversionError{
		Kind:    KindUpstreamUnavailable,
		Title:   "Service unavailable",
		Message: "Usage tracking is temporarily unavailable. Please try again later.",
		Cause:   cause,
	}
}

func newNoTransactions() *ConversionError {
	return &ConversionError{
		Kind:    KindNoTransactions,
		Title:   "No transactions found",
		Message: "Could not extract transactions from this document. Please ensure it's a valid bank statement.",
	}
}

func newUnclassified(cause error) *ConversionError {
	return &ConversionError{
		Kind:    KindUnclassified,
		Title:   "Conversion failed",
		Message: "Something went wrong while converting your statement. Please try again.",
		Cause:   cause,
	}
}

// ExtractionKind classifies a failed model call.
type ExtractionKind string

const (
	ExtractionRateLimited    ExtractionKind = "rate_limited"
	ExtractionQuotaExhausted ExtractionKind = "quota_exhausted"
	ExtractionUpstreamError  ExtractionKind = "upstream_error"
)

// ExtractionError is returned by every Extractor on failure. StatusCode is the upstream HTTP
// status when one was received.
type ExtractionError struct {
	Kind       ExtractionKind
	StatusCode int
	Err        error
}

func (e *ExtractionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("extraction %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("extraction %s: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// classifyStatus turns a non-2xx upstream status into an ExtractionError.
func classifyStatus(status int, err error) *ExtractionError {
	switch status {
	case http.StatusTooManyRequests:
		return &ExtractionError{Kind: ExtractionRateLimited, StatusCode: status, Err: err}
	case http.StatusPaymentRequired:
		return &ExtractionError{Kind: ExtractionQuotaExhausted, StatusCode: status, Err: err}
	default:
		return &ExtractionError{Kind: ExtractionUpstreamError, StatusCode: status, Err: err}
	}
}

func upstreamFailure(err error) *ExtractionError {
	return &ExtractionError{Kind: ExtractionUpstreamError, Err: err}
}

// fromExtractionError translates extractor failures into the client taxonomy.
func fromExtractionError(err error) *ConversionError {
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		return newUnclassified(err)
	}

	switch ee.Kind {
	case ExtractionRateLimited:
		return &ConversionError{
			Kind:    KindUpstreamRateLimited,
			Title:   "Rate limited",
			Message: "Too many requests. Please try again later.",
			Cause:   err,
		}
	case ExtractionQuotaExhausted:
		return &ConversionError{
			Kind:    KindUpstreamUnavailable,
			Title:   "Service unavailable",
			Message: "Conversion service is temporarily unavailable.",
			Cause:   err,
		}
	default:
		return &ConversionError{
			Kind:    KindUnclassified,
			Title:   "Conversion failed",
			Message: "Failed to process document. Please try again.",
			Cause:   err,
		}
	}
}
