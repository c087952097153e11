package dto

import "time"

// ErrorResponse is the JSON body of every failed conversion.
type ErrorResponse struct {
	Error     string `json:"error" example:"Rate limit exceeded"`
	Message   string `json:"message" example:"You've used all 3 free conversions. Sign in for more, or try again later."`
	Remaining *int   `json:"remaining,omitempty" example:"0"`
	Limit     *int   `json:"limit,omitempty" example:"3"`
}

type UsageResponse struct {
	Tier      string     `json:"tier" example:"anonymous"`
	Limit     int        `json:"limit" example:"3"`
	Used      int        `json:"used" example:"1"`
	Remaining int        `json:"remaining" example:"2"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

type HealthResponse struct {
	Status     string `json:"status" example:"ok"`
	QuotaStore string `json:"quota_store" example:"ok"`
}
