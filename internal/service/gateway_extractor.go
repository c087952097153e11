package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"statement-converter/internal/models"
	"statement-converter/pkg/config"

	"go.uber.org/zap"
)

const maxErrorBodyBytes = 512

// GatewayExtractor calls an OpenAI-compatible chat completions endpoint with the statement
// attached as a data URL.
type GatewayExtractor struct {
	httpClient *http.Client
	url        string
	apiKey     string
	model      string
	maxTokens  int
	logger     *zap.Logger
}

func NewGatewayExtractor(cfg *config.GatewayConfig, httpClient *http.Client, logger *zap.Logger) *GatewayExtractor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GatewayExtractor{
		httpClient: httpClient,
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		logger:     logger,
	}
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (e *GatewayExtractor) Extract(ctx context.Context, pdf []byte) ([]models.Transaction, error) {
	payload := chatCompletionRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: []chatContentPart{
				{Type: "text", Text: extractionUserPrompt},
				{Type: "image_url", ImageURL: &chatImageURL{
					URL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
				}},
			}},
		},
		MaxTokens:   e.maxTokens,
		Temperature: 0.1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, upstreamFailure(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, upstreamFailure(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, upstreamFailure(fmt.Errorf("call gateway: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		e.logger.Error("AI gateway request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(errBody)),
		)
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("gateway returned status %d", resp.StatusCode))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, upstreamFailure(fmt.Errorf("decode response: %w", err))
	}

	content := "[]"
	if len(completion.Choices) > 0 {
		content = completion.Choices[0].Message.Content
	}

	return parseTransactions(content, e.logger), nil
}
