package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"statement-converter/internal/models"
	"statement-converter/pkg/config"

	"github.com/Role1776/gigago"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	gigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	gigaChatBaseURL  = "https://gigachat.devices.sberbank.ru/api/v1"

	// refresh a little before the provider expires the token
	gigaChatTokenSkew = time.Minute
)

const transcribePrompt = `Extract all text from this PDF bank statement.

REQUIREMENTS:
1. Return ONLY the text contained in the document
2. Do NOT add comments, explanations or error messages
3. Keep every transaction row: dates, descriptions, amounts and balances
4. Render tables as plain text, one row per line
5. If the document is empty or unreadable, return an empty string`

const structurePrompt = `Statement text:
%s

Extract all transactions from this bank statement text. Return only the JSON array.`

// GigaChatExtractor runs a two-step extraction against GigaChat: the statement is uploaded and
// transcribed through the vision endpoint, then the text is structured into transactions by the
// generative model.
type GigaChatExtractor struct {
	client     *gigago.Client
	httpClient *http.Client
	oauthURL   string
	baseURL    string
	apiKey     string
	scope      string
	modelName  string
	logger     *zap.Logger

	// structure turns transcribed text into the model's JSON reply
	structure func(ctx context.Context, text string) (string, error)

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewGigaChatExtractor(ctx context.Context, cfg *config.GigaChatConfig, logger *zap.Logger) (*GigaChatExtractor, error) {
	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = extractionSystemPrompt
	model.Temperature = 0.1

	httpClient := &http.Client{}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	e := newGigaChatExtractor(httpClient, gigaChatOAuthURL, gigaChatBaseURL, cfg, logger)
	e.client = client
	e.structure = func(ctx context.Context, text string) (string, error) {
		resp, err := model.Generate(ctx, []gigago.Message{
			{Role: gigago.RoleUser, Content: fmt.Sprintf(structurePrompt, text)},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errEmptyCompletion
		}
		return resp.Choices[0].Message.Content, nil
	}

	logger.Info("GigaChat extractor ready", zap.String("model", cfg.Model))
	return e, nil
}

func newGigaChatExtractor(httpClient *http.Client, oauthURL, baseURL string, cfg *config.GigaChatConfig, logger *zap.Logger) *GigaChatExtractor {
	return &GigaChatExtractor{
		httpClient: httpClient,
		oauthURL:   oauthURL,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		scope:      cfg.Scope,
		modelName:  cfg.Model,
		logger:     logger,
		now:        time.Now,
	}
}

func (e *GigaChatExtractor) Extract(ctx context.Context, pdf []byte) ([]models.Transaction, error) {
	fileID, err := e.uploadFile(ctx, pdf)
	if err != nil {
		return nil, err
	}
	defer e.deleteFile(context.WithoutCancel(ctx), fileID)

	text, err := e.transcribe(ctx, fileID)
	if err != nil {
		return nil, err
	}

	text = sanitizeUTF8(strings.TrimSpace(text))
	if text == "" {
		e.logger.Warn("GigaChat returned no text for the statement")
		return []models.Transaction{}, nil
	}

	content, err := e.structure(ctx, text)
	if err != nil {
		return nil, classifyGigaChatError(fmt.Errorf("structure transactions: %w", err))
	}

	return parseTransactions(content, e.logger), nil
}

// token returns a cached access token, fetching a new one when it is missing or about to expire.
func (e *GigaChatExtractor) token(ctx context.Context) (string, error) {
	e.tokenMu.Lock()
	defer e.tokenMu.Unlock()

	if e.accessToken != "" && e.now().Before(e.tokenExpiry) {
		return e.accessToken, nil
	}

	form := url.Values{}
	form.Set("scope", e.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", upstreamFailure(fmt.Errorf("create OAuth request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.New().String())
	// the key is issued already Base64-encoded
	req.Header.Set("Authorization", "Basic "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", upstreamFailure(fmt.Errorf("request access token: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		e.logger.Error("OAuth request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return "", classifyStatus(resp.StatusCode, fmt.Errorf("OAuth failed with status %d", resp.StatusCode))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return "", upstreamFailure(fmt.Errorf("decode OAuth response: %w", err))
	}
	if oauthResp.AccessToken == "" {
		return "", upstreamFailure(fmt.Errorf("empty access token in OAuth response"))
	}

	expiry := e.now().Add(30 * time.Minute)
	if oauthResp.ExpiresAt > 0 {
		expiry = time.UnixMilli(oauthResp.ExpiresAt)
	}

	e.accessToken = oauthResp.AccessToken
	e.tokenExpiry = expiry.Add(-gigaChatTokenSkew)
	return e.accessToken, nil
}

func (e *GigaChatExtractor) invalidateToken() {
	e.tokenMu.Lock()
	e.accessToken = ""
	e.tokenMu.Unlock()
}

// do sends the request built by newRequest with a bearer token and retries once with a fresh
// token on 401.
func (e *GigaChatExtractor) do(ctx context.Context, newRequest func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := e.token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := newRequest()
		if err != nil {
			return nil, upstreamFailure(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return nil, upstreamFailure(err)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			e.invalidateToken()
			continue
		}
		return resp, nil
	}
}

func (e *GigaChatExtractor) uploadFile(ctx context.Context, pdf []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	// "general" makes the file usable as a chat attachment
	if err := writer.WriteField("purpose", "general"); err != nil {
		return "", upstreamFailure(fmt.Errorf("write purpose field: %w", err))
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", "application/pdf")
	header.Set("Content-Disposition", `form-data; name="file"; filename="statement.pdf"`)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", upstreamFailure(fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(pdf); err != nil {
		return "", upstreamFailure(fmt.Errorf("copy file: %w", err))
	}
	if err := writer.Close(); err != nil {
		return "", upstreamFailure(fmt.Errorf("close writer: %w", err))
	}

	resp, err := e.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/files", bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		e.logger.Error("GigaChat upload failed",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(errBody)),
		)
		return "", classifyStatus(resp.StatusCode, fmt.Errorf("upload failed with status %d", resp.StatusCode))
	}

	var uploadResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", upstreamFailure(fmt.Errorf("decode upload response: %w", err))
	}
	if uploadResp.ID == "" {
		return "", upstreamFailure(fmt.Errorf("upload response has no file id"))
	}

	e.logger.Debug("Statement uploaded to GigaChat", zap.String("file_id", uploadResp.ID))
	return uploadResp.ID, nil
}

func (e *GigaChatExtractor) transcribe(ctx context.Context, fileID string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"model": e.modelName,
		"messages": []map[string]interface{}{
			{
				"role":        "user",
				"content":     transcribePrompt,
				"attachments": []string{fileID},
			},
		},
		"temperature": 0.1,
		"stream":      false,
	})
	if err != nil {
		return "", upstreamFailure(fmt.Errorf("marshal request: %w", err))
	}

	resp, err := e.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		e.logger.Error("GigaChat vision request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(errBody)),
		)
		return "", classifyStatus(resp.StatusCode, fmt.Errorf("vision API failed with status %d", resp.StatusCode))
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", upstreamFailure(fmt.Errorf("decode vision response: %w", err))
	}
	if len(completion.Choices) == 0 {
		return "", upstreamFailure(errEmptyCompletion)
	}

	return completion.Choices[0].Message.Content, nil
}

// deleteFile removes the uploaded statement. Failures are logged only.
func (e *GigaChatExtractor) deleteFile(ctx context.Context, fileID string) {
	resp, err := e.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/files/"+url.PathEscape(fileID)+"/delete", nil)
	})
	if err != nil {
		e.logger.Warn("Failed to delete uploaded statement", zap.String("file_id", fileID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("Failed to delete uploaded statement",
			zap.String("file_id", fileID),
			zap.Int("status", resp.StatusCode),
		)
	}
}

// gigago reports non-2xx answers as "unexpected status <code>: <body>".
var gigagoStatus = regexp.MustCompile(`status (\d{3})`)

func classifyGigaChatError(err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	if m := gigagoStatus.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return classifyStatus(status, err)
	}
	return upstreamFailure(err)
}

func (e *GigaChatExtractor) Close() error {
	if e.client != nil {
		e.client.Close()
	}
	return nil
}
