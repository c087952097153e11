package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"statement-converter/internal/dto"
	"statement-converter/internal/models"

	"go.uber.org/zap"
)

type Step string

const (
	StepUploading  Step = "uploading"
	StepParsing    Step = "parsing"
	StepExtracting Step = "extracting"
	StepGenerating Step = "generating"
	StepComplete   Step = "complete"
)

const (
	defaultUploadPause = 200 * time.Millisecond

	fallbackRateLimited = "Rate limit exceeded. Try again tomorrow."
	fallbackFailed      = "Conversion failed"
)

var ErrConversionInProgress = errors.New("a conversion is already in progress")

// State is what a UI renders. Error is set once a conversion has failed.
type State struct {
	Step       Step
	Progress   int
	Error      string
	Processing bool
}

func (s State) Failed() bool {
	return s.Error != ""
}

type Result struct {
	Data                 []byte
	FileName             string
	TransactionCount     int
	RemainingConversions int
}

// ServerError is a non-2xx answer from the conversion endpoint.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

// TokenSource returns the caller's access token, or "" when signed out.
type TokenSource func(ctx context.Context) (string, error)

type Options struct {
	HTTPClient  *http.Client
	TokenSource TokenSource
	// OnChange is called synchronously after every state transition.
	OnChange func(State)
	// UploadPause is the delay after the first milestone; negative disables it.
	UploadPause time.Duration
	Logger      *zap.Logger
}

// Controller drives a single conversion at a time against the conversion endpoint and keeps
// the progress state a UI shows meanwhile. Progress values are milestones, not measurements.
type Controller struct {
	baseURL string
	opts    Options

	inFlight atomic.Bool
	mu       sync.Mutex
	state    State
}

func NewController(baseURL string, opts Options) *Controller {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.UploadPause == 0 {
		opts.UploadPause = defaultUploadPause
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		state:   State{Step: StepUploading},
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset returns to the initial state and clears any error.
func (c *Controller) Reset() {
	c.update(func(s *State) {
		*s = State{Step: StepUploading}
	})
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.state
	c.mu.Unlock()

	if c.opts.OnChange != nil {
		c.opts.OnChange(snapshot)
	}
}

func (c *Controller) advance(step Step, progress int) {
	c.update(func(s *State) {
		s.Step = step
		s.Progress = progress
	})
}

// Convert uploads data and returns the converted file. It fails with ErrConversionInProgress,
// without touching the state, while another conversion runs.
func (c *Controller) Convert(ctx context.Context, fileName string, data []byte, format models.OutputFormat) (*Result, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrConversionInProgress
	}
	defer c.inFlight.Store(false)

	result, err := c.convert(ctx, fileName, data, format)
	if err != nil {
		message := err.Error()
		if ctx.Err() != nil {
			message = "Conversion cancelled"
		}
		c.opts.Logger.Warn("Conversion failed", zap.Error(err))
		c.update(func(s *State) {
			s.Error = message
			s.Processing = false
		})
		return nil, err
	}

	c.update(func(s *State) {
		s.Step = StepComplete
		s.Progress = 100
		s.Processing = false
	})
	return result, nil
}

func (c *Controller) convert(ctx context.Context, fileName string, data []byte, format models.OutputFormat) (*Result, error) {
	c.update(func(s *State) {
		*s = State{Step: StepUploading, Processing: true}
	})

	c.advance(StepUploading, 10)
	if c.opts.UploadPause > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.UploadPause):
		}
	}
	c.advance(StepParsing, 20)

	body, contentType, err := multipartBody(fileName, data, format)
	if err != nil {
		return nil, err
	}

	c.advance(StepExtracting, 30)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	c.advance(StepExtracting, 40)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	c.advance(StepGenerating, 70)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, serverError(resp)
	}

	c.advance(StepGenerating, 90)

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Result{
		Data:                 payload,
		FileName:             ResultFileName(fileName, format),
		TransactionCount:     headerInt(resp.Header, "X-Transactions-Count"),
		RemainingConversions: headerInt(resp.Header, "X-Remaining-Conversions"),
	}, nil
}

func (c *Controller) authorize(ctx context.Context, req *http.Request) error {
	if c.opts.TokenSource == nil {
		return nil
	}
	token, err := c.opts.TokenSource(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// Usage fetches the caller's current allowance.
func (c *Controller) Usage(ctx context.Context) (*dto.UsageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/usage", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	var usage dto.UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &usage, nil
}

func multipartBody(fileName string, data []byte, format models.OutputFormat) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, strings.ReplaceAll(fileName, `"`, "")))
	header.Set("Content-Type", uploadContentType(fileName, data))
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.WriteField("format", string(format)); err != nil {
		return nil, "", fmt.Errorf("write format: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &body, w.FormDataContentType(), nil
}

// uploadContentType declares the file's type the way a browser would: from the extension, then
// from the content.
func uploadContentType(fileName string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// serverError renders the server-supplied message, with local fallbacks.
func serverError(resp *http.Response) *ServerError {
	var body dto.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)

	message := body.Message
	if resp.StatusCode == http.StatusTooManyRequests {
		if message == "" {
			message = fallbackRateLimited
		}
		return &ServerError{StatusCode: resp.StatusCode, Message: message}
	}

	if message == "" {
		message = body.Error
	}
	if message == "" {
		message = fallbackFailed
	}
	return &ServerError{StatusCode: resp.StatusCode, Message: message}
}

func headerInt(h http.Header, key string) int {
	n, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return 0
	}
	return n
}

// ResultFileName is the local name for a converted upload. It matches the server's download name.
func ResultFileName(uploadName string, format models.OutputFormat) string {
	return models.OutputFileName(uploadName, format)
}
