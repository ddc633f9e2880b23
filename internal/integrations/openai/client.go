package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/integrations/paramstore"
)

const defaultSTTModel = "whisper-1"

// extensions maps recorder MIME types to a filename the transcription
// endpoint accepts; it sniffs the format from the extension.
var extensions = map[string]string{
	"audio/webm":  "webm",
	"audio/mp4":   "mp4",
	"audio/mpeg":  "mp3",
	"audio/ogg":   "ogg",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/m4a":   "m4a",
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client transcribes voice notes and moderates user text.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string
	sttModel    string

	apiOnce sync.Once
	api     *goopenai.Client
	apiErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithSTTModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.sttModel = m
		}
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched on the first call and reused for the
// lifetime of the process.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		sttModel:    defaultSTTModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// resolveAPI builds the SDK client on the first call and returns the cached
// result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPI(ctx context.Context) (*goopenai.Client, error) {
	c.apiOnce.Do(func() {
		key, err := paramstore.FetchToken(ctx, c.getter, c.tokenParameterName())
		if err != nil {
			c.apiErr = fmt.Errorf("openai: %w", err)
			return
		}
		cfg := goopenai.DefaultConfig(key)
		if c.baseURL != "" {
			cfg.BaseURL = apiBaseURL(c.baseURL)
		}
		if c.httpClient != nil {
			cfg.HTTPClient = c.httpClient
		}
		c.api = goopenai.NewClientWithConfig(cfg)
	})
	return c.api, c.apiErr
}

// apiBaseURL normalizes a host or versioned base into the SDK's /v1 form.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Transcribe converts a recorded voice note into text.
func (c *Client) Transcribe(ctx context.Context, audio domain.Blob) (string, error) {
	if len(audio.Data) == 0 {
		return "", errors.New("openai: audio must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}
	res, err := api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.sttModel,
		Reader:   bytes.NewReader(audio.Data),
		FilePath: "voice-note." + extensionFor(audio.MIMEType),
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcription request failed: %w", wrapStatus(err))
	}
	return strings.TrimSpace(res.Text), nil
}

// Moderate calls the Moderations API and returns true if the input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return false, err
	}
	res, err := api.Moderations(ctx, goopenai.ModerationRequest{Input: input})
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", wrapStatus(err))
	}
	if len(res.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return res.Results[0].Flagged, nil
}

func extensionFor(mimeType string) string {
	if ext, ok := extensions[mimeType]; ok {
		return ext
	}
	return "webm"
}

func wrapStatus(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
