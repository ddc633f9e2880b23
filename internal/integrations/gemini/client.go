// Package gemini is the chat transport: it replays a conversation to a Gemini
// model and returns the raw reply text.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/integrations/paramstore"
	"santa-workshop/internal/persona"
)

const defaultTimeout = 30 * time.Second

// modelsAPI is the slice of *genai.Models the client uses.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// StatusError carries the HTTP status of a failed API call.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// Client sends conversation turns to Gemini.
type Client struct {
	getter      paramstore.Getter
	paramPrefix string
	persona     *persona.Persona
	model       string
	timeout     time.Duration
	baseURL     string

	modelsOnce sync.Once
	models     modelsAPI
	modelsErr  error
}

type Option func(*Client)

// WithModel overrides the persona's model name.
func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

// withModels injects the generate API directly, skipping key resolution.
func withModels(m modelsAPI) Option {
	return func(c *Client) {
		c.models = m
		c.modelsOnce.Do(func() {})
	}
}

// NewClient creates a Client. The API key is read from
// <paramPrefix>/gemini-token on the first Send and reused for the lifetime of
// the process.
func NewClient(ps paramstore.Getter, paramPrefix string, p *persona.Persona, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	if err := persona.Check(p); err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	c := &Client{
		getter:      ps,
		paramPrefix: paramPrefix,
		persona:     p,
		model:       p.Model,
		timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-token"
}

func (c *Client) resolveModels(ctx context.Context) (modelsAPI, error) {
	c.modelsOnce.Do(func() {
		key, err := paramstore.FetchToken(ctx, c.getter, c.tokenParameterName())
		if err != nil {
			c.modelsErr = fmt.Errorf("gemini: resolve api key: %w", err)
			return
		}
		cfg := &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		}
		if c.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
		}
		client, err := genai.NewClient(ctx, cfg)
		if err != nil {
			c.modelsErr = fmt.Errorf("gemini: create client: %w", err)
			return
		}
		c.models = client.Models
	})
	return c.models, c.modelsErr
}

// Send replays history and the new input and returns the model's raw text.
func (c *Client) Send(ctx context.Context, history []domain.Turn, in domain.Input) (string, error) {
	models, err := c.resolveModels(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := models.GenerateContent(ctx, c.model, c.buildContents(history, in), c.generateConfig())
	if err != nil {
		return "", wrapAPIError(err)
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty reply")
	}
	return text, nil
}

func (c *Client) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(c.persona.SystemInstruction, genai.RoleUser),
		SafetySettings:    c.persona.SafetySettings(),
	}
}

func (c *Client) buildContents(history []domain.Turn, in domain.Input) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		if t.Synthetic {
			continue
		}
		if t.Speaker == domain.SpeakerAssistant {
			// The conversation sent to the model must open with a user turn.
			if len(contents) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromText(t.Text, genai.RoleModel))
			continue
		}
		var kind domain.MediaKind
		if t.Media != nil {
			kind = t.Media.Kind
		}
		contents = append(contents, genai.NewContentFromText(c.persona.PromptText(t.Text, kind, ""), genai.RoleUser))
	}

	var parts []*genai.Part
	var kind domain.MediaKind
	if in.Image != nil {
		parts = append(parts, genai.NewPartFromBytes(in.Image.Data, in.Image.MIMEType))
		kind = domain.MediaImage
	}
	if in.Audio != nil {
		parts = append(parts, genai.NewPartFromBytes(in.Audio.Data, in.Audio.MIMEType))
		kind = domain.MediaAudio
	}
	parts = append(parts, genai.NewPartFromText(c.persona.PromptText(in.Text, kind, in.Transcript)))
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
}

func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return &StatusError{StatusCode: apiErr.Code, Err: err}
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}
