// Package gemini wraps the Google Gen AI SDK for text-only JSON generation.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/valueup-cli/internal/resilience"
)

const defaultModel = "gemini-2.0-flash"

// Client generates content with a Gemini model.
type Client interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is a single-turn text request.
type GenerateRequest struct {
	Model           string
	System          string
	Prompt          string
	Temperature     *float32
	MaxOutputTokens int32
	// JSON requests an application/json response body.
	JSON bool
}

// GenerateResponse is the flattened model reply.
type GenerateResponse struct {
	Text         string
	Model        string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage reports token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Option configures the client.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPClient = hc
	}
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini Developer API client.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, o := range opts {
		o(cfg)
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{client: c}, nil
}

func (c *sdkClient) GenerateContent(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, classify(eris.Wrap(err, "gemini: generate content"))
	}

	out := &GenerateResponse{
		Text:  resp.Text(),
		Model: model,
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = TokenUsage{
			InputTokens:  int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
		}
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, resilience.NewDataShapeError(eris.Errorf("gemini: empty response (finish reason %q)", out.FinishReason))
	}
	return out, nil
}

// classify attaches a resilience kind to an API failure. Daily quota
// rejections are terminal; per-minute ones are rate limits.
func classify(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return err
	}

	msg := strings.ToLower(apiErr.Message)
	if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
		if strings.Contains(msg, "per day") || strings.Contains(msg, "perday") || strings.Contains(msg, "billing") {
			return resilience.NewQuotaExhaustedError(err)
		}
		return resilience.NewRateLimitError(err, retryDelay(apiErr))
	}
	if apiErr.Code == http.StatusForbidden && strings.Contains(msg, "billing") {
		return resilience.NewQuotaExhaustedError(err)
	}
	return resilience.FromHTTPStatus(err, apiErr.Code, 0)
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// retryDelay reads google.rpc.RetryInfo from the error details.
func retryDelay(apiErr genai.APIError) time.Duration {
	for _, d := range apiErr.Details {
		if s, ok := d["retryDelay"].(string); ok {
			if wait, ok := resilience.ParseRetryAfter(strings.TrimSuffix(s, "s")); ok {
				return wait
			}
		}
	}
	wait, _ := resilience.ParseRetryAfter(apiErr.Message)
	return wait
}
