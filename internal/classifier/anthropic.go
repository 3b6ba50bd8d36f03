package classifier

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valueup-cli/internal/cost"
	"github.com/sells-group/valueup-cli/internal/resilience"
	"github.com/sells-group/valueup-cli/pkg/anthropic"
)

// AnthropicOptions configures the Claude provider.
type AnthropicOptions struct {
	Model     string
	MaxTokens int64
	// MinTextChars gates the text path; shorter text is not worth a call.
	MinTextChars int
}

// AnthropicProvider classifies with Claude. It accepts PDFs directly.
type AnthropicProvider struct {
	client anthropic.Client
	calc   *cost.Calculator
	opts   AnthropicOptions
}

// NewAnthropicProvider wraps an anthropic client.
func NewAnthropicProvider(client anthropic.Client, calc *cost.Calculator, opts AnthropicOptions) *AnthropicProvider {
	if opts.Model == "" {
		opts.Model = "claude-haiku-4-5-20251001"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	if opts.MinTextChars <= 0 {
		opts.MinTextChars = 500
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &AnthropicProvider{client: client, calc: calc, opts: opts}
}

func (p *AnthropicProvider) ID() ProviderID { return ProviderAnthropic }

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{Documents: true, MinTextChars: p.opts.MinTextChars}
}

func (p *AnthropicProvider) Classify(ctx context.Context, req Request) (*Response, error) {
	temp := 0.0
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.opts.Model,
		MaxTokens: p.opts.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(req.System),
		Messages: []anthropic.Message{
			{Role: "user", Content: req.Prompt, PDF: req.PDF},
		},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = p.opts.Model
	}
	u := resp.Usage
	costUSD := p.calc.Claude(model, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)
	u.LogCost(model, "classify", costUSD)

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, resilience.NewDataShapeError(eris.Errorf("classifier: anthropic returned no text (stop reason %q)", resp.StopReason))
	}
	return &Response{
		Raw:   text,
		Model: model,
		Usage: Usage{
			InputTokens:      u.InputTokens,
			OutputTokens:     u.OutputTokens,
			CacheWriteTokens: u.CacheCreationInputTokens,
			CacheReadTokens:  u.CacheReadInputTokens,
			CostUSD:          costUSD,
		},
	}, nil
}
