package classifier

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/cost"
	"github.com/sells-group/valueup-cli/internal/resilience"
	"github.com/sells-group/valueup-cli/pkg/gemini"
)

// GeminiOptions configures the Gemini provider.
type GeminiOptions struct {
	Model        string
	Temperature  float32
	MaxTokens    int32
	MinTextChars int
}

// GeminiProvider classifies extracted text with Gemini. It never reads PDFs.
type GeminiProvider struct {
	client gemini.Client
	calc   *cost.Calculator
	opts   GeminiOptions
}

// NewGeminiProvider wraps a gemini client.
func NewGeminiProvider(client gemini.Client, calc *cost.Calculator, opts GeminiOptions) *GeminiProvider {
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	if opts.MinTextChars <= 0 {
		opts.MinTextChars = 100
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &GeminiProvider{client: client, calc: calc, opts: opts}
}

func (p *GeminiProvider) ID() ProviderID { return ProviderGemini }

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{MinTextChars: p.opts.MinTextChars}
}

func (p *GeminiProvider) Classify(ctx context.Context, req Request) (*Response, error) {
	if len(req.PDF) > 0 {
		return nil, resilience.NewLogicError(eris.New("classifier: gemini provider does not accept documents"))
	}
	temp := p.opts.Temperature
	resp, err := p.client.GenerateContent(ctx, gemini.GenerateRequest{
		Model:           p.opts.Model,
		System:          req.System,
		Prompt:          req.Prompt,
		Temperature:     &temp,
		MaxOutputTokens: p.opts.MaxTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, err
	}

	costUSD := p.calc.Gemini(p.opts.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	zap.L().Info("cost attribution",
		zap.String("model", resp.Model),
		zap.String("phase", "classify"),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Float64("estimated_cost_usd", costUSD),
	)
	return &Response{
		Raw:   resp.Text,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CostUSD:      costUSD,
		},
	}, nil
}
