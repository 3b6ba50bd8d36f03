// Package cost prices provider usage and estimates input size.
package cost

import (
	"math"
	"unicode"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// WithOverrides returns a copy of c where models named in overrides use
// the given input/output prices. Unknown models are added to both
// provider tables so either lookup finds them.
func (c *Calculator) WithOverrides(overrides map[string]ModelRate) *Calculator {
	rates := Rates{
		Anthropic: make(map[string]ModelRate, len(c.rates.Anthropic)),
		Gemini:    make(map[string]ModelRate, len(c.rates.Gemini)),
	}
	for k, v := range c.rates.Anthropic {
		rates.Anthropic[k] = v
	}
	for k, v := range c.rates.Gemini {
		rates.Gemini[k] = v
	}
	for model, o := range overrides {
		_, inA := rates.Anthropic[model]
		_, inG := rates.Gemini[model]
		if inA || !inG {
			r := rates.Anthropic[model]
			r.Input, r.Output = o.Input, o.Output
			rates.Anthropic[model] = r
		}
		if inG || !inA {
			r := rates.Gemini[model]
			r.Input, r.Output = o.Input, o.Output
			rates.Gemini[model] = r
		}
	}
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Gemini computes the cost for a Gemini API call.
func (c *Calculator) Gemini(model string, input, output int64) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Characters per token. Korean text tokenizes far denser than English.
const (
	latinCharsPerToken  = 4.0
	hangulCharsPerToken = 1.5
)

// EstimateTokens approximates the token count of text. Hangul and other
// CJK runes count at hangulCharsPerToken, everything else at
// latinCharsPerToken.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	var dense, other int
	for _, r := range text {
		if unicode.Is(unicode.Hangul, r) || unicode.Is(unicode.Han, r) {
			dense++
		} else {
			other++
		}
	}
	est := float64(dense)/hangulCharsPerToken + float64(other)/latinCharsPerToken
	return int64(math.Ceil(est))
}

// EstimateDocumentTokens approximates tokens for a PDF sent as a document
// when no text is available, at about 1,500 tokens per 100KB.
func EstimateDocumentTokens(byteSize int) int64 {
	return int64(math.Ceil(float64(byteSize) / 100_000 * 1500))
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.0-flash":      {Input: 0.10, Output: 0.40},
			"gemini-2.5-flash":      {Input: 0.30, Output: 2.50},
			"gemini-2.5-flash-lite": {Input: 0.10, Output: 0.40},
			"gemini-2.5-pro":        {Input: 1.25, Output: 10.00},
		},
	}
}
