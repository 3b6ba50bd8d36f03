// Package classifier scores a value-up filing against the rubric with a
// hosted LLM, retrying and falling back across providers.
package classifier

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// ProviderID names an LLM backend.
type ProviderID string

const (
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
)

// ParseProvider accepts a provider id case-insensitively. "claude" is an
// alias for anthropic.
func ParseProvider(s string) (ProviderID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return "", eris.Errorf("classifier: unknown provider %q", s)
	}
}

// Capabilities describe what input a provider accepts.
type Capabilities struct {
	// Documents is true when the provider reads PDF bytes directly.
	Documents bool
	// MinTextChars is the shortest text (in runes) worth sending.
	MinTextChars int
}

// Request is one provider call. PDF, when set, replaces the text body.
type Request struct {
	EntryID string
	System  string
	Prompt  string
	PDF     []byte
}

// Usage is token consumption and its priced cost for one call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
	CostUSD          float64
}

// Response is the raw provider reply.
type Response struct {
	Raw   string
	Model string
	Usage Usage
}

// Provider performs a single classification call.
type Provider interface {
	ID() ProviderID
	Capabilities() Capabilities
	Classify(ctx context.Context, req Request) (*Response, error)
}
