package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/sells-group/valueup-cli/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := NewClient(context.Background(), "test-key", WithBaseURL(ts.URL))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func TestGenerateContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "systemInstruction")
		gen, _ := body["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", gen["responseMimeType"])

		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": `{"analysis_items":{}}`}}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 120, "candidatesTokenCount": 30},
		})
	})

	resp, err := c.GenerateContent(context.Background(), GenerateRequest{
		System:      "rubric",
		Prompt:      "filing text",
		Temperature: genai.Ptr[float32](0.1),
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"analysis_items":{}}`, resp.Text)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, int64(30), resp.Usage.OutputTokens)
}

func TestGenerateContent_EmptyIsDataShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{"finishReason": "SAFETY"}},
		})
	})

	_, err := c.GenerateContent(context.Background(), GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsDataShape(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  resilience.Kind
		after time.Duration
	}{
		{
			name: "per-minute rate limit with retry info",
			err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Resource has been exhausted",
				Details: []map[string]any{{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "13s"}}},
			kind:  resilience.KindRateLimit,
			after: 13 * time.Second,
		},
		{
			name: "daily quota",
			err:  genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded for metric generate_content_free_tier_requests, limit per day"},
			kind: resilience.KindQuotaExhausted,
		},
		{
			name: "server error",
			err:  genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "The model is overloaded."},
			kind: resilience.KindTransient,
		},
		{
			name: "bad request",
			err:  genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad"},
			kind: resilience.KindUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.kind, resilience.KindOf(err))
			assert.Equal(t, tt.after, resilience.RetryAfterOf(err))
		})
	}
}
