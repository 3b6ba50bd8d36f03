package notion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valueup-cli/pkg/notion/mocks"
)

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*mocks.MockClient)(nil)
}

func TestNewClient_DefaultRateLimit(t *testing.T) {
	c, ok := NewClient("secret").(*notionClient)
	require.True(t, ok)
	require.NotNil(t, c.limiter)
	assert.InDelta(t, 3.0, float64(c.limiter.Limit()), 0.001)
}

func TestWithRateLimit(t *testing.T) {
	c := NewClient("secret", WithRateLimit(10)).(*notionClient)
	assert.InDelta(t, 10.0, float64(c.limiter.Limit()), 0.001)
	assert.Equal(t, 10, c.limiter.Burst())

	c = NewClient("secret", WithRateLimit(0)).(*notionClient)
	assert.Nil(t, c.limiter)
}

func TestQueryDatabase_ContextCancelledWhileThrottled(t *testing.T) {
	c := NewClient("secret", WithRateLimit(0.001)).(*notionClient)
	// Drain the single token so the next call must wait.
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.QueryDatabase(ctx, "db", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: rate limit")
}
