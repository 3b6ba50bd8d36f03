package google

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/sells-group/valueup-cli/internal/resilience"
)

// Classify attaches a resilience kind to a Google API error. Other errors
// pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return err
	}
	if gErr.Code == http.StatusForbidden && isQuotaReason(gErr) {
		return resilience.NewRateLimitError(err, 0)
	}
	var wait time.Duration
	if gErr.Header != nil {
		wait, _ = resilience.ParseRetryAfter(gErr.Header.Get("Retry-After"))
	}
	return resilience.FromHTTPStatus(err, gErr.Code, wait)
}

// IsNotFound reports a 404 from a Google API.
func IsNotFound(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusNotFound
}

// isQuotaReason detects per-user rate limits, which Drive reports as 403.
func isQuotaReason(gErr *googleapi.Error) bool {
	for _, e := range gErr.Errors {
		if strings.Contains(e.Reason, "RateLimitExceeded") || e.Reason == "rateLimitExceeded" {
			return true
		}
	}
	return false
}
