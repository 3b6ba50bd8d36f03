package resilience

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Kind classifies a failure for retry and escalation decisions.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindTransient      Kind = "transient"       // retryable, bounded
	KindRateLimit      Kind = "rate_limit"      // retryable with provider backoff
	KindDataShape      Kind = "data_shape"      // source layout drift; degrade and continue
	KindQuotaExhausted Kind = "quota_exhausted" // abort the remaining batch
	KindLogic          Kind = "logic"           // reported, never auto-corrected
)

// Error carries a Kind alongside the underlying error.
type Error struct {
	Kind       Kind
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *Error {
	return &Error{Kind: KindTransient, Err: err, StatusCode: statusCode}
}

// NewRateLimitError marks err as a rate-limit rejection. retryAfter may be 0.
func NewRateLimitError(err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Err: err, StatusCode: 429, RetryAfter: retryAfter}
}

// NewDataShapeError marks err as an unexpected source layout.
func NewDataShapeError(err error) *Error {
	return &Error{Kind: KindDataShape, Err: err}
}

// NewQuotaExhaustedError marks err as a hard quota stop.
func NewQuotaExhaustedError(err error) *Error {
	return &Error{Kind: KindQuotaExhausted, Err: err}
}

// NewLogicError marks err as a programming or invariant violation.
func NewLogicError(err error) *Error {
	return &Error{Kind: KindLogic, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, falling back
// to network heuristics for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if isNetworkTransient(err) {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient reports whether err is safe to retry: explicit transient and
// rate-limit errors plus network timeouts, resets and DNS failures.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimit:
		return true
	default:
		return false
	}
}

// IsRateLimit reports whether err is a rate-limit rejection.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

// IsDataShape reports whether err is a source layout error.
func IsDataShape(err error) bool { return KindOf(err) == KindDataShape }

// IsQuotaExhausted reports whether err must abort the batch.
func IsQuotaExhausted(err error) bool { return KindOf(err) == KindQuotaExhausted }

// IsLogic reports whether err is a logic error.
func IsLogic(err error) bool { return KindOf(err) == KindLogic }

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

func isNetworkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

// FromHTTPStatus wraps err according to an HTTP status code. Non-retryable
// statuses return err unchanged.
func FromHTTPStatus(err error, statusCode int, retryAfter time.Duration) error {
	switch {
	case statusCode == 429:
		return NewRateLimitError(err, retryAfter)
	case IsTransientHTTPStatus(statusCode):
		return NewTransientError(err, statusCode)
	default:
		return err
	}
}

var (
	retryHeaderRe = regexp.MustCompile(`(?i)retry[-_ ]?after["':\s]+(\d+(?:\.\d+)?)`)
	retryDelayRe  = regexp.MustCompile(`(?i)retryDelay["':\s]+"?(\d+(?:\.\d+)?)s`)
	secondsRe     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:seconds?|secs?)\b`)
)

// ParseRetryAfter extracts a wait hint from a provider error message or a
// Retry-After header value. ok is false when no hint is present.
func ParseRetryAfter(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	for _, re := range []*regexp.Regexp{retryHeaderRe, retryDelayRe, secondsRe} {
		if m := re.FindStringSubmatch(s); m != nil {
			secs, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				return time.Duration(secs * float64(time.Second)), true
			}
		}
	}
	return 0, false
}

// ClampRetryAfter pads a provider hint by 2s and bounds it to [lo, hi].
func ClampRetryAfter(d, lo, hi time.Duration) time.Duration {
	d += 2 * time.Second
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
