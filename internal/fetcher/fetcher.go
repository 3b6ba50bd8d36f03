// Package fetcher performs rate-limited HTTP requests against document
// sources and classifies failures for the retry layer.
package fetcher

import (
	"context"
	"net/http"
	"net/url"
)

// Fetcher defines the HTTP operations the crawler and retriever need.
type Fetcher interface {
	// Get fetches rawURL and returns the full response.
	Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error)

	// PostForm submits form values to rawURL and returns the full response.
	PostForm(ctx context.Context, rawURL string, form url.Values, opts ...RequestOption) (*Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// ContentType returns the response Content-Type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Text returns the body decoded to UTF-8 according to the declared charset.
func (r *Response) Text() (string, error) {
	return DecodeBody(r.Body, r.ContentType())
}

// RequestOption adjusts an outgoing request.
type RequestOption func(*http.Request)

// WithReferer sets the Referer header.
func WithReferer(ref string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Referer", ref)
	}
}

// WithHeader sets an arbitrary header.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}
