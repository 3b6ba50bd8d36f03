// Package kind crawls the KRX KIND value-up disclosure list and resolves
// filing documents.
package kind

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/fetcher"
	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
)

// DefaultBaseURL is the public KIND host.
const DefaultBaseURL = "https://kind.krx.co.kr"

// ErrNoAttachment means the viewer page exposes no attachment document.
var ErrNoAttachment = eris.New("kind: no attachment")

// FetchFailure aborts pagination after page retries are exhausted. Entries
// already yielded before the failure remain valid.
type FetchFailure struct {
	Page      int
	Collected int
	Err       error
}

func (f *FetchFailure) Error() string {
	return fmt.Sprintf("kind: fetch page %d failed after %d entries: %v", f.Page, f.Collected, f.Err)
}

func (f *FetchFailure) Unwrap() error { return f.Err }

// IsFetchFailure reports whether err carries a *FetchFailure.
func IsFetchFailure(err error) bool {
	var ff *FetchFailure
	return errors.As(err, &ff)
}

// Options configures the list crawler.
type Options struct {
	BaseURL  string
	ListPath string
	PageSize int
	// OutOfWindowRatio stops pagination once this share of a page is older
	// than the window start.
	OutOfWindowRatio float64
	Retry            resilience.RetryConfig
}

// Client lists value-up disclosures and resolves their documents.
type Client struct {
	fetch fetcher.Fetcher
	opts  Options
}

// NewClient creates a KIND client.
func NewClient(f fetcher.Fetcher, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ListPath == "" {
		opts.ListPath = "/valueup/disclsstat.do"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.OutOfWindowRatio <= 0 || opts.OutOfWindowRatio > 1 {
		opts.OutOfWindowRatio = 0.5
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("kind", "list page")
	}
	return &Client{fetch: f, opts: opts}
}

// ListEntries yields in-window entries newest-first. Iteration ends when a
// page is empty or short, when maxPages is reached, or when the share of
// entries older than the window start reaches OutOfWindowRatio. Entries
// newer than the window end are skipped without counting toward the ratio.
// A page that still fails after retries yields a *FetchFailure and stops.
func (c *Client) ListEntries(ctx context.Context, window model.DateWindow, maxPages int) iter.Seq2[model.DisclosureEntry, error] {
	return func(yield func(model.DisclosureEntry, error) bool) {
		log := zap.L().With(zap.String("window", window.String()))
		collected := 0
		for page := 1; maxPages <= 0 || page <= maxPages; page++ {
			entries, err := c.FetchPage(ctx, window, page)
			if err != nil {
				yield(model.DisclosureEntry{}, &FetchFailure{Page: page, Collected: collected, Err: err})
				return
			}
			if len(entries) == 0 {
				log.Debug("kind: empty page, end of list", zap.Int("page", page))
				return
			}

			older := 0
			for _, e := range entries {
				switch {
				case !window.Start.IsZero() && e.PublishedAt.Before(window.Start):
					older++
				case window.Contains(e.PublishedAt):
					collected++
					if !yield(e, nil) {
						return
					}
				}
			}

			ratio := float64(older) / float64(len(entries))
			log.Info("kind: page scanned",
				zap.Int("page", page),
				zap.Int("entries", len(entries)),
				zap.Int("older", older),
				zap.Float64("older_ratio", ratio),
			)
			if older == len(entries) || ratio >= c.opts.OutOfWindowRatio {
				return
			}
			if len(entries) < c.opts.PageSize {
				return
			}
		}
	}
}

// FetchPage fetches and parses one list page with retries. A page whose
// layout cannot be recognized returns zero entries.
func (c *Client) FetchPage(ctx context.Context, window model.DateWindow, page int) ([]model.DisclosureEntry, error) {
	form := url.Values{
		"method":          {"valueupDisclsStatSub"},
		"currentPageSize": {strconv.Itoa(c.opts.PageSize)},
		"pageIndex":       {strconv.Itoa(page)},
		"orderMode":       {"1"},
		"orderStat":       {"D"},
	}
	if !window.Start.IsZero() {
		form.Set("fromDate", window.Start.In(model.KST).Format("2006-01-02"))
	}
	if !window.End.IsZero() {
		form.Set("toDate", window.End.In(model.KST).Format("2006-01-02"))
	}

	resp, err := resilience.DoVal(ctx, c.opts.Retry, func(ctx context.Context) (*fetcher.Response, error) {
		return c.fetch.PostForm(ctx, c.opts.BaseURL+c.opts.ListPath, form, fetcher.WithReferer(c.opts.BaseURL+"/"))
	})
	if err != nil {
		return nil, eris.Wrapf(err, "kind: fetch page %d", page)
	}

	doc, err := c.document(resp)
	if err != nil {
		return nil, err
	}
	entries, err := parseListPage(doc, c.opts.BaseURL)
	if err != nil {
		zap.L().Warn("kind: list layout not recognized", zap.Int("page", page), zap.Error(err))
		return nil, nil
	}
	return entries, nil
}

// AttachmentURL resolves the attachment PDF for an entry from its viewer
// page. Returns ErrNoAttachment when the viewer exposes none.
func (c *Client) AttachmentURL(ctx context.Context, e model.DisclosureEntry) (string, error) {
	if e.ViewerURL == "" {
		return "", ErrNoAttachment
	}
	resp, err := resilience.DoVal(ctx, c.opts.Retry, func(ctx context.Context) (*fetcher.Response, error) {
		return c.fetch.Get(ctx, e.ViewerURL, fetcher.WithReferer(c.opts.BaseURL+"/"))
	})
	if err != nil {
		return "", eris.Wrapf(err, "kind: viewer %s", e.UniqueID)
	}
	doc, err := c.document(resp)
	if err != nil {
		return "", err
	}

	if links := parseAttachmentLinks(doc); len(links) > 0 {
		return c.absolute(links[0]), nil
	}
	if docNo := parseDocNo(doc); docNo != "" {
		return PDFURL(c.opts.BaseURL, e.UniqueID, docNo), nil
	}
	return "", ErrNoAttachment
}

// Download fetches a document with retries and returns the response.
func (c *Client) Download(ctx context.Context, rawURL string) (*fetcher.Response, error) {
	resp, err := resilience.DoVal(ctx, c.opts.Retry, func(ctx context.Context) (*fetcher.Response, error) {
		return c.fetch.Get(ctx, rawURL, fetcher.WithReferer(c.opts.BaseURL+"/"))
	})
	if err != nil {
		return nil, eris.Wrapf(err, "kind: download %s", rawURL)
	}
	return resp, nil
}

func (c *Client) document(resp *fetcher.Response) (*goquery.Document, error) {
	text, err := resp.Text()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(text)))
	if err != nil {
		return nil, resilience.NewDataShapeError(eris.Wrap(err, "kind: parse html"))
	}
	return doc, nil
}

func (c *Client) absolute(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.IsAbs() {
		return href
	}
	base, _ := url.Parse(c.opts.BaseURL + "/")
	return base.ResolveReference(u).String()
}

// PDFURL builds the KIND PDF download link for a receipt number and
// optional document number.
func PDFURL(base, acptno, docNo string) string {
	q := url.Values{"method": {"pdfDown"}, "acptNo": {acptno}}
	if docNo != "" {
		q.Set("docNo", docNo)
	}
	return strings.TrimRight(base, "/") + "/common/pdfDownload.do?" + q.Encode()
}

// ViewerURL builds the KIND disclosure viewer link.
func ViewerURL(base, acptno string) string {
	return strings.TrimRight(base, "/") + "/common/disclsviewer.do?method=search&acptno=" + url.QueryEscape(acptno)
}

// IsPDF reports whether a response body is a PDF by header or magic bytes.
func IsPDF(contentType string, body []byte) bool {
	return strings.Contains(strings.ToLower(contentType), "pdf") || bytes.HasPrefix(body, []byte("%PDF"))
}
