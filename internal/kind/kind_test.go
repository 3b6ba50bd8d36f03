package kind

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valueup-cli/internal/fetcher"
	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
)

type row struct {
	acptno  string
	date    string
	company string
	code    string
	title   string
}

func listHTML(rows ...row) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="list"><thead><tr><th>번호</th><th>공시일자</th><th>회사명</th><th>공시제목</th></tr></thead><tbody>`)
	for i, r := range rows {
		fmt.Fprintf(&b, `<tr><td>%d</td><td>%s</td><td><a href="#" onclick="companysummary_open('%s')">%s</a></td>`+
			`<td><a href="#viewer" onclick="openDisclsViewer('%s','')" title="%s">%s</a></td></tr>`,
			i+1, r.date, r.code, r.company, r.acptno, r.title, r.title)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

// fakeFetcher serves list pages keyed by pageIndex and GETs keyed by URL.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	pageErrs map[string][]error
	gets     map[string]*fetcher.Response
	forms    []url.Values
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string, _ ...fetcher.RequestOption) (*fetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.gets[rawURL]; ok {
		return resp, nil
	}
	return nil, resilience.FromHTTPStatus(fmt.Errorf("http 404 from %s", rawURL), http.StatusNotFound, 0)
}

func (f *fakeFetcher) PostForm(_ context.Context, _ string, form url.Values, _ ...fetcher.RequestOption) (*fetcher.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms = append(f.forms, form)
	page := form.Get("pageIndex")
	if errs := f.pageErrs[page]; len(errs) > 0 {
		f.pageErrs[page] = errs[1:]
		return nil, errs[0]
	}
	return &fetcher.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(f.pages[page]),
	}, nil
}

func (f *fakeFetcher) pagesRequested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, form := range f.forms {
		out = append(out, form.Get("pageIndex"))
	}
	return out
}

func testClient(f fetcher.Fetcher, pageSize int) *Client {
	return NewClient(f, Options{
		BaseURL:          "https://kind.example",
		PageSize:         pageSize,
		OutOfWindowRatio: 0.5,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	})
}

func january() model.DateWindow {
	return model.DateWindow{
		Start: time.Date(2025, 1, 10, 0, 0, 0, 0, model.KST),
		End:   time.Date(2025, 1, 31, 23, 59, 59, 0, model.KST),
	}
}

func collect(t *testing.T, c *Client, w model.DateWindow, maxPages int) ([]model.DisclosureEntry, error) {
	t.Helper()
	var out []model.DisclosureEntry
	for e, err := range c.ListEntries(context.Background(), w, maxPages) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func TestListEntries_ParsesRows(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"1": listHTML(
			row{"20250120000123", "2025-01-20 15:30", "삼성전자", "005930", "기업가치 제고 계획(자율공시)"},
			row{"20250115000456", "2025-01-15", "현대차", "005380", "기업가치 제고 계획 이행현황"},
		),
	}}

	got, err := collect(t, testClient(f, 10), january(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	e := got[0]
	assert.Equal(t, "20250120000123", e.UniqueID)
	assert.Equal(t, "삼성전자", e.CompanyName)
	assert.Equal(t, "005930", e.StockCode)
	assert.Equal(t, "기업가치 제고 계획(자율공시)", e.Title)
	assert.Equal(t, "2025-01-20", e.ReportDate())
	assert.Equal(t, 15, e.PublishedAt.In(model.KST).Hour())
	assert.Equal(t, "https://kind.example/common/pdfDownload.do?acptNo=20250120000123&method=pdfDown", e.SourceDocumentURL)
	assert.Equal(t, "https://kind.example/common/disclsviewer.do?method=search&acptno=20250120000123", e.ViewerURL)

	forms := f.forms
	require.Len(t, forms, 1, "short page ends pagination")
	assert.Equal(t, "valueupDisclsStatSub", forms[0].Get("method"))
	assert.Equal(t, "2025-01-10", forms[0].Get("fromDate"))
	assert.Equal(t, "2025-01-31", forms[0].Get("toDate"))
	assert.Equal(t, "10", forms[0].Get("currentPageSize"))
}

func TestListEntries_StopsWhenMostlyOutOfWindow(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"1": listHTML(
			row{"1001", "2025-02-03", "미래전자", "111111", "기업가치 제고 계획"},
			row{"1002", "2025-01-30", "가나다", "222222", "기업가치 제고 계획"},
			row{"1003", "2025-01-25", "라마바", "333333", "기업가치 제고 계획"},
			row{"1004", "2025-01-20", "사아자", "444444", "기업가치 제고 계획"},
		),
		"2": listHTML(
			row{"1005", "2025-01-12", "차카타", "555555", "기업가치 제고 계획"},
			row{"1006", "2025-01-10", "파하", "666666", "기업가치 제고 계획"},
			row{"1007", "2025-01-09", "오래된", "777777", "기업가치 제고 계획"},
			row{"1008", "2025-01-05", "더오래된", "888888", "기업가치 제고 계획"},
		),
		"3": listHTML(
			row{"1009", "2025-01-02", "never", "999999", "기업가치 제고 계획"},
		),
	}}

	got, err := collect(t, testClient(f, 4), january(), 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.UniqueID)
	}
	assert.Equal(t, []string{"1002", "1003", "1004", "1005", "1006"}, ids, "future entry skipped, older entries dropped")
	assert.Equal(t, []string{"1", "2"}, f.pagesRequested(), "page 3 never requested")
}

func TestListEntries_MaxPages(t *testing.T) {
	full := listHTML(
		row{"1", "2025-01-20", "a", "000001", "t"},
		row{"2", "2025-01-20", "b", "000002", "t"},
	)
	f := &fakeFetcher{pages: map[string]string{"1": full, "2": full, "3": full}}

	got, err := collect(t, testClient(f, 2), january(), 2)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, []string{"1", "2"}, f.pagesRequested())
}

func TestListEntries_EmptyPageEnds(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"1": listHTML()}}
	got, err := collect(t, testClient(f, 10), january(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListEntries_UnrecognizedLayoutIsEmpty(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"1": "<html><body><p>점검중</p></body></html>"}}
	got, err := collect(t, testClient(f, 10), january(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListEntries_RetriesTransientPageErrors(t *testing.T) {
	f := &fakeFetcher{
		pages: map[string]string{"1": listHTML(row{"42", "2025-01-20", "a", "000001", "t"})},
		pageErrs: map[string][]error{
			"1": {resilience.NewTransientError(fmt.Errorf("http 503"), http.StatusServiceUnavailable)},
		},
	}
	got, err := collect(t, testClient(f, 10), january(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"1", "1"}, f.pagesRequested())
}

func TestListEntries_FetchFailureKeepsCollected(t *testing.T) {
	transient := resilience.NewTransientError(fmt.Errorf("http 502"), http.StatusBadGateway)
	f := &fakeFetcher{
		pages: map[string]string{"1": listHTML(
			row{"1", "2025-01-21", "a", "000001", "t"},
			row{"2", "2025-01-20", "b", "000002", "t"},
		)},
		pageErrs: map[string][]error{"2": {transient, transient, transient}},
	}

	got, err := collect(t, testClient(f, 2), january(), 0)
	require.Error(t, err)
	assert.Len(t, got, 2)
	assert.True(t, IsFetchFailure(err))

	var ff *FetchFailure
	require.ErrorAs(t, err, &ff)
	assert.Equal(t, 2, ff.Page)
	assert.Equal(t, 2, ff.Collected)
	assert.True(t, resilience.IsTransient(err))
}

func TestListEntries_ConsumerStopsEarly(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"1": listHTML(
		row{"1", "2025-01-21", "a", "000001", "t"},
		row{"2", "2025-01-20", "b", "000002", "t"},
	)}}
	n := 0
	for _, err := range testClient(f, 2).ListEntries(context.Background(), january(), 0) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"1"}, f.pagesRequested())
}

func TestAttachmentURL(t *testing.T) {
	entry := model.DisclosureEntry{UniqueID: "20250120000123", ViewerURL: ViewerURL("https://kind.example", "20250120000123")}

	t.Run("main doc select", func(t *testing.T) {
		f := &fakeFetcher{gets: map[string]*fetcher.Response{
			entry.ViewerURL: {Header: http.Header{}, Body: []byte(
				`<select id="mainDoc"><option value="">선택</option><option value="20250120000777|Y">본문</option></select>`)},
		}}
		got, err := testClient(f, 10).AttachmentURL(context.Background(), entry)
		require.NoError(t, err)
		assert.Equal(t, "https://kind.example/common/pdfDownload.do?acptNo=20250120000123&docNo=20250120000777&method=pdfDown", got)
	})

	t.Run("explicit link", func(t *testing.T) {
		f := &fakeFetcher{gets: map[string]*fetcher.Response{
			entry.ViewerURL: {Header: http.Header{}, Body: []byte(`<a href="/files/plan.pdf">첨부</a>`)},
		}}
		got, err := testClient(f, 10).AttachmentURL(context.Background(), entry)
		require.NoError(t, err)
		assert.Equal(t, "https://kind.example/files/plan.pdf", got)
	})

	t.Run("none", func(t *testing.T) {
		f := &fakeFetcher{gets: map[string]*fetcher.Response{
			entry.ViewerURL: {Header: http.Header{}, Body: []byte(`<html><body>본문 없음</body></html>`)},
		}}
		_, err := testClient(f, 10).AttachmentURL(context.Background(), entry)
		assert.ErrorIs(t, err, ErrNoAttachment)
	})

	t.Run("no viewer", func(t *testing.T) {
		_, err := testClient(&fakeFetcher{}, 10).AttachmentURL(context.Background(), model.DisclosureEntry{UniqueID: "x"})
		assert.ErrorIs(t, err, ErrNoAttachment)
	})
}

func TestListEntries_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/valueup/disclsstat.do", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(listHTML(row{"77", "2025-01-20 09:00", "에이비씨", "000660", "기업가치 제고 계획"})))
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{DefaultRate: 1000})
	c := NewClient(f, Options{BaseURL: srv.URL, PageSize: 10})
	got, err := collect(t, c, january(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "000660", got[0].StockCode)
	assert.True(t, strings.HasPrefix(got[0].SourceDocumentURL, srv.URL))
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("application/pdf", nil))
	assert.True(t, IsPDF("application/octet-stream", []byte("%PDF-1.4")))
	assert.False(t, IsPDF("text/html", []byte("<html>")))
}
