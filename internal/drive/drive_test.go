package drive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
)

type fakeDrive struct {
	mu          sync.Mutex
	lists       []string
	creates     int
	uploads     int
	permissions int
	existing    map[string]string // name -> id
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
		q := r.URL.Query().Get("q")
		f.lists = append(f.lists, q)
		for name, id := range f.existing {
			if strings.Contains(q, "name = '"+name+"'") {
				_, _ = io.WriteString(w, `{"files":[{"id":"`+id+`","name":"`+name+`","webViewLink":"https://drive.example/`+id+`"}]}`)
				return
			}
		}
		_, _ = io.WriteString(w, `{"files":[]}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/permissions"):
		f.permissions++
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"anyone"`) {
			w.WriteHeader(http.StatusBadRequest)
		}
		_, _ = io.WriteString(w, `{"id":"perm"}`)
	case r.Method == http.MethodPost && r.URL.Query().Get("uploadType") != "":
		f.uploads++
		_, _ = io.WriteString(w, `{"id":"file-1","webViewLink":"https://drive.example/file-1"}`)
	case r.Method == http.MethodPost:
		f.creates++
		_, _ = io.WriteString(w, `{"id":"created-`+string(rune('0'+f.creates))+`"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestUploader(t *testing.T, fd *fakeDrive, share bool) *DriveUploader {
	t.Helper()
	srv := httptest.NewServer(fd)
	t.Cleanup(srv.Close)
	api, err := driveapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return New(api, Options{RootFolderID: "root", ShareAnyone: share, Retry: resilience.RetryConfig{MaxAttempts: 1}})
}

func testEntry() model.DisclosureEntry {
	return model.DisclosureEntry{
		UniqueID:    "20250115000123",
		CompanyName: "테스트/전자",
		StockCode:   "000660",
		PublishedAt: time.Date(2025, 1, 15, 16, 30, 0, 0, model.KST),
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "20250115_테스트_전자_20250115000123.pdf", FileName(testEntry()))

	// Decomposed Hangul is recomposed.
	e := testEntry()
	e.CompanyName = "\u1112\u1161\u11ab"
	assert.Equal(t, "20250115_한_20250115000123.pdf", FileName(e))
}

func TestUpload_CreatesFolderUploadsAndShares(t *testing.T) {
	fd := &fakeDrive{}
	u := newTestUploader(t, fd, true)
	doc := &model.ExtractedDocument{EntryID: "20250115000123", Bytes: []byte("%PDF-1.7")}

	ref, err := u.Upload(context.Background(), doc, testEntry())
	require.NoError(t, err)
	assert.Equal(t, "file-1", ref.FileID)
	assert.Equal(t, "https://drive.example/file-1", ref.URL)
	assert.False(t, ref.Local)

	assert.Equal(t, 1, fd.creates, "month folder")
	assert.Equal(t, 1, fd.uploads)
	assert.Equal(t, 1, fd.permissions)
	require.Len(t, fd.lists, 2)
	assert.Contains(t, fd.lists[0], "name = '2025-01'")
	assert.Contains(t, fd.lists[0], "'root' in parents")

	// Second upload in the same month hits the folder cache.
	_, err = u.Upload(context.Background(), doc, testEntry())
	require.NoError(t, err)
	assert.Equal(t, 1, fd.creates)
	assert.Len(t, fd.lists, 3)
}

func TestNew_EmptyRootDefaultsToMyDrive(t *testing.T) {
	fd := &fakeDrive{existing: map[string]string{"ValueUp_analysis": "analysis"}}
	srv := httptest.NewServer(fd)
	t.Cleanup(srv.Close)
	api, err := driveapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	u := New(api, Options{Retry: resilience.RetryConfig{MaxAttempts: 1}})

	_, _, err = u.EnsureSpreadsheet(context.Background(), "ValueUp_analysis", "테스트전자_000660")
	require.NoError(t, err)
	require.NotEmpty(t, fd.lists)
	assert.Contains(t, fd.lists[0], "'root' in parents")
	for _, q := range fd.lists {
		assert.NotContains(t, q, "'' in parents")
	}
}

func TestUpload_ReusesExistingFile(t *testing.T) {
	fd := &fakeDrive{existing: map[string]string{
		"2025-01": "month-folder",
		FileName(testEntry()): "already",
	}}
	u := newTestUploader(t, fd, true)

	ref, err := u.Upload(context.Background(), &model.ExtractedDocument{Bytes: []byte("%PDF")}, testEntry())
	require.NoError(t, err)
	assert.Equal(t, "already", ref.FileID)
	assert.Equal(t, 0, fd.uploads)
	assert.Equal(t, 0, fd.creates)
	assert.Equal(t, 0, fd.permissions)
}

func TestUpload_NoBytes(t *testing.T) {
	u := newTestUploader(t, &fakeDrive{}, false)
	_, err := u.Upload(context.Background(), &model.ExtractedDocument{}, testEntry())
	require.Error(t, err)
}

func TestEnsureSpreadsheet(t *testing.T) {
	fd := &fakeDrive{existing: map[string]string{"ValueUp_analysis": "analysis"}}
	u := newTestUploader(t, fd, false)

	id, created, err := u.EnsureSpreadsheet(context.Background(), "ValueUp_analysis", "테스트전자_000660")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "created-1", id)
	assert.Contains(t, fd.lists[1], "application/vnd.google-apps.spreadsheet")
	assert.Contains(t, fd.lists[1], "'analysis' in parents")

	fd.mu.Lock()
	fd.existing["테스트전자_000660"] = "sheet-9"
	fd.mu.Unlock()
	id, created, err = u.EnsureSpreadsheet(context.Background(), "ValueUp_analysis", "테스트전자_000660")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "sheet-9", id)
}

func TestDisabled(t *testing.T) {
	var u Uploader = Disabled{}
	assert.False(t, u.Enabled())

	ref, err := u.Upload(context.Background(), nil, testEntry())
	require.NoError(t, err)
	assert.True(t, ref.Local)
	assert.Equal(t, "local://cache/20250115000123.pdf", ref.URL)

	_, _, err = u.EnsureSpreadsheet(context.Background(), "f", "t")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `O\'Neil`, escape("O'Neil"))
}
