// Package drive archives disclosure PDFs and per-company spreadsheets in
// Google Drive.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
	"github.com/sells-group/valueup-cli/pkg/google"
)

const (
	folderMime      = "application/vnd.google-apps.folder"
	spreadsheetMime = "application/vnd.google-apps.spreadsheet"
)

// ErrDisabled is returned by operations that need Drive when it is not
// configured.
var ErrDisabled = eris.New("drive: disabled")

// Reference points at an archived document.
type Reference struct {
	FileID string
	URL    string
	// Local is set when the document was not uploaded.
	Local bool
}

// Uploader archives documents.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, doc *model.ExtractedDocument, e model.DisclosureEntry) (Reference, error)
	// EnsureSpreadsheet finds or creates a spreadsheet named title inside
	// the named folder under the root. created reports a new file.
	EnsureSpreadsheet(ctx context.Context, folder, title string) (id string, created bool, err error)
}

// Options configures a Drive uploader.
type Options struct {
	// RootFolderID defaults to "root", the caller's My Drive.
	RootFolderID string
	ShareAnyone  bool
	Retry        resilience.RetryConfig
}

// DriveUploader uploads to Google Drive.
type DriveUploader struct {
	api  *driveapi.Service
	opts Options

	mu      sync.Mutex
	folders map[string]string
}

// New returns a Drive uploader.
func New(api *driveapi.Service, opts Options) *DriveUploader {
	if opts.RootFolderID == "" {
		opts.RootFolderID = "root"
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("drive", "api")
	}
	return &DriveUploader{api: api, opts: opts, folders: make(map[string]string)}
}

func (u *DriveUploader) Enabled() bool { return true }

func (u *DriveUploader) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return resilience.Do(ctx, u.opts.Retry, func(ctx context.Context) error {
		return google.Classify(fn(ctx))
	})
}

// Upload stores the PDF under a YYYY-MM folder. An existing file with the
// same name is reused.
func (u *DriveUploader) Upload(ctx context.Context, doc *model.ExtractedDocument, e model.DisclosureEntry) (Reference, error) {
	if doc == nil || len(doc.Bytes) == 0 {
		return Reference{}, eris.Errorf("drive: %s has no document bytes", e.UniqueID)
	}
	month := e.PublishedAt.In(model.KST).Format("2006-01")
	folderID, err := u.ensureFolder(ctx, u.opts.RootFolderID, month)
	if err != nil {
		return Reference{}, err
	}

	name := FileName(e)
	existing, err := u.find(ctx, folderID, name, "")
	if err != nil {
		return Reference{}, err
	}
	if existing != nil {
		zap.L().Debug("drive: reusing uploaded file", zap.String("name", name), zap.String("id", existing.Id))
		return Reference{FileID: existing.Id, URL: existing.WebViewLink}, nil
	}

	var f *driveapi.File
	err = u.call(ctx, func(ctx context.Context) error {
		var err error
		f, err = u.api.Files.Create(&driveapi.File{
			Name:     name,
			MimeType: "application/pdf",
			Parents:  []string{folderID},
		}).
			Media(bytes.NewReader(doc.Bytes), googleapi.ContentType("application/pdf")).
			Fields("id", "webViewLink").
			SupportsAllDrives(true).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return Reference{}, eris.Wrapf(err, "drive: upload %s", name)
	}

	if u.opts.ShareAnyone {
		if err := u.shareAnyone(ctx, f.Id); err != nil {
			zap.L().Warn("drive: share failed", zap.String("id", f.Id), zap.Error(err))
		}
	}
	zap.L().Info("drive: uploaded", zap.String("name", name), zap.String("folder", month), zap.Int("bytes", len(doc.Bytes)))
	return Reference{FileID: f.Id, URL: f.WebViewLink}, nil
}

func (u *DriveUploader) EnsureSpreadsheet(ctx context.Context, folder, title string) (string, bool, error) {
	folderID, err := u.ensureFolder(ctx, u.opts.RootFolderID, folder)
	if err != nil {
		return "", false, err
	}
	f, err := u.find(ctx, folderID, title, spreadsheetMime)
	if err != nil {
		return "", false, err
	}
	if f != nil {
		return f.Id, false, nil
	}
	id, err := u.create(ctx, folderID, title, spreadsheetMime)
	if err != nil {
		return "", false, err
	}
	zap.L().Info("drive: created spreadsheet", zap.String("title", title), zap.String("id", id))
	return id, true, nil
}

// ensureFolder resolves a child folder by name, creating it when missing.
// Results are cached for the life of the uploader.
func (u *DriveUploader) ensureFolder(ctx context.Context, parent, name string) (string, error) {
	key := parent + "/" + name
	u.mu.Lock()
	id, ok := u.folders[key]
	u.mu.Unlock()
	if ok {
		return id, nil
	}

	f, err := u.find(ctx, parent, name, folderMime)
	if err != nil {
		return "", err
	}
	if f != nil {
		id = f.Id
	} else if id, err = u.create(ctx, parent, name, folderMime); err != nil {
		return "", err
	}

	u.mu.Lock()
	u.folders[key] = id
	u.mu.Unlock()
	return id, nil
}

func (u *DriveUploader) find(ctx context.Context, parent, name, mime string) (*driveapi.File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escape(name), escape(parent))
	if mime != "" {
		q += fmt.Sprintf(" and mimeType = '%s'", mime)
	}
	var list *driveapi.FileList
	err := u.call(ctx, func(ctx context.Context) error {
		var err error
		list, err = u.api.Files.List().
			Q(q).
			Fields("files(id, name, webViewLink)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "drive: find %s", name)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0], nil
}

func (u *DriveUploader) create(ctx context.Context, parent, name, mime string) (string, error) {
	var f *driveapi.File
	err := u.call(ctx, func(ctx context.Context) error {
		var err error
		f, err = u.api.Files.Create(&driveapi.File{
			Name:     name,
			MimeType: mime,
			Parents:  []string{parent},
		}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", eris.Wrapf(err, "drive: create %s", name)
	}
	return f.Id, nil
}

func (u *DriveUploader) shareAnyone(ctx context.Context, fileID string) error {
	return u.call(ctx, func(ctx context.Context) error {
		_, err := u.api.Permissions.Create(fileID, &driveapi.Permission{
			Type: "anyone",
			Role: "reader",
		}).SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

var unsafeChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_", "\n", " ", "\r", " ",
)

// FileName is the archive name for an entry's PDF:
// {YYYYMMDD}_{company}_{acptno}.pdf, NFC-normalized.
func FileName(e model.DisclosureEntry) string {
	company := strings.TrimSpace(unsafeChars.Replace(e.CompanyName))
	name := fmt.Sprintf("%s_%s_%s.pdf", e.PublishedAt.In(model.KST).Format("20060102"), company, e.UniqueID)
	return norm.NFC.String(name)
}

// Disabled keeps documents local. It is used when Drive is not configured.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Upload(_ context.Context, _ *model.ExtractedDocument, e model.DisclosureEntry) (Reference, error) {
	return Reference{URL: LocalURL(e.UniqueID), Local: true}, nil
}

func (Disabled) EnsureSpreadsheet(context.Context, string, string) (string, bool, error) {
	return "", false, ErrDisabled
}

// LocalURL is the reference recorded for documents that were not uploaded.
func LocalURL(uniqueID string) string {
	return "local://cache/" + uniqueID + ".pdf"
}
