// Package google builds authenticated Google Sheets and Drive services.
package google

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scopes needed to read and write spreadsheets and upload files.
var Scopes = []string{sheets.SpreadsheetsScope, drive.DriveScope}

// Credentials resolves credential JSON from an inline value or a file path.
// Inline JSON wins when both are set.
func Credentials(inline, file string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, eris.New("google: no credentials configured")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "google: read credentials %s", file)
	}
	return data, nil
}

// TokenSource builds an oauth2.TokenSource from service-account or
// authorized-user JSON.
func TokenSource(ctx context.Context, credentialsJSON []byte, scopes ...string) (oauth2.TokenSource, error) {
	if len(scopes) == 0 {
		scopes = Scopes
	}
	creds, err := googleoauth.CredentialsFromJSON(ctx, credentialsJSON, scopes...)
	if err != nil {
		return nil, eris.Wrap(err, "google: parse credentials")
	}
	return creds.TokenSource, nil
}

// NewSheetsService creates a Sheets API service using the provided TokenSource.
func NewSheetsService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*sheets.Service, error) {
	svc, err := sheets.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "google: new sheets service")
	}
	return svc, nil
}

// NewDriveService creates a Drive API service using the provided TokenSource.
func NewDriveService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "google: new drive service")
	}
	return svc, nil
}
