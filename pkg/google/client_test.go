package google

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const authorizedUserJSON = `{
  "type": "authorized_user",
  "client_id": "client.apps.googleusercontent.com",
  "client_secret": "secret",
  "refresh_token": "refresh"
}`

func TestCredentials(t *testing.T) {
	data, err := Credentials(`{"type":"service_account"}`, "/does/not/matter")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(data))

	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(authorizedUserJSON), 0o600))
	data, err = Credentials("", path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "authorized_user")

	_, err = Credentials("", "")
	assert.Error(t, err)

	_, err = Credentials("", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestTokenSource(t *testing.T) {
	ts, err := TokenSource(context.Background(), []byte(authorizedUserJSON))
	require.NoError(t, err)
	assert.NotNil(t, ts)

	_, err = TokenSource(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google: parse credentials")
}

func TestNewServices(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})

	s, err := NewSheetsService(context.Background(), ts)
	require.NoError(t, err)
	assert.NotNil(t, s.Spreadsheets)

	d, err := NewDriveService(context.Background(), ts)
	require.NoError(t, err)
	assert.NotNil(t, d.Files)
}
