package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "valueup.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://kind.krx.co.kr", cfg.Kind.BaseURL)
	assert.Equal(t, 10, cfg.Kind.MaxPages)
	assert.InDelta(t, 0.5, cfg.Kind.OutOfWindowRatio, 0.001)
	assert.Equal(t, 3, cfg.Kind.PageRetries)
	assert.Equal(t, 60*time.Second, cfg.Kind.Timeout)
	assert.Equal(t, 0, cfg.Retriever.CacheTTLHours)
	assert.Equal(t, "anthropic", cfg.Classifier.Primary)
	assert.Equal(t, "gemini", cfg.Classifier.Secondary)
	assert.Equal(t, 3, cfg.Classifier.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Classifier.MinDelay)
	assert.Equal(t, 3, cfg.Classifier.CircuitThreshold)
	assert.Equal(t, 30000, cfg.Classifier.MaxInputChars)
	assert.True(t, cfg.Classifier.PDFDirect)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(8192), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.InDelta(t, 0.1, cfg.Gemini.Temperature, 0.0001)
	assert.Equal(t, "밸류업공시목록", cfg.Sheets.ListTab)
	assert.Equal(t, "밸류업공시분석", cfg.Sheets.ResultsTab)
	assert.Equal(t, "Framework", cfg.Sheets.FrameworkTab)
	assert.Equal(t, "ValueUp_analysis", cfg.Drive.PivotFolder)
	assert.Equal(t, 100, cfg.Archive.RowSlack)
	assert.False(t, cfg.Archive.PivotEnabled)
	assert.Equal(t, "sheets", cfg.Rubric.Source)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
  format: console
kind:
  out_of_window_ratio: 0.75
classifier:
  min_delay: 5s
  circuit_threshold: 5
archive:
  pivot_enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 0.75, cfg.Kind.OutOfWindowRatio, 0.001)
	assert.Equal(t, 5*time.Second, cfg.Classifier.MinDelay)
	assert.Equal(t, 5, cfg.Classifier.CircuitThreshold)
	assert.True(t, cfg.Archive.PivotEnabled)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Kind.MaxPages)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("VALUEUP_LOG_LEVEL", "warn")
	t.Setenv("VALUEUP_ANTHROPIC_KEY", "sk-ant-test")
	t.Setenv("VALUEUP_SHEETS_SPREADSHEET_ID", "sheet-123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
	assert.Equal(t, "sheet-123", cfg.Sheets.SpreadsheetID)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with defaults and credentials populated.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Kind.OutOfWindowRatio = 0.5
	cfg.Kind.MaxPages = 10
	cfg.Classifier.Primary = "anthropic"
	cfg.Classifier.MaxRetries = 3
	cfg.Classifier.CircuitThreshold = 3
	cfg.Archive.RowSlack = 100
	cfg.Rubric.Source = "sheets"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Sheets.SpreadsheetID = "sheet-id"
	cfg.Google.CredentialsFile = "/secrets/sa.json"
	return cfg
}

func TestValidate_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Google = GoogleConfig{}

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
	assert.Contains(t, err.Error(), "google.credentials_json")
}

func TestValidate_DryRunWithFileRubric(t *testing.T) {
	cfg := validDefaults()
	cfg.Rubric.Source = "file"
	cfg.Rubric.Path = "framework.yaml"
	cfg.Sheets.SpreadsheetID = ""
	cfg.Google = GoogleConfig{}

	assert.NoError(t, cfg.Validate("dry-run"))
}

func TestValidate_GeminiPrimaryNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Classifier.Primary = "gemini"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key")
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ratio zero", func(c *Config) { c.Kind.OutOfWindowRatio = 0 }},
		{"ratio above one", func(c *Config) { c.Kind.OutOfWindowRatio = 1.5 }},
		{"max pages", func(c *Config) { c.Kind.MaxPages = 0 }},
		{"retries", func(c *Config) { c.Classifier.MaxRetries = 0 }},
		{"circuit", func(c *Config) { c.Classifier.CircuitThreshold = 0 }},
		{"slack", func(c *Config) { c.Archive.RowSlack = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate("run"))
		})
	}
}
