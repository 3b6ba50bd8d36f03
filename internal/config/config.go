package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Kind       KindConfig       `yaml:"kind" mapstructure:"kind"`
	Retriever  RetrieverConfig  `yaml:"retriever" mapstructure:"retriever"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Mistral    MistralConfig    `yaml:"mistral" mapstructure:"mistral"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Sheets     SheetsConfig     `yaml:"sheets" mapstructure:"sheets"`
	Drive      DriveConfig      `yaml:"drive" mapstructure:"drive"`
	Rubric     RubricConfig     `yaml:"rubric" mapstructure:"rubric"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Telegram   TelegramConfig   `yaml:"telegram" mapstructure:"telegram"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the local run ledger and document cache.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// KindConfig configures the KRX KIND list crawler.
type KindConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	ListPath          string        `yaml:"list_path" mapstructure:"list_path"`
	PageSize          int           `yaml:"page_size" mapstructure:"page_size"`
	MaxPages          int           `yaml:"max_pages" mapstructure:"max_pages"`
	OutOfWindowRatio  float64       `yaml:"out_of_window_ratio" mapstructure:"out_of_window_ratio"`
	PageRetries       int           `yaml:"page_retries" mapstructure:"page_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// RetrieverConfig configures document retrieval and caching.
type RetrieverConfig struct {
	CacheTTLHours int `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	MinTextChars  int `yaml:"min_text_chars" mapstructure:"min_text_chars"`
	MaxPDFBytes   int `yaml:"max_pdf_bytes" mapstructure:"max_pdf_bytes"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// ClassifierConfig configures provider selection and call pacing.
type ClassifierConfig struct {
	Primary          string        `yaml:"primary" mapstructure:"primary"`
	Secondary        string        `yaml:"secondary" mapstructure:"secondary"`
	MaxRetries       int           `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MinDelay         time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	CircuitThreshold int           `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	MaxInputChars    int           `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	PDFDirect        bool          `yaml:"pdf_direct" mapstructure:"pdf_direct"`
	MinFallbackChars int           `yaml:"min_fallback_chars" mapstructure:"min_fallback_chars"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	Temperature  float32 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int32   `yaml:"max_tokens" mapstructure:"max_tokens"`
	MinTextChars int     `yaml:"min_text_chars" mapstructure:"min_text_chars"`
}

// MistralConfig holds Mistral OCR settings.
type MistralConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	OCRModel string `yaml:"ocr_model" mapstructure:"ocr_model"`
}

// GoogleConfig holds Google Workspace credentials.
type GoogleConfig struct {
	CredentialsJSON string `yaml:"credentials_json" mapstructure:"credentials_json"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// SheetsConfig addresses the archive spreadsheet.
type SheetsConfig struct {
	SpreadsheetID   string  `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	ListTab         string  `yaml:"list_tab" mapstructure:"list_tab"`
	ResultsTab      string  `yaml:"results_tab" mapstructure:"results_tab"`
	FrameworkTab    string  `yaml:"framework_tab" mapstructure:"framework_tab"`
	WritesPerMinute float64 `yaml:"writes_per_minute" mapstructure:"writes_per_minute"`
}

// DriveConfig addresses the Drive archive.
type DriveConfig struct {
	RootFolderID string `yaml:"root_folder_id" mapstructure:"root_folder_id"`
	PivotFolder  string `yaml:"pivot_folder" mapstructure:"pivot_folder"`
	ShareAnyone  bool   `yaml:"share_anyone" mapstructure:"share_anyone"`
}

// RubricConfig selects where the framework is loaded from.
type RubricConfig struct {
	Source string `yaml:"source" mapstructure:"source"` // sheets, file, notion
	Path   string `yaml:"path" mapstructure:"path"`
}

// NotionConfig holds Notion credentials for the rubric database.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	RubricDB string `yaml:"rubric_db" mapstructure:"rubric_db"`
}

// ArchiveConfig configures archiver behavior.
type ArchiveConfig struct {
	RowSlack     int  `yaml:"row_slack" mapstructure:"row_slack"`
	PivotEnabled bool `yaml:"pivot_enabled" mapstructure:"pivot_enabled"`
	NoteMaxRunes int  `yaml:"note_max_runes" mapstructure:"note_max_runes"`
}

// TelegramConfig enables the run summary notification.
type TelegramConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	ChatID string `yaml:"chat_id" mapstructure:"chat_id"`
}

// PricingConfig overrides per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing is input/output pricing for one model.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Load reads configuration from config.yaml (optional) and VALUEUP_*
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VALUEUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "valueup.db")
	v.SetDefault("kind.base_url", "https://kind.krx.co.kr")
	v.SetDefault("kind.list_path", "/valueup/disclsstat.do")
	v.SetDefault("kind.page_size", 100)
	v.SetDefault("kind.max_pages", 10)
	v.SetDefault("kind.out_of_window_ratio", 0.5)
	v.SetDefault("kind.page_retries", 3)
	v.SetDefault("kind.requests_per_second", 1.0)
	v.SetDefault("kind.timeout", 60*time.Second)
	v.SetDefault("kind.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("retriever.cache_ttl_hours", 0)
	v.SetDefault("retriever.min_text_chars", 100)
	v.SetDefault("retriever.max_pdf_bytes", 32<<20)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("classifier.primary", "anthropic")
	v.SetDefault("classifier.secondary", "gemini")
	v.SetDefault("classifier.max_retries", 3)
	v.SetDefault("classifier.initial_backoff", 2*time.Second)
	v.SetDefault("classifier.min_delay", 2*time.Second)
	v.SetDefault("classifier.circuit_threshold", 3)
	v.SetDefault("classifier.max_input_chars", 30000)
	v.SetDefault("classifier.pdf_direct", true)
	v.SetDefault("classifier.min_fallback_chars", 500)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.max_tokens", 8192)
	v.SetDefault("gemini.min_text_chars", 100)
	v.SetDefault("mistral.ocr_model", "mistral-ocr-latest")
	v.SetDefault("sheets.list_tab", "밸류업공시목록")
	v.SetDefault("sheets.results_tab", "밸류업공시분석")
	v.SetDefault("sheets.framework_tab", "Framework")
	v.SetDefault("sheets.writes_per_minute", 55.0)
	v.SetDefault("drive.pivot_folder", "ValueUp_analysis")
	v.SetDefault("drive.share_anyone", true)
	v.SetDefault("rubric.source", "sheets")
	v.SetDefault("archive.row_slack", 100)
	v.SetDefault("archive.pivot_enabled", false)
	v.SetDefault("archive.note_max_runes", 100)

	// Registered so VALUEUP_* env vars reach Unmarshal.
	for _, key := range []string{
		"anthropic.key", "gemini.key", "mistral.key",
		"google.credentials_json", "google.credentials_file",
		"sheets.spreadsheet_id", "drive.root_folder_id",
		"rubric.path", "notion.token", "notion.rubric_db",
		"telegram.token", "telegram.chat_id",
	} {
		v.SetDefault(key, "")
	}
}

// Validate checks required settings for a mode ("run" or "dry-run") and
// range-checks tunables.
func (c *Config) Validate(mode string) error {
	var missing []string
	if c.Classifier.Primary == "anthropic" && c.Anthropic.Key == "" {
		missing = append(missing, "anthropic.key")
	}
	if c.Classifier.Primary == "gemini" && c.Gemini.Key == "" {
		missing = append(missing, "gemini.key")
	}
	if c.Rubric.Source == "sheets" || mode == "run" {
		if c.Sheets.SpreadsheetID == "" {
			missing = append(missing, "sheets.spreadsheet_id")
		}
		if !c.Google.HasCredentials() {
			missing = append(missing, "google.credentials_json|google.credentials_file")
		}
	}
	if c.Rubric.Source == "file" && c.Rubric.Path == "" {
		missing = append(missing, "rubric.path")
	}
	if c.Rubric.Source == "notion" && (c.Notion.Token == "" || c.Notion.RubricDB == "") {
		missing = append(missing, "notion.token", "notion.rubric_db")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required settings for %s: %s", mode, strings.Join(missing, ", "))
	}

	if c.Kind.OutOfWindowRatio <= 0 || c.Kind.OutOfWindowRatio > 1 {
		return eris.Errorf("config: kind.out_of_window_ratio must be in (0,1], got %v", c.Kind.OutOfWindowRatio)
	}
	if c.Kind.MaxPages < 1 {
		return eris.Errorf("config: kind.max_pages must be >= 1, got %d", c.Kind.MaxPages)
	}
	if c.Classifier.MaxRetries < 1 {
		return eris.Errorf("config: classifier.max_retries must be >= 1, got %d", c.Classifier.MaxRetries)
	}
	if c.Classifier.CircuitThreshold < 1 {
		return eris.Errorf("config: classifier.circuit_threshold must be >= 1, got %d", c.Classifier.CircuitThreshold)
	}
	if c.Archive.RowSlack < 0 {
		return eris.Errorf("config: archive.row_slack must be >= 0, got %d", c.Archive.RowSlack)
	}
	return nil
}

// HasCredentials reports whether any Google credential source is set.
func (g GoogleConfig) HasCredentials() bool {
	return g.CredentialsJSON != "" || g.CredentialsFile != ""
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
