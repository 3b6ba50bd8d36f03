package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/archiver"
	"github.com/sells-group/valueup-cli/internal/classifier"
	"github.com/sells-group/valueup-cli/internal/cost"
	"github.com/sells-group/valueup-cli/internal/drive"
	"github.com/sells-group/valueup-cli/internal/fetcher"
	"github.com/sells-group/valueup-cli/internal/kind"
	"github.com/sells-group/valueup-cli/internal/ocr"
	"github.com/sells-group/valueup-cli/internal/pipeline"
	"github.com/sells-group/valueup-cli/internal/resilience"
	"github.com/sells-group/valueup-cli/internal/retriever"
	"github.com/sells-group/valueup-cli/internal/rubric"
	"github.com/sells-group/valueup-cli/internal/sheets"
	"github.com/sells-group/valueup-cli/internal/store"
	anthropicpkg "github.com/sells-group/valueup-cli/pkg/anthropic"
	"github.com/sells-group/valueup-cli/pkg/gemini"
	"github.com/sells-group/valueup-cli/pkg/google"
	"github.com/sells-group/valueup-cli/pkg/notion"
)

// runEnv holds the initialized store and pipeline for the run command.
type runEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// runSettings are the command-line overrides applied on top of cfg.
type runSettings struct {
	Provider  string
	Secondary string
	DryRun    bool
	Pivot     bool
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// workspace is the Google side: nil sheets and a disabled uploader when no
// credentials are configured.
type workspace struct {
	Sheets   *sheets.Service
	Uploader drive.Uploader
}

func initWorkspace(ctx context.Context) (*workspace, error) {
	if !cfg.Google.HasCredentials() {
		zap.L().Warn("google credentials not set, sheets and drive disabled")
		return &workspace{Uploader: drive.Disabled{}}, nil
	}
	raw, err := google.Credentials(cfg.Google.CredentialsJSON, cfg.Google.CredentialsFile)
	if err != nil {
		return nil, err
	}
	ts, err := google.TokenSource(ctx, raw, google.Scopes...)
	if err != nil {
		return nil, err
	}
	sheetsAPI, err := google.NewSheetsService(ctx, ts)
	if err != nil {
		return nil, err
	}
	driveAPI, err := google.NewDriveService(ctx, ts)
	if err != nil {
		return nil, err
	}
	return &workspace{
		Sheets: sheets.NewService(sheetsAPI, sheets.WithWritesPerMinute(cfg.Sheets.WritesPerMinute)),
		Uploader: drive.New(driveAPI, drive.Options{
			RootFolderID: cfg.Drive.RootFolderID,
			ShareAnyone:  cfg.Drive.ShareAnyone,
		}),
	}, nil
}

// initRubric selects the rubric source. sheet may be nil unless the
// source is "sheets".
func initRubric(sheet sheets.Client) (rubric.Source, error) {
	switch cfg.Rubric.Source {
	case "sheets", "":
		if sheet == nil {
			return nil, eris.New("rubric: sheets source requires google credentials and sheets.spreadsheet_id")
		}
		return &rubric.SheetSource{Sheet: sheet, Tab: cfg.Sheets.FrameworkTab}, nil
	case "file":
		return &rubric.FileSource{Path: cfg.Rubric.Path}, nil
	case "notion":
		return &rubric.NotionSource{Client: notion.NewClient(cfg.Notion.Token), DatabaseID: cfg.Notion.RubricDB}, nil
	default:
		return nil, eris.Errorf("rubric: unknown source %q", cfg.Rubric.Source)
	}
}

func newCalculator() *cost.Calculator {
	calc := cost.NewCalculator(cost.DefaultRates())
	if len(cfg.Pricing.Models) == 0 {
		return calc
	}
	overrides := make(map[string]cost.ModelRate, len(cfg.Pricing.Models))
	for model, p := range cfg.Pricing.Models {
		overrides[model] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return calc.WithOverrides(overrides)
}

func initProvider(ctx context.Context, id classifier.ProviderID, calc *cost.Calculator) (classifier.Provider, error) {
	switch id {
	case classifier.ProviderAnthropic:
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("classifier: anthropic.key is not set")
		}
		return classifier.NewAnthropicProvider(anthropicpkg.NewClient(cfg.Anthropic.Key), calc, classifier.AnthropicOptions{
			Model:        cfg.Anthropic.Model,
			MaxTokens:    cfg.Anthropic.MaxTokens,
			MinTextChars: cfg.Classifier.MinFallbackChars,
		}), nil
	case classifier.ProviderGemini:
		if cfg.Gemini.Key == "" {
			return nil, eris.New("classifier: gemini.key is not set")
		}
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, err
		}
		return classifier.NewGeminiProvider(client, calc, classifier.GeminiOptions{
			Model:        cfg.Gemini.Model,
			Temperature:  cfg.Gemini.Temperature,
			MaxTokens:    cfg.Gemini.MaxTokens,
			MinTextChars: cfg.Gemini.MinTextChars,
		}), nil
	default:
		return nil, eris.Errorf("classifier: unsupported provider %q", id)
	}
}

// initClassifier builds the primary provider and, when configured and
// usable, the secondary.
func initClassifier(ctx context.Context, s runSettings) (*classifier.Classifier, error) {
	primaryID, err := classifier.ParseProvider(s.Provider)
	if err != nil {
		return nil, err
	}
	calc := newCalculator()
	primary, err := initProvider(ctx, primaryID, calc)
	if err != nil {
		return nil, err
	}

	var secondary classifier.Provider
	if s.Secondary != "" && s.Secondary != "none" {
		secondaryID, err := classifier.ParseProvider(s.Secondary)
		if err != nil {
			return nil, err
		}
		if secondaryID != primaryID {
			secondary, err = initProvider(ctx, secondaryID, calc)
			if err != nil {
				zap.L().Warn("secondary provider unavailable, running without fallback", zap.String("provider", s.Secondary), zap.Error(err))
				secondary = nil
			}
		}
	}

	return classifier.New(primary, secondary, classifier.Options{
		MaxInputChars: cfg.Classifier.MaxInputChars,
		PDFDirect:     cfg.Classifier.PDFDirect,
		MinDelay:      cfg.Classifier.MinDelay,
		NoteMaxRunes:  cfg.Archive.NoteMaxRunes,
		Retry:         resilience.NewRetryConfig(cfg.Classifier.MaxRetries, cfg.Classifier.InitialBackoff, 0),
	}), nil
}

func newKindClient() *kind.Client {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   cfg.Kind.UserAgent,
		Timeout:     cfg.Kind.Timeout,
		DefaultRate: cfg.Kind.RequestsPerSecond,
	})
	return kind.NewClient(f, kind.Options{
		BaseURL:          cfg.Kind.BaseURL,
		ListPath:         cfg.Kind.ListPath,
		PageSize:         cfg.Kind.PageSize,
		OutOfWindowRatio: cfg.Kind.OutOfWindowRatio,
		Retry:            resilience.NewRetryConfig(cfg.Kind.PageRetries, 0, 0),
	})
}

// initRunEnv validates cfg for the run mode and wires every component.
// Callers should defer env.Close().
func initRunEnv(ctx context.Context, s runSettings) (*runEnv, error) {
	id, err := classifier.ParseProvider(s.Provider)
	if err != nil {
		return nil, err
	}
	cfg.Classifier.Primary = string(id)
	mode := "run"
	if s.DryRun {
		mode = "dry-run"
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &runEnv{Store: st}

	ws, err := initWorkspace(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	var (
		mainSheet sheets.Client
		archive   pipeline.Archive
	)
	if ws.Sheets != nil && cfg.Sheets.SpreadsheetID != "" {
		mainSheet = ws.Sheets.Open(cfg.Sheets.SpreadsheetID)
		archive = archiver.New(mainSheet, ws.Sheets, ws.Uploader, archiver.Options{
			ListTab:      cfg.Sheets.ListTab,
			ResultsTab:   cfg.Sheets.ResultsTab,
			PivotEnabled: cfg.Archive.PivotEnabled || s.Pivot,
			PivotFolder:  cfg.Drive.PivotFolder,
			RowSlack:     cfg.Archive.RowSlack,
			NoteMaxRunes: cfg.Archive.NoteMaxRunes,
		})
	}

	src, err := initRubric(mainSheet)
	if err != nil {
		env.Close()
		return nil, err
	}

	cls, err := initClassifier(ctx, s)
	if err != nil {
		env.Close()
		return nil, err
	}

	extractor, err := ocr.NewExtractor(cfg.OCR, cfg.Mistral)
	if err != nil {
		env.Close()
		return nil, err
	}

	kindClient := newKindClient()
	var cache retriever.Cache
	ttl := time.Duration(cfg.Retriever.CacheTTLHours) * time.Hour
	if ttl > 0 {
		cache = st
	}
	ret := retriever.New(kindClient, extractor, cache, retriever.Options{
		MinTextChars: cfg.Retriever.MinTextChars,
		MaxPDFBytes:  cfg.Retriever.MaxPDFBytes,
		CacheTTL:     ttl,
	})

	env.Pipeline = pipeline.New(pipeline.Deps{
		Rubric:     src,
		Lister:     kindClient,
		Retriever:  ret,
		Classifier: cls,
		Archive:    archive,
		Uploader:   ws.Uploader,
		Ledger:     st,
	})
	zap.L().Info("run environment ready",
		zap.String("provider", s.Provider),
		zap.String("secondary", s.Secondary),
		zap.String("rubric_source", cfg.Rubric.Source),
		zap.Bool("archive", archive != nil),
		zap.Bool("uploads", ws.Uploader.Enabled()),
	)
	return env, nil
}
