// Package pipeline runs one ingest batch: list, dedup, retrieve, classify
// and archive value-up disclosures.
package pipeline

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/valueup-cli/internal/archiver"
	"github.com/sells-group/valueup-cli/internal/dedup"
	"github.com/sells-group/valueup-cli/internal/drive"
	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/report"
	"github.com/sells-group/valueup-cli/internal/resilience"
	"github.com/sells-group/valueup-cli/internal/rubric"
	"github.com/sells-group/valueup-cli/internal/store"
)

// ErrCircuitBroken aborts a batch after too many consecutive
// classification failures.
var ErrCircuitBroken = eris.New("pipeline: circuit broken")

// Lister lists disclosures newest-first. *kind.Client implements it.
type Lister interface {
	ListEntries(ctx context.Context, window model.DateWindow, maxPages int) iter.Seq2[model.DisclosureEntry, error]
}

// Retriever fetches the document for an entry. *retriever.Retriever
// implements it.
type Retriever interface {
	Retrieve(ctx context.Context, e model.DisclosureEntry) (*model.ExtractedDocument, error)
}

// Classifier scores a document against the rubric. *classifier.Classifier
// implements it.
type Classifier interface {
	Classify(ctx context.Context, r *model.Rubric, e model.DisclosureEntry, doc *model.ExtractedDocument) (*model.AnalysisResult, error)
}

// Archive is the spreadsheet side. *archiver.Archiver implements it.
type Archive interface {
	ExistingIDs(ctx context.Context) (*dedup.IDSet, error)
	RecordListing(ctx context.Context, entries []model.DisclosureEntry) (int, error)
	Persist(ctx context.Context, r *model.Rubric, e model.DisclosureEntry, res *model.AnalysisResult, links archiver.Links) (*archiver.ArchiveOutcome, error)
}

// Ledger is the part of store.Store a run writes to.
type Ledger interface {
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	RecordUsage(ctx context.Context, rec store.UsageRecord) error
}

// Deps are the collaborators of a Pipeline. Uploader may be nil. Archive
// may be nil for dry runs, which then see no existing ids.
type Deps struct {
	Rubric     rubric.Source
	Lister     Lister
	Retriever  Retriever
	Classifier Classifier
	Archive    Archive
	Uploader   drive.Uploader
	Ledger     Ledger
}

// Options select the batch for one run.
type Options struct {
	Window   model.DateWindow
	MaxPages int
	// MaxItems bounds the entries processed after dedup. Zero means no limit.
	MaxItems int
	// Provider is recorded in the run ledger.
	Provider string
	// DryRun skips listing writes, uploads and archive writes.
	DryRun bool
	// Export writes an .xlsx report of the run when set.
	Export string
	// CircuitThreshold is the consecutive classification failure count
	// that aborts the batch. Default: 3.
	CircuitThreshold int
}

// Pipeline orchestrates one batch run.
type Pipeline struct {
	deps Deps
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	if deps.Uploader == nil {
		deps.Uploader = drive.Disabled{}
	}
	return &Pipeline{deps: deps}
}

// batch is the mutable state of one Run.
type batch struct {
	opts     Options
	runID    string
	rubric   *model.Rubric
	summary  *model.RunSummary
	outcomes []model.Outcome
	breaker  *resilience.CircuitBreaker
}

// Run executes one batch. The summary is always returned; a non-nil error
// is a run-level fatal condition whose reason is also in summary.Fatal.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*model.RunSummary, error) {
	log := zap.L().With(zap.String("window", opts.Window.String()), zap.Bool("dry_run", opts.DryRun))
	log.Info("pipeline: starting run")
	start := time.Now()

	if opts.CircuitThreshold <= 0 {
		opts.CircuitThreshold = 3
	}
	b := &batch{
		opts:    opts,
		summary: &model.RunSummary{},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: opts.CircuitThreshold,
			ShouldTrip: func(err error) bool {
				return !resilience.IsQuotaExhausted(err) && ctx.Err() == nil
			},
			OnStateChange: func(from, to resilience.CircuitState) {
				log.Warn("pipeline: circuit state change", zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
	}

	run, err := p.deps.Ledger.CreateRun(ctx, model.Run{
		Window:   opts.Window.String(),
		Provider: opts.Provider,
		DryRun:   opts.DryRun,
	})
	if err != nil {
		return p.fatal(b, eris.Wrap(err, "pipeline: create run"))
	}
	b.runID = run.ID
	log = log.With(zap.String("run_id", run.ID))

	err = p.run(ctx, b)
	if err != nil {
		b.summary.Fatal = oneLine(err)
	}
	p.export(b)

	status := model.RunStatusComplete
	if err != nil {
		status = model.RunStatusFailed
	}
	if finErr := p.deps.Ledger.FinishRun(context.WithoutCancel(ctx), b.runID, status, b.summary); finErr != nil {
		log.Warn("pipeline: failed to finish run", zap.Error(finErr))
	}

	log.Info("pipeline: run finished",
		zap.String("status", string(status)),
		zap.String("summary", b.summary.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return b.summary, err
}

func (p *Pipeline) writes(b *batch) bool {
	return !b.opts.DryRun && p.deps.Archive != nil
}

func (p *Pipeline) fatal(b *batch, err error) (*model.RunSummary, error) {
	b.summary.Fatal = oneLine(err)
	return b.summary, err
}

// oneLine flattens joined errors for the summary.
func oneLine(err error) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(err.Error(), "\n", "; ")), " ")
}

func (p *Pipeline) run(ctx context.Context, b *batch) error {
	existing, err := p.preload(ctx, b)
	if err != nil {
		return err
	}

	entries, err := p.list(ctx, b)
	if err != nil {
		return err
	}

	fresh := dedup.FilterNew(entries, existing)
	b.summary.Skipped = len(entries) - len(fresh)
	if b.opts.MaxItems > 0 && len(fresh) > b.opts.MaxItems {
		zap.L().Info("pipeline: capping batch", zap.Int("new", len(fresh)), zap.Int("max_items", b.opts.MaxItems))
		fresh = fresh[:b.opts.MaxItems]
	}
	zap.L().Info("pipeline: deduplicated",
		zap.Int("fetched", b.summary.Fetched),
		zap.Int("skipped", b.summary.Skipped),
		zap.Int("to_process", len(fresh)),
	)

	if p.writes(b) && len(fresh) > 0 {
		if _, err := p.deps.Archive.RecordListing(ctx, fresh); err != nil {
			zap.L().Warn("pipeline: record listing failed", zap.Error(err))
		}
	}

	for _, e := range fresh {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: interrupted")
		}
		if err := p.process(ctx, b, e); err != nil {
			return err
		}
	}
	return nil
}

// preload loads the rubric and the dedup snapshot in parallel.
func (p *Pipeline) preload(ctx context.Context, b *batch) (*dedup.IDSet, error) {
	var existing *dedup.IDSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := p.deps.Rubric.Load(gctx)
		if err != nil {
			return eris.Wrap(err, "pipeline: load rubric")
		}
		b.rubric = r
		return nil
	})
	g.Go(func() error {
		if p.deps.Archive == nil {
			existing = dedup.NewIDSet()
			return nil
		}
		ids, err := p.deps.Archive.ExistingIDs(gctx)
		if err != nil {
			return eris.Wrap(err, "pipeline: load existing ids")
		}
		existing = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return existing, nil
}

// list drains the lister. A failure before any entry is fatal; a later one
// keeps what was collected.
func (p *Pipeline) list(ctx context.Context, b *batch) ([]model.DisclosureEntry, error) {
	var entries []model.DisclosureEntry
	var fetchErr error
	for e, err := range p.deps.Lister.ListEntries(ctx, b.opts.Window, b.opts.MaxPages) {
		if err != nil {
			fetchErr = err
			break
		}
		entries = append(entries, e)
	}
	b.summary.Fetched = len(entries)
	if fetchErr == nil {
		return entries, nil
	}
	if len(entries) == 0 {
		return nil, eris.Wrap(fetchErr, "pipeline: fetch")
	}
	zap.L().Warn("pipeline: fetch stopped early, processing collected entries",
		zap.Int("collected", len(entries)),
		zap.Error(fetchErr),
	)
	b.summary.FetchError = fetchErr.Error()
	return entries, nil
}

// process runs one entry through retrieve, upload, classify and archive.
// Only run-fatal conditions are returned.
func (p *Pipeline) process(ctx context.Context, b *batch, e model.DisclosureEntry) error {
	log := zap.L().With(zap.String("acptno", e.UniqueID), zap.String("company", e.CompanyName))
	out := model.Outcome{Entry: e}
	defer func() { b.outcomes = append(b.outcomes, out) }()

	var (
		res *model.AnalysisResult
		ref drive.Reference
	)
	doc, err := p.deps.Retriever.Retrieve(ctx, e)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "pipeline: interrupted")
		}
		log.Warn("pipeline: retrieve failed", zap.Error(err))
		out.Warnings = append(out.Warnings, "retrieve: "+err.Error())
		res = model.NewErrorResult(e.UniqueID, b.rubric, eris.Wrap(err, "pipeline: retrieve"))
	} else {
		out.Method = doc.ExtractionMethod
		ref = p.upload(ctx, b, doc, e, &out)

		res, err = resilience.ExecuteVal(ctx, b.breaker, func(ctx context.Context) (*model.AnalysisResult, error) {
			return p.deps.Classifier.Classify(ctx, b.rubric, e, doc)
		})
		if err != nil {
			if resilience.IsQuotaExhausted(err) {
				return eris.Wrap(err, "pipeline: provider quota exhausted")
			}
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "pipeline: interrupted")
			}
			if res == nil {
				res = model.NewErrorResult(e.UniqueID, b.rubric, err)
			}
		}
	}
	out.Result = res
	if res.Status == model.AnalysisOK {
		b.summary.Analyzed++
	} else {
		b.summary.Errored++
	}

	if p.writes(b) {
		ao, err := p.deps.Archive.Persist(ctx, b.rubric, e, res, archiver.Links{
			Document:        ref,
			EstimatedTokens: res.Usage.EstimatedTokens,
		})
		switch {
		case resilience.IsLogic(err):
			log.Warn("pipeline: archive rejected entry", zap.Error(err))
			out.Warnings = append(out.Warnings, "archive: "+err.Error())
		case err != nil:
			return eris.Wrapf(err, "pipeline: archive %s", e.UniqueID)
		default:
			out.Archived = true
			out.Warnings = append(out.Warnings, ao.Warnings...)
		}
	}

	p.recordUsage(ctx, b, res)

	if b.breaker.Tripped() {
		return eris.Wrapf(ErrCircuitBroken, "%d consecutive classification failures, last: %v", b.opts.CircuitThreshold, b.breaker.LastError())
	}
	return nil
}

// upload archives the document to Drive. It never fails the entry; dry runs
// and disabled uploaders get a local-only reference.
func (p *Pipeline) upload(ctx context.Context, b *batch, doc *model.ExtractedDocument, e model.DisclosureEntry, out *model.Outcome) drive.Reference {
	local := drive.Reference{URL: drive.LocalURL(e.UniqueID), Local: true}
	if b.opts.DryRun || !p.deps.Uploader.Enabled() {
		out.DocumentLink = local.URL
		return local
	}
	ref, err := p.deps.Uploader.Upload(ctx, doc, e)
	if err != nil {
		zap.L().Warn("pipeline: upload failed", zap.String("acptno", e.UniqueID), zap.Error(err))
		out.Warnings = append(out.Warnings, "upload: "+err.Error())
		out.DocumentLink = local.URL
		return local
	}
	out.DocumentLink = ref.URL
	if !ref.Local {
		out.Uploaded = true
		b.summary.Uploaded++
	}
	return ref
}

func (p *Pipeline) recordUsage(ctx context.Context, b *batch, res *model.AnalysisResult) {
	if res.Provider == "" && res.Usage == (model.Usage{}) {
		return
	}
	err := p.deps.Ledger.RecordUsage(ctx, store.UsageRecord{
		RunID:           b.runID,
		EntryID:         res.EntryID,
		Provider:        res.Provider,
		Model:           res.Model,
		InputTokens:     res.Usage.InputTokens,
		OutputTokens:    res.Usage.OutputTokens,
		EstimatedTokens: res.Usage.EstimatedTokens,
		CostUSD:         res.Usage.CostUSD,
		RecordedAt:      time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("pipeline: record usage failed", zap.String("acptno", res.EntryID), zap.Error(err))
	}
}

func (p *Pipeline) export(b *batch) {
	if b.opts.Export == "" || b.rubric == nil {
		return
	}
	if err := report.WriteWorkbook(b.opts.Export, b.rubric, b.outcomes); err != nil {
		zap.L().Error("pipeline: export failed", zap.String("path", b.opts.Export), zap.Error(err))
		return
	}
	zap.L().Info("pipeline: exported", zap.String("path", b.opts.Export), zap.Int("entries", len(b.outcomes)))
}
