// Package archiver writes analysis results to the results tab, the
// per-company pivot spreadsheets and back to the disclosure list.
package archiver

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/dedup"
	"github.com/sells-group/valueup-cli/internal/drive"
	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
	"github.com/sells-group/valueup-cli/internal/sheets"
)

// Per-company spreadsheet tabs.
const (
	HistoryTab = "Target_History"
	SummaryTab = "Summary"
)

// Options configures tab names and archive behavior.
type Options struct {
	ListTab      string
	ResultsTab   string
	PivotEnabled bool
	PivotFolder  string
	// RowSlack is added whenever a tab must grow.
	RowSlack     int
	NoteMaxRunes int
}

// Links carries what the pipeline learned about an entry before archiving.
type Links struct {
	Document        drive.Reference
	EstimatedTokens int64
}

// ArchiveOutcome reports the writes made for one entry.
type ArchiveOutcome struct {
	// Row is the 1-based results tab row.
	Row      int
	PivotURL string
	// Warnings holds failed secondary and back-reference writes.
	Warnings []string
}

// Archiver persists results into the main spreadsheet.
type Archiver struct {
	sheet    sheets.Client
	opener   sheets.Opener
	uploader drive.Uploader
	opts     Options
	now      func() time.Time

	mu sync.Mutex

	header        []string
	resultRows    int
	resultsLoaded bool
	ids           []string
	archived      *dedup.IDSet

	listLoaded bool
	listUsed   int
	listRows   map[string]int
}

// New creates an Archiver over the main spreadsheet. opener and uploader
// serve the pivot archive.
func New(sheet sheets.Client, opener sheets.Opener, uploader drive.Uploader, opts Options) *Archiver {
	if opts.ListTab == "" {
		opts.ListTab = "밸류업공시목록"
	}
	if opts.ResultsTab == "" {
		opts.ResultsTab = "밸류업공시분석"
	}
	if opts.PivotFolder == "" {
		opts.PivotFolder = "ValueUp_analysis"
	}
	if opts.RowSlack <= 0 {
		opts.RowSlack = 100
	}
	if opts.NoteMaxRunes <= 0 {
		opts.NoteMaxRunes = 100
	}
	if uploader == nil {
		uploader = drive.Disabled{}
	}
	return &Archiver{
		sheet:    sheet,
		opener:   opener,
		uploader: uploader,
		opts:     opts,
		now:      time.Now,
		listRows: make(map[string]int),
	}
}

// ExistingIDs returns the unique ids already in the results tab. It only
// reads column A; a missing tab is an empty snapshot and is not created.
func (a *Archiver) ExistingIDs(ctx context.Context) (*dedup.IDSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.archived == nil {
		col, err := a.sheet.ReadColumn(ctx, a.opts.ResultsTab, 1)
		switch {
		case errors.Is(err, sheets.ErrTabNotFound):
			zap.L().Info("archiver: results tab missing, nothing archived yet", zap.String("tab", a.opts.ResultsTab))
			col = nil
		case err != nil:
			return nil, eris.Wrap(err, "archiver: read archived ids")
		}
		a.setIDs(col[min(1, len(col)):])
	}
	return dedup.NewIDSet(a.ids...), nil
}

func (a *Archiver) setIDs(ids []string) {
	a.archived = dedup.NewIDSet()
	a.ids = nil
	for _, id := range ids {
		if id != "" {
			a.ids = append(a.ids, id)
			a.archived.Add(id)
		}
	}
}

// loadResults prepares the results tab for writing, creating it if needed.
func (a *Archiver) loadResults(ctx context.Context) error {
	if a.resultsLoaded {
		return nil
	}
	if _, err := a.sheet.EnsureTab(ctx, a.opts.ResultsTab); err != nil {
		return eris.Wrap(err, "archiver: ensure results tab")
	}
	rows, err := a.sheet.ReadRows(ctx, a.opts.ResultsTab)
	if err != nil {
		return eris.Wrap(err, "archiver: read results tab")
	}
	if len(rows) > 0 {
		a.header = rows[0]
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows[min(1, len(rows)):] {
		ids = append(ids, cell(row, 0))
	}
	a.setIDs(ids)
	a.resultRows = len(rows)
	a.resultsLoaded = true
	zap.L().Debug("archiver: results loaded", zap.Int("rows", len(rows)), zap.Int("ids", a.archived.Len()))
	return nil
}

// Persist writes one result. The results tab append is the primary record:
// its failure is returned. A unique id already archived yields a logic
// error and no write. Pivot and list updates only add warnings.
func (a *Archiver) Persist(ctx context.Context, r *model.Rubric, e model.DisclosureEntry, res *model.AnalysisResult, links Links) (*ArchiveOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	log := zap.L().With(zap.String("acptno", e.UniqueID))

	if err := a.loadResults(ctx); err != nil {
		return nil, err
	}
	if a.archived.Has(e.UniqueID) {
		return nil, resilience.NewLogicError(eris.Errorf("archiver: %s is already archived", e.UniqueID))
	}
	if err := a.ensureResultsHeader(ctx, r); err != nil {
		return nil, err
	}
	if err := a.ensureCapacity(ctx, a.sheet, a.opts.ResultsTab, a.resultRows+1, len(a.header)); err != nil {
		return nil, err
	}
	row := project(a.header, resultValues(r, e, res, a.opts.NoteMaxRunes))
	if err := a.sheet.Append(ctx, a.opts.ResultsTab, [][]any{row}); err != nil {
		return nil, eris.Wrapf(err, "archiver: append result %s", e.UniqueID)
	}
	a.resultRows++
	a.ids = append(a.ids, e.UniqueID)
	a.archived.Add(e.UniqueID)

	out := &ArchiveOutcome{Row: a.resultRows}
	warn := func(what string, err error) {
		log.Warn("archiver: "+what+" failed", zap.Error(err))
		out.Warnings = append(out.Warnings, what+": "+err.Error())
	}

	if a.opts.PivotEnabled && res.Status == model.AnalysisOK && a.uploader.Enabled() {
		url, err := a.persistPivot(ctx, r, e, res)
		if err != nil {
			warn("pivot", err)
		} else {
			out.PivotURL = url
		}
	}
	if err := a.backReference(ctx, e, res, links, out.PivotURL); err != nil {
		warn("back-reference", err)
	}

	log.Info("archiver: persisted", zap.Int("row", out.Row), zap.String("status", string(res.Status)), zap.Int("warnings", len(out.Warnings)))
	return out, nil
}

func (a *Archiver) ensureResultsHeader(ctx context.Context, r *model.Rubric) error {
	merged, changed := mergeHeader(a.header, ResultHeaders(r))
	if !changed {
		return nil
	}
	if err := a.ensureCapacity(ctx, a.sheet, a.opts.ResultsTab, max(a.resultRows, 1), len(merged)); err != nil {
		return err
	}
	values := make([]any, len(merged))
	for i, h := range merged {
		values[i] = h
	}
	err := a.sheet.BatchUpdate(ctx, []sheets.Update{{Tab: a.opts.ResultsTab, Row: 1, Col: 1, Values: [][]any{values}}})
	if err != nil {
		return eris.Wrap(err, "archiver: write results header")
	}
	zap.L().Info("archiver: results header extended", zap.Int("from", len(a.header)), zap.Int("to", len(merged)))
	a.header = merged
	a.resultRows = max(a.resultRows, 1)
	return nil
}

// ensureCapacity grows a tab so that rows x cols fit, adding slack rows.
func (a *Archiver) ensureCapacity(ctx context.Context, s sheets.Client, tab string, rows, cols int) error {
	g, err := s.GridSize(ctx, tab)
	if err != nil {
		return eris.Wrapf(err, "archiver: grid size %s", tab)
	}
	want := g
	if rows > g.Rows {
		want.Rows = rows + a.opts.RowSlack
	}
	if cols > g.Cols {
		want.Cols = cols
	}
	if want == g {
		return nil
	}
	if err := s.Resize(ctx, tab, want); err != nil {
		return eris.Wrapf(err, "archiver: grow %s", tab)
	}
	zap.L().Debug("archiver: grew tab", zap.String("tab", tab), zap.Int("rows", want.Rows), zap.Int("cols", want.Cols))
	return nil
}

func (a *Archiver) loadList(ctx context.Context) error {
	if a.listLoaded {
		return nil
	}
	tab := a.opts.ListTab
	if _, err := a.sheet.EnsureTab(ctx, tab); err != nil {
		return eris.Wrap(err, "archiver: ensure list tab")
	}
	rows, err := a.sheet.ReadRows(ctx, tab)
	if err != nil {
		return eris.Wrap(err, "archiver: read list tab")
	}

	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	if len(header) < len(ListHeaders) {
		if err := a.ensureCapacity(ctx, a.sheet, tab, max(len(rows), 1), len(ListHeaders)); err != nil {
			return err
		}
		missing := make([]any, 0, len(ListHeaders)-len(header))
		for _, h := range ListHeaders[len(header):] {
			missing = append(missing, h)
		}
		err := a.sheet.BatchUpdate(ctx, []sheets.Update{{Tab: tab, Row: 1, Col: len(header) + 1, Values: [][]any{missing}}})
		if err != nil {
			return eris.Wrap(err, "archiver: write list header")
		}
	}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		if id := cell(row, ListColID-1); id != "" {
			a.listRows[id] = i + 1
		}
	}
	a.listUsed = max(len(rows), 1)
	a.listLoaded = true
	return nil
}

// RecordListing appends entries not yet on the list tab (columns A..J) and
// returns how many were added.
func (a *Archiver) RecordListing(ctx context.Context, entries []model.DisclosureEntry) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.loadList(ctx); err != nil {
		return 0, err
	}

	collected := a.now().In(model.KST).Format(timeLayout)
	var rows [][]any
	var added []string
	for _, e := range entries {
		if _, ok := a.listRows[e.UniqueID]; ok || slices.Contains(added, e.UniqueID) {
			continue
		}
		number := a.listUsed + len(rows) // header occupies row 1
		rows = append(rows, []any{
			number, e.ReportDate(), e.CompanyName, e.StockCode, e.Title,
			e.UniqueID, e.SourceDocumentURL, "", collected, "",
		})
		added = append(added, e.UniqueID)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := a.ensureCapacity(ctx, a.sheet, a.opts.ListTab, a.listUsed+len(rows), len(ListHeaders)); err != nil {
		return 0, err
	}
	if err := a.sheet.Append(ctx, a.opts.ListTab, rows); err != nil {
		return 0, eris.Wrapf(err, "archiver: append %d list rows", len(rows))
	}
	for i, id := range added {
		a.listRows[id] = a.listUsed + i + 1
	}
	a.listUsed += len(rows)
	zap.L().Info("archiver: listing recorded", zap.Int("added", len(rows)))
	return len(rows), nil
}

// backReference updates the entry's list row: K..P and the document link.
func (a *Archiver) backReference(ctx context.Context, e model.DisclosureEntry, res *model.AnalysisResult, links Links, pivotURL string) error {
	if err := a.loadList(ctx); err != nil {
		return err
	}
	row, ok := a.listRows[e.UniqueID]
	if !ok {
		return eris.Errorf("archiver: %s has no list row", e.UniqueID)
	}
	if err := a.ensureCapacity(ctx, a.sheet, a.opts.ListTab, row, len(ListHeaders)); err != nil {
		return err
	}

	tab := a.opts.ListTab
	updates := []sheets.Update{{
		Tab: tab, Row: row, Col: ListColTokens,
		Values: [][]any{{
			links.EstimatedTokens,
			string(res.Status),
			res.AnalyzedAt.In(model.KST).Format(timeLayout),
			res.MentionedItemCount,
			res.CoreMentionedCount,
			pivotURL,
		}},
	}}
	if links.Document.URL != "" {
		updates = append(updates, sheets.Update{Tab: tab, Row: row, Col: ListColDocument, Values: [][]any{{links.Document.URL}}})
	}
	return eris.Wrapf(a.sheet.BatchUpdate(ctx, updates), "archiver: back-reference %s", e.UniqueID)
}

func (a *Archiver) persistPivot(ctx context.Context, r *model.Rubric, e model.DisclosureEntry, res *model.AnalysisResult) (string, error) {
	title := e.CompanyName + "_" + e.StockCode
	id, created, err := a.uploader.EnsureSpreadsheet(ctx, a.opts.PivotFolder, title)
	if err != nil {
		return "", err
	}
	ps := a.opener.Open(id)
	for _, tab := range []string{SummaryTab, HistoryTab} {
		if _, err := ps.EnsureTab(ctx, tab); err != nil {
			return "", eris.Wrapf(err, "archiver: ensure %s in %s", tab, title)
		}
	}

	rows, err := ps.ReadRows(ctx, HistoryTab)
	if err != nil {
		return "", eris.Wrapf(err, "archiver: read %s", title)
	}
	p := LoadPivot(rows)
	p.Record(r, e, res)
	if err := a.ensureCapacity(ctx, ps, HistoryTab, p.Height(), p.Width()); err != nil {
		return "", err
	}
	if err := ps.BatchUpdate(ctx, p.Updates(HistoryTab, e.UniqueID)); err != nil {
		return "", eris.Wrapf(err, "archiver: write %s history", title)
	}
	if err := a.writeSummary(ctx, ps, p, r, e, res); err != nil {
		return "", err
	}

	zap.L().Info("archiver: pivot updated",
		zap.String("spreadsheet", title),
		zap.Bool("created", created),
		zap.Int("reports", len(p.Reports())),
	)
	return sheets.URL(id), nil
}

const summaryWidth = 8

// summaryItemsRow is the 0-based row where the latest-targets list starts.
const summaryItemsRow = 10

// writeSummary refreshes the Summary tab. Item rows are replaced only when
// this report is the latest one.
func (a *Archiver) writeSummary(ctx context.Context, ps sheets.Client, p *Pivot, r *model.Rubric, e model.DisclosureEntry, res *model.AnalysisResult) error {
	prev, err := ps.ReadRows(ctx, SummaryTab)
	if err != nil {
		return eris.Wrap(err, "archiver: read summary")
	}
	first, latest, count := p.Span()
	rows := [][]any{
		{"기업 기본 정보"},
		{"항목", "값"},
		{"기업명", e.CompanyName},
		{"종목코드", e.StockCode},
		{"최초 공시일", first},
		{"최신 공시일", latest},
		{"총 보고서 수", count},
		{},
		{"최신 목표 현황"},
		{"영역", "카테고리", "항목", "Core", "현재값", "목표값", "목표연도", "비고"},
	}
	if e.ReportDate() >= latest {
		for _, it := range r.Items {
			ir := res.PerItem[it.ItemID]
			if !ir.Mentioned() {
				continue
			}
			core := ""
			if it.IsCore {
				core = "Y"
			}
			rows = append(rows, []any{it.AreaName, it.CategoryName, it.Name, core, ir.CurrentValue, ir.TargetValue, ir.TargetYear, ir.Note})
		}
	} else if len(prev) > summaryItemsRow {
		for _, old := range prev[summaryItemsRow:] {
			row := make([]any, len(old))
			for i, v := range old {
				row[i] = v
			}
			rows = append(rows, row)
		}
	}
	for len(rows) < len(prev) {
		rows = append(rows, nil)
	}
	for i, row := range rows {
		padded := make([]any, summaryWidth)
		for j := range padded {
			if j < len(row) {
				padded[j] = row[j]
			} else {
				padded[j] = ""
			}
		}
		rows[i] = padded
	}

	if err := a.ensureCapacity(ctx, ps, SummaryTab, len(rows), summaryWidth); err != nil {
		return err
	}
	err = ps.BatchUpdate(ctx, []sheets.Update{{Tab: SummaryTab, Row: 1, Col: 1, Values: rows}})
	return eris.Wrap(err, "archiver: write summary")
}
