// Package sheets adapts the Google Sheets v4 API to the tab-oriented
// reads and writes the archiver needs.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/sells-group/valueup-cli/internal/resilience"
	"github.com/sells-group/valueup-cli/pkg/google"
)

// Update writes Values starting at (Row, Col), both 1-based.
type Update struct {
	Tab    string
	Row    int
	Col    int
	Values [][]any
}

// Grid is a tab's allocated size.
type Grid struct {
	Rows int
	Cols int
}

// Client reads and writes the tabs of one spreadsheet.
type Client interface {
	ID() string
	// ReadColumn returns the values of a 1-based column, header included.
	// A missing tab yields ErrTabNotFound.
	ReadColumn(ctx context.Context, tab string, col int) ([]string, error)
	// ReadRows returns every populated row of a tab.
	ReadRows(ctx context.Context, tab string) ([][]string, error)
	Append(ctx context.Context, tab string, rows [][]any) error
	BatchUpdate(ctx context.Context, updates []Update) error
	// EnsureTab creates the tab if missing and reports whether it did.
	EnsureTab(ctx context.Context, tab string) (bool, error)
	GridSize(ctx context.Context, tab string) (Grid, error)
	Resize(ctx context.Context, tab string, g Grid) error
}

// Opener opens spreadsheets by id.
type Opener interface {
	Open(spreadsheetID string) Client
}

// Option configures a Service.
type Option func(*Service)

// WithWritesPerMinute overrides the write budget. Zero disables throttling.
func WithWritesPerMinute(n float64) Option {
	return func(s *Service) {
		if n > 0 {
			s.limiter = rate.NewLimiter(rate.Every(time.Duration(float64(time.Minute)/n)), 1)
		} else {
			s.limiter = nil
		}
	}
}

// WithRetry overrides the retry policy for API calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

// Service wraps a Sheets API service. Spreadsheets opened from it share
// one write budget.
type Service struct {
	api     *sheetsapi.Service
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewService wraps api with the default budget of 55 writes per minute.
func NewService(api *sheetsapi.Service, opts ...Option) *Service {
	s := &Service{api: api, retry: resilience.DefaultRetryConfig()}
	WithWritesPerMinute(55)(s)
	for _, o := range opts {
		o(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("sheets", "api")
	}
	return s
}

// Open returns a Client for the spreadsheet.
func (s *Service) Open(spreadsheetID string) Client {
	return &spreadsheet{svc: s, id: spreadsheetID, props: make(map[string]*sheetsapi.SheetProperties)}
}

type spreadsheet struct {
	svc *Service
	id  string

	mu    sync.Mutex
	props map[string]*sheetsapi.SheetProperties
}

func (s *spreadsheet) ID() string { return s.id }

func (s *spreadsheet) call(ctx context.Context, write bool, fn func(ctx context.Context) error) error {
	return resilience.Do(ctx, s.svc.retry, func(ctx context.Context) error {
		if write && s.svc.limiter != nil {
			if err := s.svc.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return google.Classify(fn(ctx))
	})
}

func (s *spreadsheet) ReadColumn(ctx context.Context, tab string, col int) ([]string, error) {
	if _, err := s.properties(ctx, tab); err != nil {
		return nil, err
	}
	letter := ColumnLetter(col)
	rng := fmt.Sprintf("%s!%s:%s", QuoteTab(tab), letter, letter)
	var vr *sheetsapi.ValueRange
	err := s.call(ctx, false, func(ctx context.Context) error {
		var err error
		vr, err = s.svc.api.Spreadsheets.Values.Get(s.id, rng).MajorDimension("COLUMNS").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: read column %s", rng)
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return toStrings(vr.Values[0]), nil
}

func (s *spreadsheet) ReadRows(ctx context.Context, tab string) ([][]string, error) {
	var vr *sheetsapi.ValueRange
	err := s.call(ctx, false, func(ctx context.Context) error {
		var err error
		vr, err = s.svc.api.Spreadsheets.Values.Get(s.id, QuoteTab(tab)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: read rows %s", tab)
	}
	rows := make([][]string, len(vr.Values))
	for i, r := range vr.Values {
		rows[i] = toStrings(r)
	}
	return rows, nil
}

func (s *spreadsheet) Append(ctx context.Context, tab string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &sheetsapi.ValueRange{Values: rows}
	err := s.call(ctx, true, func(ctx context.Context) error {
		_, err := s.svc.api.Spreadsheets.Values.Append(s.id, QuoteTab(tab)+"!A1", vr).
			ValueInputOption("RAW").
			InsertDataOption("OVERWRITE").
			Context(ctx).Do()
		return err
	})
	return eris.Wrapf(err, "sheets: append %d rows to %s", len(rows), tab)
}

func (s *spreadsheet) BatchUpdate(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	req := &sheetsapi.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, u := range updates {
		if len(u.Values) == 0 {
			continue
		}
		width := 0
		for _, r := range u.Values {
			width = max(width, len(r))
		}
		req.Data = append(req.Data, &sheetsapi.ValueRange{
			Range:  Range(u.Tab, u.Row, u.Col, u.Row+len(u.Values)-1, u.Col+max(width, 1)-1),
			Values: u.Values,
		})
	}
	err := s.call(ctx, true, func(ctx context.Context) error {
		_, err := s.svc.api.Spreadsheets.Values.BatchUpdate(s.id, req).Context(ctx).Do()
		return err
	})
	return eris.Wrapf(err, "sheets: batch update %d ranges", len(req.Data))
}

func (s *spreadsheet) EnsureTab(ctx context.Context, tab string) (bool, error) {
	if _, err := s.properties(ctx, tab); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrTabNotFound) {
		return false, err
	}

	req := &sheetsapi.BatchUpdateSpreadsheetRequest{Requests: []*sheetsapi.Request{{
		AddSheet: &sheetsapi.AddSheetRequest{Properties: &sheetsapi.SheetProperties{Title: tab}},
	}}}
	var resp *sheetsapi.BatchUpdateSpreadsheetResponse
	err := s.call(ctx, true, func(ctx context.Context) error {
		var err error
		resp, err = s.svc.api.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, eris.Wrapf(err, "sheets: add tab %s", tab)
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
		s.mu.Lock()
		s.props[tab] = resp.Replies[0].AddSheet.Properties
		s.mu.Unlock()
	}
	return true, nil
}

func (s *spreadsheet) GridSize(ctx context.Context, tab string) (Grid, error) {
	p, err := s.properties(ctx, tab)
	if err != nil {
		return Grid{}, err
	}
	if p.GridProperties == nil {
		return Grid{}, nil
	}
	return Grid{Rows: int(p.GridProperties.RowCount), Cols: int(p.GridProperties.ColumnCount)}, nil
}

func (s *spreadsheet) Resize(ctx context.Context, tab string, g Grid) error {
	p, err := s.properties(ctx, tab)
	if err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{Requests: []*sheetsapi.Request{{
		UpdateSheetProperties: &sheetsapi.UpdateSheetPropertiesRequest{
			Properties: &sheetsapi.SheetProperties{
				SheetId:        p.SheetId,
				GridProperties: &sheetsapi.GridProperties{RowCount: int64(g.Rows), ColumnCount: int64(g.Cols)},
				// The first tab has id 0, which omitempty would drop.
				ForceSendFields: []string{"SheetId"},
			},
			Fields: "gridProperties.rowCount,gridProperties.columnCount",
		},
	}}}
	err = s.call(ctx, true, func(ctx context.Context) error {
		_, err := s.svc.api.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return eris.Wrapf(err, "sheets: resize %s to %dx%d", tab, g.Rows, g.Cols)
	}
	s.mu.Lock()
	if p.GridProperties == nil {
		p.GridProperties = &sheetsapi.GridProperties{}
	}
	p.GridProperties.RowCount, p.GridProperties.ColumnCount = int64(g.Rows), int64(g.Cols)
	s.mu.Unlock()
	return nil
}

// ErrTabNotFound is returned by reads of a tab that does not exist.
var ErrTabNotFound = errors.New("sheets: tab not found")

// properties returns cached tab properties, refreshing from the API on a
// miss.
func (s *spreadsheet) properties(ctx context.Context, tab string) (*sheetsapi.SheetProperties, error) {
	s.mu.Lock()
	p, ok := s.props[tab]
	s.mu.Unlock()
	if ok {
		return p, nil
	}

	var ss *sheetsapi.Spreadsheet
	err := s.call(ctx, false, func(ctx context.Context) error {
		var err error
		ss, err = s.svc.api.Spreadsheets.Get(s.id).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: get spreadsheet %s", s.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			s.props[sh.Properties.Title] = sh.Properties
		}
	}
	if p, ok := s.props[tab]; ok {
		return p, nil
	}
	return nil, eris.Wrap(ErrTabNotFound, tab)
}

func toStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch v := v.(type) {
		case nil:
		case float64:
			out[i] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
