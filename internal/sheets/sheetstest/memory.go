// Package sheetstest provides an in-memory spreadsheet for tests.
package sheetstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valueup-cli/internal/sheets"
)

// Book is a set of in-memory spreadsheets keyed by id.
type Book struct {
	mu     sync.Mutex
	sheets map[string]*Sheet
}

// NewBook returns an empty Book.
func NewBook() *Book {
	return &Book{sheets: make(map[string]*Sheet)}
}

// Open returns the spreadsheet with id, creating it on first use.
func (b *Book) Open(id string) sheets.Client {
	return b.Sheet(id)
}

// Sheet is Open with the concrete type.
func (b *Book) Sheet(id string) *Sheet {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sheets[id]
	if !ok {
		s = NewSheet(id)
		b.sheets[id] = s
	}
	return s
}

// Sheet is an in-memory sheets.Client.
type Sheet struct {
	id string

	mu   sync.Mutex
	tabs map[string]*tab

	// FailWrites makes every write return this error.
	FailWrites error
	// Writes counts successful write calls.
	Writes int
}

type tab struct {
	cells [][]string
	grid  sheets.Grid
}

// NewSheet returns an empty spreadsheet.
func NewSheet(id string) *Sheet {
	return &Sheet{id: id, tabs: make(map[string]*tab)}
}

var _ sheets.Client = (*Sheet)(nil)

func (s *Sheet) ID() string { return s.id }

// SetRows replaces a tab's contents, creating it if needed.
func (s *Sheet) SetRows(name string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tabLocked(name)
	t.cells = nil
	for _, r := range rows {
		t.cells = append(t.cells, append([]string(nil), r...))
	}
	t.grow()
}

// Rows returns a copy of a tab's contents.
func (s *Sheet) Rows(name string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[name]
	if !ok {
		return nil
	}
	out := make([][]string, len(t.cells))
	for i, r := range t.cells {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Value returns the cell at 1-based (row, col) or "".
func (s *Sheet) Value(name string, row, col int) string {
	rows := s.Rows(name)
	if row < 1 || row > len(rows) || col < 1 || col > len(rows[row-1]) {
		return ""
	}
	return rows[row-1][col-1]
}

// HasTab reports whether the tab exists.
func (s *Sheet) HasTab(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tabs[name]
	return ok
}

func (s *Sheet) tabLocked(name string) *tab {
	t, ok := s.tabs[name]
	if !ok {
		t = &tab{grid: sheets.Grid{Rows: 1000, Cols: 26}}
		s.tabs[name] = t
	}
	return t
}

func (t *tab) grow() {
	t.grid.Rows = max(t.grid.Rows, len(t.cells))
	for _, r := range t.cells {
		t.grid.Cols = max(t.grid.Cols, len(r))
	}
}

func (t *tab) set(row, col int, v string) {
	for len(t.cells) < row {
		t.cells = append(t.cells, nil)
	}
	r := t.cells[row-1]
	for len(r) < col {
		r = append(r, "")
	}
	r[col-1] = v
	t.cells[row-1] = r
}

func (s *Sheet) ReadColumn(_ context.Context, name string, col int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[name]
	if !ok {
		return nil, eris.Wrap(sheets.ErrTabNotFound, name)
	}
	last := 0
	for i, r := range t.cells {
		if col <= len(r) && r[col-1] != "" {
			last = i + 1
		}
	}
	out := make([]string, last)
	for i := range last {
		if r := t.cells[i]; col <= len(r) {
			out[i] = r[col-1]
		}
	}
	return out, nil
}

func (s *Sheet) ReadRows(_ context.Context, name string) ([][]string, error) {
	if !s.HasTab(name) {
		return nil, eris.Errorf("sheetstest: no tab %q", name)
	}
	return s.Rows(name), nil
}

func (s *Sheet) Append(_ context.Context, name string, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	t, ok := s.tabs[name]
	if !ok {
		return eris.Errorf("sheetstest: no tab %q", name)
	}
	// Append writes after the last non-empty row.
	last := len(t.cells)
	for last > 0 && isEmpty(t.cells[last-1]) {
		last--
	}
	if last+len(rows) > t.grid.Rows {
		return eris.Errorf("sheetstest: append to %s exceeds %d rows", name, t.grid.Rows)
	}
	for _, r := range rows {
		if len(r) > t.grid.Cols {
			return eris.Errorf("sheetstest: append to %s exceeds %d columns", name, t.grid.Cols)
		}
	}
	t.cells = t.cells[:last]
	for _, r := range rows {
		t.cells = append(t.cells, stringify(r))
	}
	s.Writes++
	return nil
}

func (s *Sheet) BatchUpdate(_ context.Context, updates []sheets.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	for _, u := range updates {
		t, ok := s.tabs[u.Tab]
		if !ok {
			return eris.Errorf("sheetstest: no tab %q", u.Tab)
		}
		for i, r := range u.Values {
			for j, v := range stringify(r) {
				row, col := u.Row+i, u.Col+j
				if row > t.grid.Rows || col > t.grid.Cols {
					return eris.Errorf("sheetstest: %s exceeds grid %dx%d", sheets.Cell(u.Tab, row, col), t.grid.Rows, t.grid.Cols)
				}
				t.set(row, col, v)
			}
		}
	}
	s.Writes++
	return nil
}

func (s *Sheet) EnsureTab(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[name]; ok {
		return false, nil
	}
	if s.FailWrites != nil {
		return false, s.FailWrites
	}
	s.tabLocked(name)
	return true, nil
}

func (s *Sheet) GridSize(_ context.Context, name string) (sheets.Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[name]
	if !ok {
		return sheets.Grid{}, eris.Errorf("sheetstest: no tab %q", name)
	}
	return t.grid, nil
}

func (s *Sheet) Resize(_ context.Context, name string, g sheets.Grid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[name]
	if !ok {
		return eris.Errorf("sheetstest: no tab %q", name)
	}
	t.grid = g
	return nil
}

func isEmpty(r []string) bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}

func stringify(r []any) []string {
	out := make([]string, len(r))
	for i, v := range r {
		if v != nil {
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
