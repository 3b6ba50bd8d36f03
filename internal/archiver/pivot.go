package archiver

import (
	"slices"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/sheets"
)

// Target_History layout: rows 1-2 are headers, A..G describe the row and
// H holds the header labels. Each report adds one column from I onward.
const (
	pivotHeaderRows = 2
	pivotMetaCols   = 7
	pivotFirstCol   = 9
)

// Sub-rows written for every mentioned item.
const (
	FieldCurrent = "현재값"
	FieldTarget  = "목표값"
	FieldYear    = "목표연도"
)

var pivotFields = []string{FieldCurrent, FieldTarget, FieldYear}

var (
	pivotHeader1 = []any{"", "", "", "", "", "", "", "접수번호"}
	pivotHeader2 = []any{"영역", "카테고리", "항목ID", "항목명", "Core", "세부분류", "Level", "보고서일"}
)

// RowKey identifies one Target_History row.
type RowKey struct {
	ItemID string
	Field  string
}

type cellKey struct {
	row    RowKey
	report string
}

// Pivot is the Target_History table as a sparse map from (row, report) to
// value. It is projected back to cell writes only for the report being
// recorded, so prior report columns are never rewritten.
type Pivot struct {
	reports []string          // unique ids in column order
	cols    map[string]int    // unique id -> 1-based column
	lastCol int
	dates   map[string]string // unique id -> report date
	rows    []RowKey          // data rows in sheet order
	meta    map[RowKey][]any  // A..G of each row
	cells   map[cellKey]string

	sheetRow map[RowKey]int  // 1-based sheet row of each loaded row
	nextRow  int             // first sheet row after the loaded table
	touched  map[RowKey]bool // rows written by Record
	headed   bool            // header rows already present
}

// NewPivot returns an empty Pivot.
func NewPivot() *Pivot {
	return &Pivot{
		cols:    make(map[string]int),
		lastCol: pivotFirstCol - 1,
		dates:   make(map[string]string),
		meta:    make(map[RowKey][]any),
		cells:    make(map[cellKey]string),
		sheetRow: make(map[RowKey]int),
		nextRow:  pivotHeaderRows + 1,
		touched:  make(map[RowKey]bool),
	}
}

// LoadPivot parses the rows of an existing Target_History tab.
func LoadPivot(rows [][]string) *Pivot {
	p := NewPivot()
	if len(rows) == 0 {
		return p
	}
	p.headed = len(rows) >= pivotHeaderRows && cell(rows[1], 0) != ""

	ids := rows[0]
	var dates []string
	if len(rows) > 1 {
		dates = rows[1]
	}
	colReport := make(map[int]string)
	for c := pivotFirstCol - 1; c < len(ids); c++ {
		if id := ids[c]; id != "" {
			p.reports = append(p.reports, id)
			p.cols[id] = c + 1
			p.lastCol = c + 1
			p.dates[id] = cell(dates, c)
			colReport[c] = id
		}
	}

	// Blank and duplicate rows stay where they are; a key maps to the
	// first sheet row that carries it.
	for i := pivotHeaderRows; i < len(rows); i++ {
		row := rows[i]
		key := RowKey{ItemID: cell(row, 2), Field: cell(row, 5)}
		if key.ItemID == "" {
			continue
		}
		if _, dup := p.sheetRow[key]; !dup {
			p.rows = append(p.rows, key)
			p.sheetRow[key] = i + 1
			m := make([]any, pivotMetaCols)
			for j := range m {
				m[j] = cell(row, j)
			}
			p.meta[key] = m
		}
		for c, id := range colReport {
			ck := cellKey{key, id}
			if v := cell(row, c); v != "" && p.cells[ck] == "" {
				p.cells[ck] = v
			}
		}
	}
	p.nextRow = max(len(rows), pivotHeaderRows) + 1
	return p
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// Reports returns the recorded unique ids in column order.
func (p *Pivot) Reports() []string { return slices.Clone(p.reports) }

// Rows returns the row keys in sheet order.
func (p *Pivot) Rows() []RowKey { return slices.Clone(p.rows) }

// Value returns the cell for (row, report).
func (p *Pivot) Value(row RowKey, report string) string {
	return p.cells[cellKey{row, report}]
}

// Record stores one report's values. A report already present keeps its
// column; a new one is appended after the existing columns.
func (p *Pivot) Record(r *model.Rubric, e model.DisclosureEntry, res *model.AnalysisResult) {
	id := e.UniqueID
	if _, ok := p.cols[id]; !ok {
		p.lastCol++
		p.cols[id] = p.lastCol
		p.reports = append(p.reports, id)
	}
	p.dates[id] = e.ReportDate()

	for _, it := range r.Items {
		ir := res.PerItem[it.ItemID]
		if !ir.Mentioned() {
			continue
		}
		values := map[string]string{
			FieldCurrent: ir.CurrentValue,
			FieldTarget:  ir.TargetValue,
			FieldYear:    ir.TargetYear,
		}
		for _, f := range pivotFields {
			key := RowKey{ItemID: it.ItemID, Field: f}
			if _, ok := p.meta[key]; !ok {
				core := ""
				if it.IsCore {
					core = "Y"
				}
				p.rows = append(p.rows, key)
				p.meta[key] = []any{it.AreaName, it.CategoryName, it.ItemID, it.Name, core, f, ir.Level}
			}
			p.cells[cellKey{key, id}] = values[f]
			p.touched[key] = true
		}
	}
}

// column returns the 1-based sheet column of a report, or 0.
func (p *Pivot) column(report string) int {
	return p.cols[report]
}

// Width is the number of columns the table occupies.
func (p *Pivot) Width() int { return p.lastCol }

// Height is the number of rows the table occupies.
func (p *Pivot) Height() int { return p.nextRow - 1 + len(p.fresh()) }

// fresh returns the rows added by Record that have no sheet row yet.
func (p *Pivot) fresh() []RowKey {
	var out []RowKey
	for _, key := range p.rows {
		if _, ok := p.sheetRow[key]; !ok {
			out = append(out, key)
		}
	}
	return out
}

// Span returns the first and latest report dates and the report count.
func (p *Pivot) Span() (first, latest string, count int) {
	for _, d := range p.dates {
		if d == "" {
			continue
		}
		if first == "" || d < first {
			first = d
		}
		if d > latest {
			latest = d
		}
	}
	return first, latest, len(p.reports)
}

// Updates projects the column for report to cell writes: its two header
// cells, values on existing rows, and whole new rows.
func (p *Pivot) Updates(tab, report string) []sheets.Update {
	col := p.column(report)
	if col == 0 {
		return nil
	}
	var out []sheets.Update
	if !p.headed {
		out = append(out,
			sheets.Update{Tab: tab, Row: 1, Col: 1, Values: [][]any{pivotHeader1, pivotHeader2}},
		)
	}
	out = append(out, sheets.Update{Tab: tab, Row: 1, Col: col, Values: [][]any{{report}, {p.dates[report]}}})

	for _, key := range p.rows {
		row, ok := p.sheetRow[key]
		if !ok || !p.touched[key] {
			continue
		}
		out = append(out, sheets.Update{
			Tab: tab, Row: row, Col: col,
			Values: [][]any{{p.Value(key, report)}},
		})
	}

	if fresh := p.fresh(); len(fresh) > 0 {
		block := make([][]any, len(fresh))
		for i, key := range fresh {
			row := make([]any, col)
			copy(row, p.meta[key])
			for j := pivotMetaCols; j < col-1; j++ {
				row[j] = ""
			}
			row[col-1] = p.Value(key, report)
			block[i] = row
		}
		out = append(out, sheets.Update{Tab: tab, Row: p.nextRow, Col: 1, Values: block})
	}
	return out
}
