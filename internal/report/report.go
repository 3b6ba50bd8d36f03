// Package report exports run results to an Excel workbook.
package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/valueup-cli/internal/model"
)

// Sheet names.
const (
	SummarySheet = "Summary"
	ItemsSheet   = "Items"
)

var summaryHeader = []string{
	"접수번호", "회사명", "종목코드", "공시일자", "분석상태", "언급항목수", "Core언급수",
	"제공자", "모델", "입력토큰", "출력토큰", "비용(USD)", "문서링크", "주요포인트", "오류",
}

var itemsHeader = []string{
	"접수번호", "회사명", "항목ID", "영역", "항목명", "Core", "Level", "현재값", "목표값", "목표연도", "비고",
}

// WriteWorkbook writes one Summary row per outcome with a result and one
// Items row per mentioned rubric item.
func WriteWorkbook(path string, r *model.Rubric, outcomes []model.Outcome) error {
	f := xlsx.NewFile()
	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	items, err := f.AddSheet(ItemsSheet)
	if err != nil {
		return eris.Wrap(err, "report: add items sheet")
	}
	addHeader(summary, summaryHeader)
	addHeader(items, itemsHeader)

	for _, o := range outcomes {
		res := o.Result
		if res == nil {
			continue
		}
		e := o.Entry

		row := summary.AddRow()
		addStrings(row, e.UniqueID, e.CompanyName, e.StockCode, e.ReportDate(), string(res.Status))
		row.AddCell().SetInt(res.MentionedItemCount)
		row.AddCell().SetInt(res.CoreMentionedCount)
		addStrings(row, res.Provider, res.Model)
		row.AddCell().SetInt64(res.Usage.InputTokens)
		row.AddCell().SetInt64(res.Usage.OutputTokens)
		row.AddCell().SetFloatWithFormat(res.Usage.CostUSD, "0.0000")
		addStrings(row, o.DocumentLink, res.Summary, res.Error)

		for _, it := range r.Items {
			ir := res.PerItem[it.ItemID]
			if !ir.Mentioned() {
				continue
			}
			core := ""
			if it.IsCore {
				core = "Y"
			}
			irow := items.AddRow()
			addStrings(irow, e.UniqueID, e.CompanyName, it.ItemID, it.AreaName, it.Name, core)
			irow.AddCell().SetInt(ir.Level)
			addStrings(irow, ir.CurrentValue, ir.TargetValue, ir.TargetYear, ir.Note)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, header []string) {
	addStrings(sheet.AddRow(), header...)
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
