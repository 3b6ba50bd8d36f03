package archiver

import (
	"strings"
	"unicode/utf8"

	"github.com/sells-group/valueup-cli/internal/model"
)

// List tab (밸류업공시목록) columns, 1-based.
const (
	ListColNumber    = 1  // A 번호
	ListColDate      = 2  // B 공시일자
	ListColCompany   = 3  // C 회사명
	ListColCode      = 4  // D 종목코드
	ListColTitle     = 5  // E 공시제목
	ListColID        = 6  // F 접수번호
	ListColSource    = 7  // G 원시PDF링크
	ListColDocument  = 8  // H 구글드라이브링크
	ListColCollected = 9  // I 수집일시
	ListColArtifact  = 10 // J 아티팩트링크
	ListColTokens    = 11 // K 예상토큰수
	ListColStatus    = 12 // L..P analysis metadata
	ListColCompanyWS = 16 // P 기업시트링크
)

// ListHeaders are the list tab headers A..P.
var ListHeaders = []string{
	"번호", "공시일자", "회사명", "종목코드", "공시제목", "접수번호",
	"원시PDF링크", "구글드라이브링크", "수집일시", "아티팩트링크",
	"예상토큰수", "분석상태", "분석일시", "분석항목수", "Core항목수", "기업시트링크",
}

// BaseHeaders precede the per-item columns in the results tab.
var BaseHeaders = []string{
	"접수번호", "회사명", "종목코드", "공시일자", "분석일시",
	"분석상태", "언급항목수", "Core언급수", "주요포인트",
}

// ItemSuffixes name the per-item result columns.
var ItemSuffixes = []string{"_level", "_current", "_target", "_year", "_note"}

const timeLayout = "2006-01-02 15:04:05"

// ResultHeaders returns the full results header for a rubric.
func ResultHeaders(r *model.Rubric) []string {
	h := make([]string, 0, len(BaseHeaders)+len(r.Items)*len(ItemSuffixes))
	h = append(h, BaseHeaders...)
	for _, id := range r.IDs() {
		for _, s := range ItemSuffixes {
			h = append(h, id+s)
		}
	}
	return h
}

// resultValues maps result headers to cell values.
func resultValues(r *model.Rubric, e model.DisclosureEntry, res *model.AnalysisResult, noteMax int) map[string]any {
	highlights := res.Summary
	if res.Status == model.AnalysisError {
		highlights = "ERROR: " + clip(res.Error, 200)
	}
	v := map[string]any{
		"접수번호":   e.UniqueID,
		"회사명":    e.CompanyName,
		"종목코드":   e.StockCode,
		"공시일자":   e.ReportDate(),
		"분석일시":   res.AnalyzedAt.In(model.KST).Format(timeLayout),
		"분석상태":   string(res.Status),
		"언급항목수":  res.MentionedItemCount,
		"Core언급수": res.CoreMentionedCount,
		"주요포인트":  highlights,
	}
	for _, id := range r.IDs() {
		ir := res.PerItem[id]
		v[id+"_level"] = ir.Level
		v[id+"_current"] = ir.CurrentValue
		v[id+"_target"] = ir.TargetValue
		v[id+"_year"] = ir.TargetYear
		v[id+"_note"] = clip(ir.Note, noteMax)
	}
	return v
}

// project orders values by header; unknown headers get "".
func project(header []string, values map[string]any) []any {
	row := make([]any, len(header))
	for i, h := range header {
		if v, ok := values[h]; ok {
			row[i] = v
		} else {
			row[i] = ""
		}
	}
	return row
}

// mergeHeader appends the wanted columns missing from have. It reports
// whether anything was added.
func mergeHeader(have, want []string) ([]string, bool) {
	present := make(map[string]bool, len(have))
	for _, h := range have {
		present[strings.TrimSpace(h)] = true
	}
	out := append([]string(nil), have...)
	for _, w := range want {
		if !present[w] {
			out = append(out, w)
		}
	}
	return out, len(out) != len(have)
}

func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
