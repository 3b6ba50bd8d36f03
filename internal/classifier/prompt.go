package classifier

import (
	"fmt"
	"strings"

	"github.com/sells-group/valueup-cli/internal/model"
)

const extractionRules = `당신은 한국 상장기업의 '기업가치 제고 계획(밸류업)' 공시를 분석하는 전문가입니다.
주어진 공시 문서를 분석하여 프레임워크에 정의된 각 항목별로 정보를 추출하세요.

## 추출 규칙
1. level (필수)
   - 0: 해당 항목에 대한 언급이 없음
   - 1: 정성적 언급만 있음 (방향/계획만)
   - 2: 현재 수치 또는 목표 수치 중 하나가 제시됨
   - 3: 현재 수치와 목표 수치가 목표 연도와 함께 제시됨
2. current_value: 현재 실적 또는 누적 이행 현황. 없으면 null
3. target_value: 목표 수치 (범위면 "최소~최대"). 없으면 null
4. target_year: 목표 달성 연도 (예: 2027). 없으면 null
5. note: 근거 문장 인용 또는 요약 (100자 이내). 언급이 없으면 빈 문자열

## 주의사항
- 금액 단위는 억원으로 통일 (1조원 = 10000억원), 주식수는 주 단위
- 비율은 % 단위, 숫자만 기재
- 불확실한 정보는 추측하지 말고 null
- Core 항목은 반드시 분석 시도
- 응답은 JSON 객체 하나만 출력
`

// truncationMarker joins the head and tail of an over-long document.
const truncationMarker = "\n\n... [중략] ...\n\n"

// SystemPrompt renders the cached system prompt: extraction rules, the
// rubric and the response schema. It depends only on the rubric.
func SystemPrompt(r *model.Rubric) string {
	var b strings.Builder
	b.WriteString(extractionRules)
	b.WriteString("\n")
	b.WriteString(r.PromptText())
	b.WriteString("\n## 응답 형식\n```json\n{\n  \"company_name\": \"\",\n  \"analysis_items\": {\n")
	ids := r.IDs()
	for i, id := range ids {
		comma := ","
		if i == len(ids)-1 {
			comma = ""
		}
		fmt.Fprintf(&b, "    %q: {\"level\": 0, \"current_value\": null, \"target_value\": null, \"target_year\": null, \"note\": \"\"}%s\n", id, comma)
	}
	b.WriteString("  },\n  \"summary\": {\"key_highlights\": []}\n}\n```\n")
	return b.String()
}

// UserPrompt renders the per-entry prompt. With an empty body the document
// is expected as an attached PDF.
func UserPrompt(e model.DisclosureEntry, body string) string {
	var b strings.Builder
	b.WriteString("## 분석 대상\n")
	fmt.Fprintf(&b, "- 회사명: %s\n", e.CompanyName)
	if e.StockCode != "" {
		fmt.Fprintf(&b, "- 종목코드: %s\n", e.StockCode)
	}
	fmt.Fprintf(&b, "- 공시일자: %s\n", e.ReportDate())
	fmt.Fprintf(&b, "- 공시제목: %s\n\n", e.Title)
	if body == "" {
		b.WriteString("첨부된 PDF 문서를 분석하여 시스템 지시의 JSON 형식으로만 응답하세요.\n")
		return b.String()
	}
	b.WriteString("## 공시 내용\n```\n")
	b.WriteString(body)
	b.WriteString("\n```\n\n시스템 지시의 JSON 형식으로만 응답하세요.\n")
	return b.String()
}

// Truncate bounds text to maxChars runes by keeping the first 60% and the
// last 40% joined by a marker. The bool reports whether text was cut.
func Truncate(text string, maxChars int) (string, bool) {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text, false
	}
	head := maxChars * 6 / 10
	tail := maxChars - head
	return string(runes[:head]) + truncationMarker + string(runes[len(runes)-tail:]), true
}
