package kind

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/resilience"
)

var (
	viewerCallRe  = regexp.MustCompile(`openDisclsViewer\s*\(\s*['"](\d+)['"]`)
	acptnoParamRe = regexp.MustCompile(`(?i)acptno[='"\s:]+['"]?(\d+)`)
	stockCodeRe   = regexp.MustCompile(`[A-Z]?\d{6}`)
	docNoRe       = regexp.MustCompile(`(?i)docno[='"\s:]+['"]?(\d+)`)
)

// rowSelectors are tried in order; KIND has shipped several list layouts.
var rowSelectors = []string{
	"table.list tbody tr",
	"table.tbl-list tbody tr",
	"div.list table tbody tr",
	"table tbody tr",
}

// parseListPage extracts entries from one list page. Rows that do not carry
// a receipt number are skipped. A page without any recognizable table
// yields zero entries and a DataShape error for logging.
func parseListPage(doc *goquery.Document, base string) ([]model.DisclosureEntry, error) {
	var rows *goquery.Selection
	for _, sel := range rowSelectors {
		rows = doc.Find(sel)
		if rows.Length() > 0 {
			break
		}
	}
	if rows == nil || rows.Length() == 0 {
		return nil, resilience.NewDataShapeError(eris.New("kind: no list rows found"))
	}

	entries := make([]model.DisclosureEntry, 0, rows.Length())
	rows.Each(func(i int, row *goquery.Selection) {
		e, ok := parseRow(row, base)
		if !ok {
			// "조회 결과가 없습니다" rows and spacer rows land here too.
			zap.L().Debug("kind: skipping unparseable row", zap.Int("row", i))
			return
		}
		entries = append(entries, e)
	})
	return entries, nil
}

func parseRow(row *goquery.Selection, base string) (model.DisclosureEntry, bool) {
	cells := row.Find("td")
	if cells.Length() < 4 {
		return model.DisclosureEntry{}, false
	}

	published, err := parseKSTTime(cleanText(cells.Eq(1).Text()))
	if err != nil {
		return model.DisclosureEntry{}, false
	}

	companyCell := cells.Eq(2)
	company := cleanText(companyCell.Find("a").First().Text())
	if company == "" {
		if parts := strings.Fields(companyCell.Text()); len(parts) > 0 {
			company = parts[0]
		}
	}
	companyHTML, _ := companyCell.Html()
	stockCode := stockCodeRe.FindString(companyCell.Text())
	if stockCode == "" {
		stockCode = stockCodeRe.FindString(companyHTML)
	}

	titleCell := cells.Eq(3)
	title := cleanText(titleCell.Text())
	if t, ok := titleCell.Find("a").First().Attr("title"); ok && strings.TrimSpace(t) != "" {
		title = cleanText(t)
	}

	acptno := ""
	if onclick, ok := titleCell.Find("a").First().Attr("onclick"); ok {
		if m := viewerCallRe.FindStringSubmatch(onclick); m != nil {
			acptno = m[1]
		}
	}
	if acptno == "" {
		rowHTML, _ := row.Html()
		if m := viewerCallRe.FindStringSubmatch(rowHTML); m != nil {
			acptno = m[1]
		} else if m := acptnoParamRe.FindStringSubmatch(rowHTML); m != nil {
			acptno = m[1]
		}
	}
	if acptno == "" {
		return model.DisclosureEntry{}, false
	}

	return model.DisclosureEntry{
		UniqueID:          acptno,
		CompanyName:       company,
		StockCode:         stockCode,
		Title:             title,
		PublishedAt:       published,
		SourceDocumentURL: PDFURL(base, acptno, ""),
		ViewerURL:         ViewerURL(base, acptno),
	}, true
}

// parseKSTTime accepts "2006-01-02 15:04" and bare dates.
func parseKSTTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02", "2006.01.02 15:04", "2006.01.02"} {
		if t, err := time.ParseInLocation(layout, s, model.KST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("kind: unparseable date %q", s)
}

// parseDocNo finds the main document number on a disclosure viewer page.
// The option value looks like "20251128000575|Y".
func parseDocNo(doc *goquery.Document) string {
	opt := doc.Find("select#mainDoc option[selected]").First()
	if opt.Length() == 0 {
		opt = doc.Find("select#mainDoc option").FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr("value")
			return strings.TrimSpace(v) != ""
		}).First()
	}
	if v, ok := opt.Attr("value"); ok && strings.TrimSpace(v) != "" {
		no, _, _ := strings.Cut(strings.TrimSpace(v), "|")
		return no
	}
	if v, ok := doc.Find(`input#docNo, input[name="docNo"]`).First().Attr("value"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	html, _ := doc.Html()
	if m := docNoRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// parseAttachmentLinks returns explicit PDF attachment hrefs on a viewer page.
func parseAttachmentLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		lower := strings.ToLower(href)
		if strings.Contains(lower, "pdfdownload.do") || strings.HasSuffix(lower, ".pdf") {
			links = append(links, href)
		}
	})
	return links
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
