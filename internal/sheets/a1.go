package sheets

import (
	"fmt"
	"strings"
)

// ColumnLetter converts a 1-based column index to its A1 letters
// (1=A, 26=Z, 27=AA). Non-positive input yields "".
func ColumnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// ColumnIndex converts A1 column letters to a 1-based index. It returns 0
// for anything that is not a column reference.
func ColumnIndex(letters string) int {
	n := 0
	for _, r := range strings.ToUpper(letters) {
		if r < 'A' || r > 'Z' {
			return 0
		}
		n = n*26 + int(r-'A'+1)
	}
	return n
}

// QuoteTab quotes a tab title for use in A1 notation.
func QuoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// Cell renders a single-cell A1 reference. row and col are 1-based.
func Cell(tab string, row, col int) string {
	return fmt.Sprintf("%s!%s%d", QuoteTab(tab), ColumnLetter(col), row)
}

// Range renders a rectangular A1 range. All indexes are 1-based.
func Range(tab string, row1, col1, row2, col2 int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", QuoteTab(tab), ColumnLetter(col1), row1, ColumnLetter(col2), row2)
}

// URL returns the browser link for a spreadsheet.
func URL(spreadsheetID string) string {
	return "https://docs.google.com/spreadsheets/d/" + spreadsheetID
}
