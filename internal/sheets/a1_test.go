package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "A"},
		{6, "F"},
		{26, "Z"},
		{27, "AA"},
		{52, "AZ"},
		{53, "BA"},
		{702, "ZZ"},
		{703, "AAA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ColumnLetter(tt.n), "n=%d", tt.n)
		if tt.n > 0 {
			assert.Equal(t, tt.n, ColumnIndex(tt.want))
		}
	}
	assert.Equal(t, 0, ColumnIndex("A1"))
}

func TestRefs(t *testing.T) {
	assert.Equal(t, "'밸류업공시목록'!K5", Cell("밸류업공시목록", 5, 11))
	assert.Equal(t, "'Target_History'!A3:AB9", Range("Target_History", 3, 1, 9, 28))
	assert.Equal(t, "'it''s'", QuoteTab("it's"))
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/abc", URL("abc"))
}
