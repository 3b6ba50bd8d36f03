package rubric

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valueup-cli/internal/sheets/sheetstest"
	"github.com/sells-group/valueup-cli/pkg/notion/mocks"
)

var frameworkHeader = []string{
	"section", "area_id", "area_name", "category_id", "category_name", "item_id",
	"item_name", "item_name_en", "unit", "is_core", "data_type", "description", "extraction_keywords",
}

func frameworkRows() [][]string {
	return [][]string{
		frameworkHeader,
		{"META", "", "", "", "", "", "", "", "", "", "", "버전: 2.1"},
		{"META", "", "", "", "", "", "", "", "", "", "", "최종수정일: 2025-01-10"},
		{"GUIDE", "", "", "", "", "", "", "", "", "", "", "--- 추출 규칙 ---"},
		{"GUIDE", "", "", "", "", "", "", "", "", "", "", "금액은 억원 단위"},
		{"ITEM", "A", "재무", "A1", "수익성", "I01", "ROE", "Return on equity", "%", "1.0", "ratio", "자기자본이익률", "ROE; 자기자본이익률 ;"},
		{"ITEM", "A", "재무", "A1", "수익성", "I02", "영업이익률", "", "%", "0", "ratio", "", ""},
		{"ITEM", "B", "주주환원", "B1", "배당", "I13", "배당성향", "", "%", "TRUE", "ratio"},
		{"ITEM", "B", "주주환원", "B1", "배당", "", "빈 항목"},
	}
}

func TestSheetSource_Load(t *testing.T) {
	sh := sheetstest.NewSheet("s")
	sh.SetRows("Framework", frameworkRows())

	r, err := (&SheetSource{Sheet: sh, Tab: "Framework"}).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2.1", r.Version)
	assert.Equal(t, "2025-01-10", r.UpdatedAt)
	assert.Equal(t, []string{"금액은 억원 단위"}, r.Guide)
	assert.Equal(t, []string{"I01", "I02", "I13"}, r.IDs())

	i01, ok := r.Item("I01")
	require.True(t, ok)
	assert.True(t, i01.IsCore)
	assert.Equal(t, "재무", i01.AreaName)
	assert.Equal(t, "A1", i01.Category)
	assert.Equal(t, []string{"ROE", "자기자본이익률"}, i01.Keywords)

	i02, _ := r.Item("I02")
	assert.False(t, i02.IsCore)
	assert.Nil(t, i02.Keywords)

	assert.Len(t, r.Core(), 2)
}

func TestSheetSource_EmptyTabIsInvalid(t *testing.T) {
	sh := sheetstest.NewSheet("s")
	sh.SetRows("Framework", [][]string{frameworkHeader})

	_, err := (&SheetSource{Sheet: sh, Tab: "Framework"}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no items")
}

func TestSheetSource_MissingTab(t *testing.T) {
	_, err := (&SheetSource{Sheet: sheetstest.NewSheet("s"), Tab: "Framework"}).Load(context.Background())
	require.Error(t, err)
}

func TestFromRecords_DuplicateIDs(t *testing.T) {
	_, err := FromRecords([]map[string]string{
		{"section": "ITEM", "item_id": "I01"},
		{"section": "ITEM", "item_id": "I01"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"1", "1.0", "true", "TRUE", " y ", "yes"} {
		assert.True(t, ParseBool(s), s)
	}
	for _, s := range []string{"", "0", "0.0", "false", "no", "core"} {
		assert.False(t, ParseBool(s), s)
	}
}

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rubric.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "2.1"
updated_at: "2025-01-10"
guide:
  - 금액은 억원 단위
items:
  - item_id: I01
    area: A
    area_name: 재무
    category: A1
    category_name: 수익성
    name: ROE
    unit: "%"
    is_core: true
    keywords: [ROE, 자기자본이익률]
  - item_id: I02
    area: A
    name: 영업이익률
`), 0o644))

	r, err := (&FileSource{Path: path}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.1", r.Version)
	assert.Equal(t, []string{"I01", "I02"}, r.IDs())
	assert.True(t, r.Items[0].IsCore)
	assert.Equal(t, []string{"ROE", "자기자본이익률"}, r.Items[0].Keywords)
}

func TestFileSource_Errors(t *testing.T) {
	_, err := (&FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}).Load(context.Background())
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("items: {not: [a list"), 0o644))
	_, err = (&FileSource{Path: path}).Load(context.Background())
	require.Error(t, err)
}

func rt(s string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: s}}
}

func TestNotionSource_Load(t *testing.T) {
	mc := mocks.NewMockClient(t)
	edited := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

	mc.On("QueryDatabase", mock.Anything, "db-rubric", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return len(req.Sorts) == 1 && req.Sorts[0].Property == "item_id"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{
			{
				ID:             "p1",
				LastEditedTime: edited,
				Properties: notionapi.Properties{
					"Name":                &notionapi.TitleProperty{Title: rt("ROE")},
					"item_id":             &notionapi.RichTextProperty{RichText: rt("I01")},
					"area_id":             &notionapi.SelectProperty{Select: notionapi.Option{Name: "A"}},
					"area_name":           &notionapi.RichTextProperty{RichText: rt("재무")},
					"is_core":             &notionapi.CheckboxProperty{Checkbox: true},
					"extraction_keywords": &notionapi.MultiSelectProperty{MultiSelect: []notionapi.Option{{Name: "ROE"}}},
				},
			},
			{
				ID: "p2",
				Properties: notionapi.Properties{
					"Name": &notionapi.TitleProperty{Title: rt("no id")},
				},
			},
		},
	}, nil).Once()

	r, err := (&NotionSource{Client: mc, DatabaseID: "db-rubric"}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Items, 1)
	assert.Equal(t, "ROE", r.Items[0].Name)
	assert.Equal(t, "A", r.Items[0].Area)
	assert.True(t, r.Items[0].IsCore)
	assert.Equal(t, []string{"ROE"}, r.Items[0].Keywords)
	assert.Equal(t, "2025-02-03", r.UpdatedAt)
}
