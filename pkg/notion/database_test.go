package notion

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valueup-cli/pkg/notion/mocks"
)

func TestQueryAll_SinglePage(t *testing.T) {
	mc := mocks.NewMockClient(t)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{{ID: "p1"}, {ID: "p2"}},
		}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestQueryAll_FollowsCursorAndKeepsSorts(t *testing.T) {
	mc := mocks.NewMockClient(t)
	ctx := context.Background()
	sorts := []notionapi.SortObject{{Property: "item_id", Direction: notionapi.SortOrderASC}}

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == "" && len(req.Sorts) == 1
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}},
		HasMore:    true,
		NextCursor: notionapi.Cursor("cursor-abc"),
	}, nil).Once()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == notionapi.Cursor("cursor-abc") && len(req.Sorts) == 1
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p2"}},
	}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", &notionapi.DatabaseQueryRequest{Sorts: sorts})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, notionapi.ObjectID("p1"), pages[0].ID)
	assert.Equal(t, notionapi.ObjectID("p2"), pages[1].ID)
}

func TestQueryAll_Error(t *testing.T) {
	mc := mocks.NewMockClient(t)
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(nil, errors.New("boom")).Once()

	_, err := QueryAll(context.Background(), mc, "db-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: query all page")
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: s}}
}

func TestPropertyHelpers(t *testing.T) {
	props := notionapi.Properties{
		"item_id":   &notionapi.TitleProperty{Title: richText(" I01 ")},
		"item_name": &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: "자기자본"}, {PlainText: "이익률"}}},
		"area":      &notionapi.SelectProperty{Select: notionapi.Option{Name: "재무"}},
		"is_core":   &notionapi.CheckboxProperty{Checkbox: true},
		"weight":    &notionapi.NumberProperty{Number: 1.5},
		"tags":      &notionapi.MultiSelectProperty{MultiSelect: []notionapi.Option{{Name: "ROE"}, {Name: "자기자본이익률"}}},
		"keywords":  &notionapi.RichTextProperty{RichText: richText("배당; 자사주 , 소각")},
		"flag":      &notionapi.SelectProperty{Select: notionapi.Option{Name: "Y"}},
	}

	assert.Equal(t, "I01", Text(props, "item_id"))
	assert.Equal(t, "자기자본이익률", Text(props, "item_name"))
	assert.Equal(t, "재무", Text(props, "area"))
	assert.Equal(t, "1.5", Text(props, "weight"))
	assert.Equal(t, "", Text(props, "missing"))

	assert.True(t, Checkbox(props, "is_core"))
	assert.True(t, Checkbox(props, "flag"))
	assert.False(t, Checkbox(props, "area"))
	assert.False(t, Checkbox(props, "missing"))

	assert.Equal(t, []string{"ROE", "자기자본이익률"}, MultiText(props, "tags"))
	assert.Equal(t, []string{"배당", "자사주", "소각"}, MultiText(props, "keywords"))
	assert.Nil(t, MultiText(props, "missing"))
}
