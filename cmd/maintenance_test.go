package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/valueup-cli/internal/model"
)

func TestPrintRubric_Core(t *testing.T) {
	r := &model.Rubric{Items: []model.RubricItem{
		{ItemID: "I01", AreaName: "재무", Name: "ROE", IsCore: true},
		{ItemID: "I02", AreaName: "재무", Name: "영업이익률"},
	}}

	var buf bytes.Buffer
	printRubric(&buf, r, true)
	assert.Equal(t, "I01\t재무\tROE\n", buf.String())

	buf.Reset()
	printRubric(&buf, r, false)
	assert.Contains(t, buf.String(), "I02")
}
