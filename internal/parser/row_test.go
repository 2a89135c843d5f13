package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmerge/internal/model"
)

func TestConvertRow_AcceptsNormalizedValues(t *testing.T) {
	tpl := model.DefaultTemplate()
	columns := []string{"交易日期", "金额", "摘要", "备用"}
	mapping := model.ColumnMapping{"交易日期": "记账日期", "金额": "交易金额", "摘要": "附言", "备用": ""}

	data, failure := ConvertRow(map[string]string{
		"交易日期": "20210305",
		"金额":   "1,200.50",
		"摘要":   "",
		"备用":   "ignored",
	}, columns, mapping, tpl)

	require.Nil(t, failure)
	assert.Equal(t, "2021-03-05", data["记账日期"])
	assert.Equal(t, 1200.5, data["交易金额"])
	assert.Contains(t, data, "附言")
	assert.Nil(t, data["附言"])
	assert.NotContains(t, data, "备用")
}

func TestConvertRow_FirstFailingColumnInFileOrder(t *testing.T) {
	tpl := model.DefaultTemplate()
	columns := []string{"序号", "交易日期"}
	mapping := model.ColumnMapping{"序号": "ID", "交易日期": "记账日期"}

	_, failure := ConvertRow(map[string]string{"序号": "abc123", "交易日期": "not-a-date"}, columns, mapping, tpl)

	require.NotNil(t, failure)
	assert.Equal(t, "序号", failure.Column)
	assert.Equal(t, "ID", failure.Field)
	assert.Equal(t, "abc123", failure.Value)
	assert.Contains(t, failure.Reason, "包含非数字字符")
}

func TestIsEmptyRow(t *testing.T) {
	assert.True(t, IsEmptyRow(map[string]string{"a": "", "b": "  "}))
	assert.False(t, IsEmptyRow(map[string]string{"a": "", "b": "x"}))
}
