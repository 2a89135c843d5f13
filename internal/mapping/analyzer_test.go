package mapping

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmerge/internal/memory"
	"flowmerge/internal/model"
	"flowmerge/internal/testutil"
)

func TestAnalyzer_ProposalsInFileOrder(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteWorkbook(t, dir, "flow.xlsx", [][]any{
		testutil.Headers("交易日期", "金额", "完全无关的列名称", "序号"),
		{"20210305", "12.50", "foo", 1},
		{"20210306", "13", "", 2},
		{"20210307", "14", "bar", 3},
	})

	a := NewAnalyzer(AnalyzerOptions{SampleRows: 2, SampleValues: 1, MinSimilarity: 0.6})
	res, err := a.Analyze(path, model.DefaultTemplate())
	require.NoError(t, err)

	assert.Equal(t, 2, res.SampledRows)
	require.Len(t, res.Proposals, 4)

	date := res.Proposals[0]
	assert.Equal(t, "交易日期", date.OriginalName)
	assert.Equal(t, "记账日期", date.MappedTo)
	assert.Equal(t, model.FieldInt, date.DetectedType)
	assert.Equal(t, []string{"20210305"}, date.SampleValues)

	amount := res.Proposals[1]
	assert.Equal(t, "交易金额", amount.MappedTo)
	assert.Equal(t, model.FieldFloat, amount.DetectedType)

	unrelated := res.Proposals[2]
	assert.Equal(t, "", unrelated.MappedTo)
	assert.NotEmpty(t, unrelated.Candidate)
	assert.Equal(t, model.ConfidenceLow, unrelated.Confidence)
	assert.Equal(t, model.FieldText, unrelated.DetectedType)

	assert.Equal(t, "ID", res.Proposals[3].MappedTo)
	assert.Equal(t, memory.Signature([]string{"交易日期", "金额", "完全无关的列名称", "序号"}), res.Signature)
}

func TestPipeline_CorruptFileReportsError(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(NewAnalyzer(DefaultAnalyzerOptions()), nil)

	res := p.Run(testutil.WriteCorrupt(t, dir, "broken.xlsx"), model.DefaultTemplate())
	assert.True(t, res.Failed())
	assert.Equal(t, "broken.xlsx", res.FileName)
	assert.Empty(t, res.Proposals)
}

func TestPipeline_ResolvesConflicts(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteWorkbook(t, dir, "dup.xlsx", [][]any{
		testutil.Headers("日期", "交易日期"),
		{"20210305", "20210305"},
	})
	p := NewPipeline(NewAnalyzer(DefaultAnalyzerOptions()), nil)

	res := p.Run(path, model.DefaultTemplate())
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, []string{StageAnalyze, StageResolve}, res.Stages)
	assert.Equal(t, "记账日期", res.Proposals[0].MappedTo)
	assert.Equal(t, "", res.Proposals[1].MappedTo)
	assert.True(t, res.Proposals[1].ConflictResolved)
}

func TestPipeline_OffersStoredMappingForSameColumnSet(t *testing.T) {
	dir := t.TempDir()
	mem, err := memory.Open(filepath.Join(dir, "memory.json"))
	require.NoError(t, err)
	tpl := model.DefaultTemplate()
	p := NewPipeline(NewAnalyzer(DefaultAnalyzerOptions()), mem)

	first := p.Run(testutil.WriteWorkbook(t, dir, "one.xlsx", [][]any{
		testutil.Headers("A", "B", "C"),
		{"x", "1", "20210305"},
	}), tpl)
	require.False(t, first.Failed(), first.Error)
	assert.Nil(t, first.MemoryOffer)

	confirmed := model.ColumnMapping{"A": "账户名", "B": "交易金额", "C": "记账日期"}
	require.NoError(t, mem.Store(tpl.Name, first.Signature, confirmed))

	second := p.Run(testutil.WriteWorkbook(t, dir, "two.xlsx", [][]any{
		testutil.Headers("C", "A", "B"),
		{"20210306", "y", "2"},
	}), tpl)
	require.NotNil(t, second.MemoryOffer)
	assert.Equal(t, first.Signature, second.MemoryOffer.Signature)
	assert.Equal(t, confirmed, second.MemoryOffer.Mapping)
	assert.Equal(t, []string{StageAnalyze, StageResolve, StageMemory}, second.Stages)

	// 命中记忆只是提供确认，不会自动覆盖
	for _, prop := range second.Proposals {
		assert.False(t, prop.FromMemory)
	}
}

func TestApplyMemory_ReplacesInsteadOfMerging(t *testing.T) {
	proposals := []model.ColumnProposal{
		proposal("交易日期", "记账日期", 1.0),
		proposal("金额", "交易金额", 1.0),
		{OriginalName: "x", MappedTo: "", ConflictResolved: true, ConflictInfo: "old"},
	}
	out := ApplyMemory(proposals, model.ColumnMapping{"交易日期": "记账日期", "金额": "", " X ": "附言"})

	assert.Equal(t, "记账日期", out[0].MappedTo)
	assert.True(t, out[0].FromMemory)
	assert.Equal(t, "", out[1].MappedTo)
	assert.False(t, out[1].FromMemory)
	assert.Equal(t, "附言", out[2].MappedTo)
	assert.False(t, out[2].ConflictResolved)
	assert.Empty(t, out[2].ConflictInfo)
}
