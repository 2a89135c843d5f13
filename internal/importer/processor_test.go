package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmerge/internal/memory"
	"flowmerge/internal/model"
	"flowmerge/internal/store"
	"flowmerge/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureDefaultTemplate(context.Background()))
	return s
}

func fastOptions() Options {
	return Options{MaxFiles: 10, BatchSize: 2, RetryAttempts: 3, RetryInitial: time.Millisecond, RetryMax: 2 * time.Millisecond}
}

var flowMapping = model.ColumnMapping{"序号": "ID", "交易日期": "记账日期", "金额": "交易金额", "备注": ""}

func writeFlow(t *testing.T, dir, name string, rows ...[]any) string {
	t.Helper()
	all := append([][]any{testutil.Headers("序号", "交易日期", "金额", "备注")}, rows...)
	return testutil.WriteWorkbook(t, dir, name, all)
}

func TestProcess_CorruptFileDoesNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t)
	mem, err := memory.Open(filepath.Join(dir, "memory.json"))
	require.NoError(t, err)

	f1 := writeFlow(t, dir, "f1.xlsx",
		[]any{1, "20210305", "100.5", "x"},
		[]any{"abc123", "20210306", "1", ""},
		[]any{3, "20210307", "2", ""},
	)
	f2 := testutil.WriteCorrupt(t, dir, "f2.xlsx")
	f3 := writeFlow(t, dir, "f3.xlsx",
		[]any{},
		[]any{4, "not a date", "5", ""},
		[]any{5, "2021/03/08", "", ""},
	)

	var events []ProgressEvent
	p := NewProcessor(s, mem, fastOptions(), quietLogger())
	res, err := p.Process(context.Background(), Request{
		TemplateName: model.DefaultTemplateName,
		Files:        []string{f1, f2, f3},
		Mappings:     map[string]model.ColumnMapping{f1: flowMapping, f2: flowMapping, f3: flowMapping},
	}, func(e ProgressEvent) { events = append(events, e) })
	require.NoError(t, err)

	assert.Equal(t, model.BatchCompleted, res.Status)
	require.Len(t, res.Files, 3)
	assert.Equal(t, 2, res.Files[0].Accepted)
	assert.Equal(t, 1, res.Files[0].Rejected)
	assert.NotEmpty(t, res.Files[1].Error)
	assert.Equal(t, 0, res.Files[1].Accepted)
	assert.Equal(t, 1, res.Files[2].Accepted)
	assert.Equal(t, 1, res.Files[2].Rejected)
	assert.Equal(t, 1, res.Files[2].Skipped)
	assert.Equal(t, 1, res.FailedFiles)
	assert.Equal(t, 5, res.TotalProcessed)
	assert.Equal(t, 3, res.TotalAccepted)
	assert.Equal(t, 2, res.TotalRejected)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, EventDone, events[len(events)-1].Type)

	ctx := context.Background()
	page, err := s.QueryAccepted(ctx, model.RecordQuery{BatchID: res.BatchID, SortField: "row_number"})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)

	rejected, err := s.QueryRejected(ctx, model.RejectedQuery{BatchID: res.BatchID})
	require.NoError(t, err)
	require.Len(t, rejected.Items, 2)
	first := rejected.Items[0]
	assert.Equal(t, "序号", first.ColumnName)
	assert.Equal(t, "abc123", first.OriginalValue)
	assert.Equal(t, 2, first.RowNumber)
	assert.Contains(t, first.Reason, "包含非数字字符")
	assert.Equal(t, "20210306", first.RawData["交易日期"])
	assert.Equal(t, "交易日期", rejected.Items[1].ColumnName)
	assert.Equal(t, 2, rejected.Items[1].RowNumber)

	batch, err := s.GetBatch(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.FailedFiles)
	assert.Equal(t, 2, batch.TotalRejected)

	// 成功处理的文件写入模板记忆
	stored, ok := mem.Lookup(model.DefaultTemplateName, memory.Signature([]string{"交易日期", "备注", "序号", "金额"}))
	require.True(t, ok)
	assert.Equal(t, flowMapping, stored)
}

func TestProcess_AcceptsNormalizedRow(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t)
	f := writeFlow(t, dir, "a.xlsx", []any{7, "20210305", "1,000.25", "memo"})

	p := NewProcessor(s, nil, fastOptions(), quietLogger())
	res, err := p.Process(context.Background(), Request{
		TemplateName: model.DefaultTemplateName,
		Files:        []string{f},
		Mappings:     map[string]model.ColumnMapping{f: flowMapping},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalAccepted)

	page, err := s.QueryAccepted(context.Background(), model.RecordQuery{BatchID: res.BatchID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	rec := page.Items[0]
	assert.Equal(t, "2021-03-05", rec.Data["记账日期"])
	assert.Equal(t, int64(7), rec.Data["ID"])
	assert.Equal(t, 1000.25, rec.Data["交易金额"])
	assert.NotContains(t, rec.Data, "附言")
	assert.Equal(t, 1, rec.RowNumber)
}

func TestProcess_OverflowingCellIsRejectedRow(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t)
	f1 := writeFlow(t, dir, "f1.xlsx",
		[]any{1, "20210305", "1e400", ""},
		[]any{2, "20210306", "8", ""},
	)
	f2 := writeFlow(t, dir, "f2.xlsx", []any{3, "20210307", "9", ""})

	p := NewProcessor(s, nil, fastOptions(), quietLogger())
	res, err := p.Process(context.Background(), Request{
		TemplateName: model.DefaultTemplateName,
		Files:        []string{f1, f2},
		Mappings:     map[string]model.ColumnMapping{f1: flowMapping, f2: flowMapping},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, model.BatchCompleted, res.Status)
	require.Len(t, res.Files, 2)
	assert.Equal(t, 1, res.Files[0].Accepted)
	assert.Equal(t, 1, res.Files[0].Rejected)
	assert.Equal(t, 1, res.Files[1].Accepted)
	assert.Equal(t, 2, res.TotalAccepted)

	rejected, err := s.QueryRejected(context.Background(), model.RejectedQuery{BatchID: res.BatchID})
	require.NoError(t, err)
	require.Len(t, rejected.Items, 1)
	assert.Equal(t, "金额", rejected.Items[0].ColumnName)
	assert.Contains(t, rejected.Items[0].Reason, "数值超出范围")
}

func TestValidate_RejectsUpFront(t *testing.T) {
	s := newStore(t)
	p := NewProcessor(s, nil, Options{MaxFiles: 2}, quietLogger())
	ctx := context.Background()
	good := map[string]model.ColumnMapping{"a": {"x": "ID"}, "b": {"x": "ID"}, "c": {"x": "ID"}}

	_, err := p.Validate(ctx, Request{TemplateName: model.DefaultTemplateName})
	assert.True(t, errors.Is(err, model.ErrNoFiles))

	_, err = p.Validate(ctx, Request{TemplateName: model.DefaultTemplateName, Files: []string{"a", "b", "c"}, Mappings: good})
	assert.True(t, errors.Is(err, model.ErrTooManyFiles))

	_, err = p.Validate(ctx, Request{TemplateName: "missing", Files: []string{"a"}, Mappings: good})
	assert.True(t, errors.Is(err, model.ErrTemplateNotFound))

	_, err = p.Validate(ctx, Request{TemplateName: model.DefaultTemplateName, Files: []string{"a"},
		Mappings: map[string]model.ColumnMapping{"a": {"日期": "记账日期", "交易日期": "记账日期"}}})
	assert.True(t, errors.Is(err, model.ErrMappingConflict))

	_, err = p.Validate(ctx, Request{TemplateName: model.DefaultTemplateName, Files: []string{"a"},
		Mappings: map[string]model.ColumnMapping{"a": {"x": "不存在的字段"}}})
	assert.True(t, errors.Is(err, model.ErrFieldNotFound))

	_, err = p.Validate(ctx, Request{TemplateName: model.DefaultTemplateName, Files: []string{"a"},
		Mappings: map[string]model.ColumnMapping{"a": {"x": ""}}})
	assert.True(t, errors.Is(err, model.ErrMappingMissing))
}

// flakyStore 前 failures 次 InsertBatch 返回错误
type flakyStore struct {
	*store.Store
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyStore) InsertBatch(ctx context.Context, a []model.AcceptedRecord, r []model.RejectedRecord) error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return f.Store.InsertBatch(ctx, a, r)
}

func TestProcess_RetriesTransientSubmission(t *testing.T) {
	dir := t.TempDir()
	fs := &flakyStore{Store: newStore(t), failures: 2, err: errors.New("database is locked")}
	f := writeFlow(t, dir, "a.xlsx", []any{1, "20210305", "1", ""})

	var retries int
	p := NewProcessor(fs, nil, fastOptions(), quietLogger())
	res, err := p.Process(context.Background(), Request{
		TemplateName: model.DefaultTemplateName,
		Files:        []string{f},
		Mappings:     map[string]model.ColumnMapping{f: flowMapping},
	}, func(e ProgressEvent) {
		if e.Type == EventRetry {
			retries++
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalAccepted)
	assert.Equal(t, 2, retries)
	assert.Equal(t, int32(3), fs.calls.Load())
}

func TestProcess_SubmissionExhaustedIsTerminal(t *testing.T) {
	dir := t.TempDir()
	fs := &flakyStore{Store: newStore(t), failures: 100, err: errors.New("database is locked")}
	f := writeFlow(t, dir, "a.xlsx", []any{1, "20210305", "1", ""})

	p := NewProcessor(fs, nil, fastOptions(), quietLogger())
	res, err := p.Process(context.Background(), Request{
		TemplateName: model.DefaultTemplateName,
		Files:        []string{f},
		Mappings:     map[string]model.ColumnMapping{f: flowMapping},
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSubmissionFailed))
	var se *SubmissionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 3, se.Attempts)
	assert.Contains(t, err.Error(), "减少单次处理的文件数量")
	assert.Equal(t, model.BatchFailed, res.Status)
	assert.Equal(t, int32(3), fs.calls.Load())

	batch, err := fs.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, batch.Status)
}

func TestProcess_PermanentErrorNotRetried(t *testing.T) {
	dir := t.TempDir()
	fs := &flakyStore{Store: newStore(t), failures: 100, err: errors.New("constraint failed")}
	f := writeFlow(t, dir, "a.xlsx", []any{1, "20210305", "1", ""})

	p := NewProcessor(fs, nil, fastOptions(), quietLogger())
	_, err := p.Process(context.Background(), Request{
		TemplateName: model.DefaultTemplateName,
		Files:        []string{f},
		Mappings:     map[string]model.ColumnMapping{f: flowMapping},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), fs.calls.Load())
}

func TestRun_StreamsEventsAndFinishes(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t)
	f := writeFlow(t, dir, "a.xlsx", []any{1, "20210305", "1", ""})

	p := NewProcessor(s, nil, fastOptions(), quietLogger())
	var last ProgressEvent
	for e := range p.Run(context.Background(), Request{
		TemplateName: model.DefaultTemplateName,
		Files:        []string{f},
		Mappings:     map[string]model.ColumnMapping{f: flowMapping},
	}) {
		last = e
	}
	require.Equal(t, EventDone, last.Type)
	res, ok := last.Data.(*model.BatchResult)
	require.True(t, ok)
	assert.Equal(t, 1, res.TotalAccepted)

	for e := range p.Run(context.Background(), Request{TemplateName: model.DefaultTemplateName}) {
		last = e
	}
	assert.Equal(t, EventError, last.Type)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("database is locked")))
	assert.True(t, IsTransient(errors.New("SQLITE_BUSY: database busy")))
	assert.False(t, IsTransient(errors.New("UNIQUE constraint failed")))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
}
