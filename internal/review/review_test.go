package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmerge/internal/model"
	"flowmerge/internal/store"
)

var flowMapping = model.ColumnMapping{"序号": "ID", "交易日期": "记账日期", "金额": "交易金额", "备注": ""}

func setup(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	require.NoError(t, s.EnsureDefaultTemplate(ctx))
	require.NoError(t, s.CreateBatch(ctx, "b1", model.DefaultTemplateName, 1))
	return NewService(s, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func addRejected(t *testing.T, s *store.Store, row int, raw map[string]string, column, field string) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertRejected(ctx, model.RejectedRecord{
		BatchID:       "b1",
		TemplateName:  model.DefaultTemplateName,
		SourceFile:    "/data/f1.xlsx",
		RowNumber:     row,
		ColumnName:    column,
		TargetField:   field,
		OriginalValue: raw[column],
		Reason:        "包含非数字字符",
		RawData:       raw,
		RawColumns:    []string{"序号", "交易日期", "金额", "备注"},
		Mapping:       flowMapping,
	}))
	page, err := s.QueryRejected(ctx, model.RejectedQuery{BatchID: "b1"})
	require.NoError(t, err)
	for _, r := range page.Items {
		if r.RowNumber == row {
			return r.ID
		}
	}
	t.Fatalf("rejected row %d not found", row)
	return 0
}

func TestFix_AcceptsCorrectedRow(t *testing.T) {
	svc, s := setup(t)
	ctx := context.Background()
	id := addRejected(t, s, 2, map[string]string{"序号": "abc123", "交易日期": "20210306", "金额": "1", "备注": ""}, "序号", "ID")

	res, err := svc.Fix(ctx, id, "123")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, model.RejectedResolved, res.Record.Status)

	page, err := s.QueryAccepted(ctx, model.RecordQuery{BatchID: "b1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	rec := page.Items[0]
	assert.Equal(t, 2, rec.RowNumber)
	assert.Equal(t, "/data/f1.xlsx", rec.SourceFile)
	assert.Equal(t, int64(123), rec.Data["ID"])
	assert.Equal(t, "2021-03-06", rec.Data["记账日期"])
	assert.Nil(t, rec.Data["备注"])

	_, err = svc.Fix(ctx, id, "124")
	assert.True(t, errors.Is(err, model.ErrRejectedClosed))
}

func TestFix_StillFailingKeepsRowPending(t *testing.T) {
	svc, s := setup(t)
	ctx := context.Background()
	id := addRejected(t, s, 3, map[string]string{"序号": "x", "交易日期": "不是日期", "金额": "1", "备注": ""}, "序号", "ID")

	// 修好第一个错误后，下一列的错误成为新的失败原因
	res, err := svc.Fix(ctx, id, "7")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "交易日期", res.Record.ColumnName)
	assert.Equal(t, "记账日期", res.Record.TargetField)
	assert.Contains(t, res.Reason, "日期格式无法识别")

	got, err := s.GetRejected(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RejectedPending, got.Status)
	assert.Equal(t, "7", got.RawData["序号"])
	assert.Equal(t, "交易日期", got.ColumnName)

	res, err = svc.FixFields(ctx, id, map[string]string{"记账日期": "2021/03/07"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	_, err = svc.FixFields(ctx, id, map[string]string{"不存在": "x"})
	assert.Error(t, err)
}

func TestFixFields_UnknownField(t *testing.T) {
	svc, s := setup(t)
	id := addRejected(t, s, 1, map[string]string{"序号": "x", "交易日期": "20210306", "金额": "1", "备注": ""}, "序号", "ID")
	_, err := svc.FixFields(context.Background(), id, map[string]string{"不存在": "x"})
	assert.True(t, errors.Is(err, model.ErrFieldNotFound))
}

func TestEditorFields(t *testing.T) {
	svc, s := setup(t)
	id := addRejected(t, s, 1, map[string]string{"序号": "x", "交易日期": "20210306", "金额": "1", "备注": "y"}, "序号", "ID")

	fields, err := svc.EditorFields(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, EditorField{Column: "序号", Field: "ID", Type: model.FieldInt, Input: "number", Value: "x", Failing: true}, fields[0])
	assert.Equal(t, "date", fields[1].Input)
	assert.Equal(t, "number", fields[2].Input)
	assert.False(t, fields[2].Failing)
}

func TestDiscardAndFinish(t *testing.T) {
	svc, s := setup(t)
	ctx := context.Background()
	raw := map[string]string{"序号": "x", "交易日期": "20210306", "金额": "1", "备注": ""}
	first := addRejected(t, s, 1, raw, "序号", "ID")
	addRejected(t, s, 2, raw, "序号", "ID")

	require.NoError(t, svc.Discard(ctx, first))
	_, err := s.GetRejected(ctx, first)
	assert.Error(t, err)

	res, err := svc.Finish(ctx, "b1", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnresolvedRows))
	assert.True(t, res.NeedsAck)
	assert.Equal(t, 1, res.Pending)

	res, err = svc.Finish(ctx, "b1", true)
	require.NoError(t, err)
	assert.True(t, res.Finished)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 0, res.Accepted)

	n, err := s.CountPendingRejected(ctx, "b1")
	require.NoError(t, err)
	assert.Zero(t, n)

	batch, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchReviewed, batch.Status)
	assert.Equal(t, 1, batch.Excluded)
}

func TestListRejected_PendingOnly(t *testing.T) {
	svc, s := setup(t)
	ctx := context.Background()
	raw := map[string]string{"序号": "x", "交易日期": "20210306", "金额": "1", "备注": ""}
	id := addRejected(t, s, 1, raw, "序号", "ID")
	addRejected(t, s, 2, raw, "序号", "ID")

	_, err := svc.Fix(ctx, id, "1")
	require.NoError(t, err)

	page, err := svc.ListRejected(ctx, "b1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 2, page.Items[0].RowNumber)
}
