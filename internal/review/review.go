package review

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rotisserie/eris"

	"flowmerge/internal/model"
	"flowmerge/internal/parser"
	"flowmerge/internal/store"
)

// Store 修正流程依赖的存储
type Store interface {
	GetTemplate(ctx context.Context, name string) (*model.Template, error)
	QueryRejected(ctx context.Context, q model.RejectedQuery) (*model.Page[model.RejectedRecord], error)
	GetRejected(ctx context.Context, id int64) (*model.RejectedRecord, error)
	UpdateRejected(ctx context.Context, id int64, upd store.RejectedUpdate) error
	DeleteRejected(ctx context.Context, id int64) error
	ResolveRejected(ctx context.Context, id int64, rec model.AcceptedRecord) error
	CountPendingRejected(ctx context.Context, batchID string) (int, error)
	ExcludePending(ctx context.Context, batchID string) (int, error)
	CountAccepted(ctx context.Context, q model.RecordQuery) (int, error)
	MarkBatchReviewed(ctx context.Context, id string, excluded int) error
}

// Service 待修正记录的人工修正流程
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService 创建修正服务
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// FixResult 修正结果
type FixResult struct {
	Accepted bool                  `json:"accepted"`
	Record   *model.RejectedRecord `json:"record"`
	Reason   string                `json:"reason,omitempty"`
}

// EditorField 修正界面的单个输入项
type EditorField struct {
	Column  string          `json:"column"`
	Field   string          `json:"field"`
	Type    model.FieldType `json:"type"`
	Input   string          `json:"input"` // text/number/date/time
	Value   string          `json:"value"`
	Failing bool            `json:"failing"`
}

// FinishResult 结束修正流程的汇总
type FinishResult struct {
	BatchID  string `json:"batch_id"`
	Pending  int    `json:"pending"`
	Excluded int    `json:"excluded"`
	Accepted int    `json:"accepted"`
	NeedsAck bool   `json:"needs_confirmation"`
	Finished bool   `json:"finished"`
}

// ListRejected 分页列出待修正记录
func (s *Service) ListRejected(ctx context.Context, batchID string, page, pageSize int) (*model.Page[model.RejectedRecord], error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 1 {
		page = 1
	}
	return s.store.QueryRejected(ctx, model.RejectedQuery{BatchID: batchID, Page: page, PageSize: pageSize})
}

func inputKind(t model.FieldType) string {
	switch t {
	case model.FieldInt, model.FieldFloat:
		return "number"
	case model.FieldDate:
		return "date"
	case model.FieldTime:
		return "time"
	}
	return "text"
}

// EditorFields 返回记录中每个已映射列的类型化输入项
func (s *Service) EditorFields(ctx context.Context, id int64) ([]EditorField, error) {
	rec, tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := []EditorField{}
	for _, col := range columnsOf(rec) {
		target := rec.Mapping[col]
		if target == "" {
			continue
		}
		f, ok := tpl.Field(target)
		if !ok {
			continue
		}
		fields = append(fields, EditorField{
			Column:  col,
			Field:   f.Name,
			Type:    f.Type,
			Input:   inputKind(f.Type),
			Value:   rec.RawData[col],
			Failing: col == rec.ColumnName,
		})
	}
	return fields, nil
}

// Fix 修正失败列的值并重新校验整行
func (s *Service) Fix(ctx context.Context, id int64, value string) (*FixResult, error) {
	rec, tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.revalidate(ctx, rec, tpl, map[string]string{rec.ColumnName: value})
}

// FixFields 按目标字段名批量修正
func (s *Service) FixFields(ctx context.Context, id int64, values map[string]string) (*FixResult, error) {
	rec, tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	bySource := make(map[string]string, len(values))
	for field, v := range values {
		src := ""
		for col, target := range rec.Mapping {
			if target == field {
				src = col
				break
			}
		}
		if src == "" {
			return nil, eris.Wrapf(model.ErrFieldNotFound, "字段「%s」未映射到任何列", field)
		}
		bySource[src] = v
	}
	return s.revalidate(ctx, rec, tpl, bySource)
}

func (s *Service) revalidate(ctx context.Context, rec *model.RejectedRecord, tpl *model.Template, patch map[string]string) (*FixResult, error) {
	raw := make(map[string]string, len(rec.RawData)+len(patch))
	for k, v := range rec.RawData {
		raw[k] = v
	}
	for k, v := range patch {
		raw[k] = v
	}

	data, failure := parser.ConvertRow(raw, columnsOf(rec), rec.Mapping, tpl)
	if failure != nil {
		upd := store.RejectedUpdate{
			ColumnName:    failure.Column,
			TargetField:   failure.Field,
			OriginalValue: failure.Value,
			Reason:        failure.Reason,
			RawData:       raw,
		}
		if err := s.store.UpdateRejected(ctx, rec.ID, upd); err != nil {
			return nil, eris.Wrapf(err, "更新待修正记录 %d 失败", rec.ID)
		}
		rec.ColumnName, rec.TargetField, rec.OriginalValue, rec.Reason, rec.RawData =
			upd.ColumnName, upd.TargetField, upd.OriginalValue, upd.Reason, raw
		return &FixResult{Accepted: false, Record: rec, Reason: failure.Reason}, nil
	}

	err := s.store.ResolveRejected(ctx, rec.ID, model.AcceptedRecord{
		BatchID:      rec.BatchID,
		TemplateName: rec.TemplateName,
		SourceFile:   rec.SourceFile,
		RowNumber:    rec.RowNumber,
		Data:         data,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "提交修正记录 %d 失败", rec.ID)
	}
	rec.Status = model.RejectedResolved
	rec.RawData = raw
	s.logger.Info("rejected row resolved", "id", rec.ID, "batch_id", rec.BatchID, "file", rec.SourceFile, "row", rec.RowNumber)
	return &FixResult{Accepted: true, Record: rec}, nil
}

// Discard 丢弃待修正记录
func (s *Service) Discard(ctx context.Context, id int64) error {
	if err := s.store.DeleteRejected(ctx, id); err != nil {
		return eris.Wrapf(err, "丢弃待修正记录 %d 失败", id)
	}
	s.logger.Info("rejected row discarded", "id", id)
	return nil
}

// Finish 结束修正流程；仍有未解决记录时需 confirm，确认后这些记录被排除在入库数据之外
func (s *Service) Finish(ctx context.Context, batchID string, confirm bool) (*FinishResult, error) {
	pending, err := s.store.CountPendingRejected(ctx, batchID)
	if err != nil {
		return nil, err
	}
	res := &FinishResult{BatchID: batchID, Pending: pending}
	if pending > 0 && !confirm {
		res.NeedsAck = true
		return res, eris.Wrapf(model.ErrUnresolvedRows, "仍有 %d 条待修正记录未处理，确认后将不会入库", pending)
	}

	if pending > 0 {
		if res.Excluded, err = s.store.ExcludePending(ctx, batchID); err != nil {
			return nil, err
		}
	}
	if batchID != "" {
		if err := s.store.MarkBatchReviewed(ctx, batchID, res.Excluded); err != nil {
			return nil, err
		}
	}
	if res.Accepted, err = s.store.CountAccepted(ctx, model.RecordQuery{BatchID: batchID}); err != nil {
		return nil, err
	}
	res.Pending = 0
	res.Finished = true
	s.logger.Info("review finished", "batch_id", batchID, "excluded", res.Excluded, "accepted", res.Accepted)
	return res, nil
}

func (s *Service) load(ctx context.Context, id int64) (*model.RejectedRecord, *model.Template, error) {
	rec, err := s.store.GetRejected(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != model.RejectedPending {
		return nil, nil, eris.Wrapf(model.ErrRejectedClosed, "记录 %d 状态为 %s", id, rec.Status)
	}
	tpl, err := s.store.GetTemplate(ctx, rec.TemplateName)
	if err != nil {
		if errors.Is(err, model.ErrTemplateNotFound) {
			return nil, nil, eris.Wrapf(err, "记录 %d 引用的模板「%s」已不存在", id, rec.TemplateName)
		}
		return nil, nil, err
	}
	return rec, tpl, nil
}

func columnsOf(rec *model.RejectedRecord) []string {
	if len(rec.RawColumns) > 0 {
		return rec.RawColumns
	}
	return rec.Mapping.Sources()
}
