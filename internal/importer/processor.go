package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"flowmerge/internal/mapping"
	"flowmerge/internal/memory"
	"flowmerge/internal/model"
	"flowmerge/internal/parser"
	"flowmerge/internal/spreadsheet"
)

// RecordStore 批量处理依赖的存储
type RecordStore interface {
	GetTemplate(ctx context.Context, name string) (*model.Template, error)
	CreateBatch(ctx context.Context, id, templateName string, totalFiles int) error
	InsertBatch(ctx context.Context, accepted []model.AcceptedRecord, rejected []model.RejectedRecord) error
	FinishBatch(ctx context.Context, res *model.BatchResult) error
}

// MappingMemory 处理成功后记录确认过的映射
type MappingMemory interface {
	Store(template, signature string, mapping model.ColumnMapping) error
}

// Options 处理参数
type Options struct {
	MaxFiles      int
	BatchSize     int
	RetryAttempts int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	Timeout       time.Duration // 整个处理调用的上限，0 表示不限
}

// DefaultOptions 默认处理参数
func DefaultOptions() Options {
	return Options{
		MaxFiles:      20000,
		BatchSize:     500,
		RetryAttempts: 5,
		RetryInitial:  200 * time.Millisecond,
		RetryMax:      5 * time.Second,
		Timeout:       2 * time.Hour,
	}
}

// Request 一次批量处理请求；Mappings 以文件路径为键
type Request struct {
	BatchID      string
	TemplateName string
	Files        []string
	Mappings     map[string]model.ColumnMapping
}

// Processor 批量行处理器：逐文件、逐行转换，入库或进入待修正队列
type Processor struct {
	store  RecordStore
	memory MappingMemory
	opts   Options
	logger *slog.Logger
}

// NewProcessor 创建处理器；memory 可为 nil
func NewProcessor(store RecordStore, memory MappingMemory, opts Options, logger *slog.Logger) *Processor {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = def.MaxFiles
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = def.RetryAttempts
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = def.RetryInitial
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = opts.RetryInitial
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: store, memory: memory, opts: opts, logger: logger}
}

// Validate 处理前的硬性校验：文件数、模板、映射冲突与目标字段
func (p *Processor) Validate(ctx context.Context, req Request) (*model.Template, error) {
	if len(req.Files) == 0 {
		return nil, eris.Wrap(model.ErrNoFiles, "未选择任何文件")
	}
	if len(req.Files) > p.opts.MaxFiles {
		return nil, eris.Wrapf(model.ErrTooManyFiles, "选择了 %d 个文件，超过上限 %d", len(req.Files), p.opts.MaxFiles)
	}
	tpl, err := p.store.GetTemplate(ctx, req.TemplateName)
	if err != nil {
		return nil, eris.Wrapf(err, "模板「%s」不可用", req.TemplateName)
	}

	for _, path := range req.Files {
		name := filepath.Base(path)
		m, ok := req.Mappings[path]
		if !ok || m.Mapped() == 0 {
			return nil, eris.Wrapf(model.ErrMappingMissing, "文件 %s 未映射任何字段", name)
		}
		if conflicts := mapping.DetectConflicts(m); len(conflicts) > 0 {
			return nil, eris.Wrapf(model.ErrMappingConflict, "文件 %s 存在映射冲突: %s", name, mapping.ConflictMessage(conflicts))
		}
		for _, src := range m.Sources() {
			target := m[src]
			if target == "" {
				continue
			}
			if _, ok := tpl.Field(target); !ok {
				return nil, eris.Wrapf(model.ErrFieldNotFound, "文件 %s 的列「%s」映射到不存在的字段「%s」", name, src, target)
			}
		}
	}
	return tpl, nil
}

// Process 顺序处理所有文件；单行或单文件失败不会中断批次，提交重试耗尽时返回终止错误
func (p *Processor) Process(ctx context.Context, req Request, progress ProgressFunc) (*model.BatchResult, error) {
	if progress == nil {
		progress = func(ProgressEvent) {}
	}
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	tpl, err := p.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	res := &model.BatchResult{
		BatchID:      batchID,
		TemplateName: tpl.Name,
		Status:       model.BatchProcessing,
		Files:        make([]model.FileStats, 0, len(req.Files)),
		StartedAt:    time.Now(),
	}

	err = p.withRetry(ctx, "创建批次", progress, func(ctx context.Context) error {
		return p.store.CreateBatch(ctx, batchID, tpl.Name, len(req.Files))
	})
	if err != nil {
		return nil, err
	}

	progress(newEvent(EventStart, fmt.Sprintf("开始处理 %d 个文件", len(req.Files)), map[string]interface{}{
		"batch_id":    batchID,
		"total_files": len(req.Files),
		"template":    tpl.Name,
	}))

	for i, path := range req.Files {
		progress(newEvent(EventFileStart, fmt.Sprintf("正在处理文件 %d/%d: %s", i+1, len(req.Files), filepath.Base(path)), map[string]interface{}{
			"index": i,
			"path":  path,
		}))

		stats, err := p.processFile(ctx, batchID, tpl, path, req.Mappings[path], progress)
		p.recordFileResult(res, stats, progress)
		if err != nil {
			return p.fail(ctx, res, err)
		}
	}

	res.Status = model.BatchCompleted
	res.Duration = time.Since(res.StartedAt)
	if err := p.withRetry(ctx, "保存批次结果", progress, func(ctx context.Context) error {
		return p.store.FinishBatch(ctx, res)
	}); err != nil {
		return p.fail(ctx, res, err)
	}

	p.logger.Info("batch processed",
		"batch_id", batchID,
		"files", len(req.Files),
		"failed_files", res.FailedFiles,
		"processed", res.TotalProcessed,
		"accepted", res.TotalAccepted,
		"rejected", res.TotalRejected,
		"duration", res.Duration,
	)
	progress(newEvent(EventDone, fmt.Sprintf("处理完成：共 %d 行，入库 %d 行，待修正 %d 行，失败文件 %d 个",
		res.TotalProcessed, res.TotalAccepted, res.TotalRejected, res.FailedFiles), res))
	return res, nil
}

// fail 终止批次并尽力记录失败状态
func (p *Processor) fail(ctx context.Context, res *model.BatchResult, err error) (*model.BatchResult, error) {
	res.Status = model.BatchFailed
	res.Error = err.Error()
	res.Duration = time.Since(res.StartedAt)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ferr := p.store.FinishBatch(finishCtx, res); ferr != nil {
		p.logger.Error("failed to record batch failure", "batch_id", res.BatchID, "error", ferr)
	}
	p.logger.Error("batch aborted", "batch_id", res.BatchID, "error", err)
	return res, err
}

// recordFileResult 汇总单文件统计
func (p *Processor) recordFileResult(res *model.BatchResult, stats model.FileStats, progress ProgressFunc) {
	res.Files = append(res.Files, stats)
	res.TotalProcessed += stats.Accepted + stats.Rejected
	res.TotalAccepted += stats.Accepted
	res.TotalRejected += stats.Rejected

	if stats.Error != "" {
		res.FailedFiles++
		p.logger.Warn("file failed", "file", stats.Path, "error", stats.Error)
		progress(newEvent(EventFileError, fmt.Sprintf("文件 %s 处理失败: %s", stats.FileName, stats.Error), stats))
		return
	}
	progress(newEvent(EventFileDone, fmt.Sprintf("文件 %s 完成：入库 %d 行，待修正 %d 行", stats.FileName, stats.Accepted, stats.Rejected), stats))
}

// processFile 处理单个文件；返回的 error 仅表示提交终止，文件级错误写入 stats.Error
func (p *Processor) processFile(ctx context.Context, batchID string, tpl *model.Template, path string, m model.ColumnMapping, progress ProgressFunc) (model.FileStats, error) {
	stats := model.FileStats{Path: path, FileName: filepath.Base(path)}

	sheet, err := spreadsheet.Open(path)
	if err != nil {
		stats.Error = fmt.Sprintf("无法打开文件: %v", err)
		return stats, nil
	}
	defer sheet.Close()

	present := make(map[string]struct{}, len(sheet.Columns))
	for _, c := range sheet.Columns {
		present[c] = struct{}{}
	}
	for _, src := range m.Sources() {
		if m[src] == "" {
			continue
		}
		if _, ok := present[src]; !ok {
			stats.Error = fmt.Sprintf("映射的列「%s」在文件中不存在", src)
			return stats, nil
		}
	}

	var (
		accepted []model.AcceptedRecord
		rejected []model.RejectedRecord
	)
	flush := func() error {
		if len(accepted) == 0 && len(rejected) == 0 {
			return nil
		}
		err := p.withRetry(ctx, "提交批次", progress, func(ctx context.Context) error {
			return p.store.InsertBatch(ctx, accepted, rejected)
		})
		if err != nil {
			return err
		}
		stats.Accepted += len(accepted)
		stats.Rejected += len(rejected)
		accepted, rejected = accepted[:0], rejected[:0]
		return nil
	}

	for sheet.Next() {
		row := sheet.Row()
		if parser.IsEmptyRow(row.Values) {
			stats.Skipped++
			continue
		}
		stats.TotalRows++

		data, failure := parser.ConvertRow(row.Values, sheet.Columns, m, tpl)
		if failure != nil {
			rejected = append(rejected, model.RejectedRecord{
				BatchID:       batchID,
				TemplateName:  tpl.Name,
				SourceFile:    path,
				RowNumber:     row.Number,
				ColumnName:    failure.Column,
				TargetField:   failure.Field,
				OriginalValue: failure.Value,
				Reason:        failure.Reason,
				RawData:       row.Values,
				RawColumns:    sheet.Columns,
				Mapping:       m,
			})
		} else {
			accepted = append(accepted, model.AcceptedRecord{
				BatchID:      batchID,
				TemplateName: tpl.Name,
				SourceFile:   path,
				RowNumber:    row.Number,
				Data:         data,
			})
		}

		if len(accepted)+len(rejected) >= p.opts.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
			progress(newEvent(EventFileProgress, fmt.Sprintf("%s: 已处理 %d 行", stats.FileName, stats.TotalRows), stats))
		}
	}
	if err := sheet.Err(); err != nil {
		stats.Error = fmt.Sprintf("读取中断于第 %d 行后: %v", stats.TotalRows+stats.Skipped, err)
	}
	if err := flush(); err != nil {
		return stats, err
	}

	if stats.Error == "" && p.memory != nil {
		if err := p.memory.Store(tpl.Name, memory.Signature(sheet.Columns), m); err != nil {
			p.logger.Warn("failed to store template memory", "file", path, "error", err)
		}
	}
	return stats, nil
}

// Run 在后台执行 Process，通过通道推送进度；最后一个事件为 done 或 error
func (p *Processor) Run(ctx context.Context, req Request) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, 100)

	go func() {
		defer close(ch)
		res, err := p.Process(ctx, req, func(e ProgressEvent) {
			if e.Type == EventDone {
				return
			}
			sendProgress(ch, e)
		})
		if err != nil {
			ch <- newEvent(EventError, err.Error(), map[string]interface{}{
				"result":            res,
				"submission_failed": errors.Is(err, model.ErrSubmissionFailed),
			})
			return
		}
		ch <- newEvent(EventDone, "处理完成", res)
	}()

	return ch
}
