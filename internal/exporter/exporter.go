package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"flowmerge/internal/model"
	"flowmerge/internal/store"
)

// DefaultMaxRowsPerFile 单个导出文件的数据行上限，超出后拆分为多个文件
const DefaultMaxRowsPerFile = 20000

const sheetName = "Sheet1"

// Source 导出数据来源
type Source interface {
	GetTemplate(ctx context.Context, name string) (*model.Template, error)
	GetDefaultTemplate(ctx context.Context) (string, error)
	CountAccepted(ctx context.Context, q model.RecordQuery) (int, error)
	IterateAccepted(ctx context.Context, q model.RecordQuery, fn func(model.AcceptedRecord) error) error
}

// Exporter 把筛选后的入库记录导出为 xlsx
type Exporter struct {
	source  Source
	maxRows int
	logger  *slog.Logger
}

// NewExporter 创建导出器；maxRows <= 0 时使用默认上限
func NewExporter(source Source, maxRows int, logger *slog.Logger) *Exporter {
	if maxRows <= 0 {
		maxRows = DefaultMaxRowsPerFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{source: source, maxRows: maxRows, logger: logger}
}

// Result 导出结果
type Result struct {
	Files []string `json:"files"`
	Rows  int      `json:"rows"`
}

// Export 按查询条件导出到 outPath；行数超过上限时写成 <base>_1.xlsx、<base>_2.xlsx ...
func (e *Exporter) Export(ctx context.Context, q model.RecordQuery, outPath string, progress func(ProgressEvent)) (*Result, error) {
	if q.TemplateName == "" {
		def, err := e.source.GetDefaultTemplate(ctx)
		if err != nil {
			return nil, err
		}
		q.TemplateName = def
	}
	tpl, err := e.source.GetTemplate(ctx, q.TemplateName)
	if err != nil {
		return nil, eris.Wrapf(err, "模板「%s」不可用", q.TemplateName)
	}
	q = q.WithFieldTypes(tpl)
	q.Page, q.PageSize = 0, 0

	total, err := e.source.CountAccepted(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("创建导出目录失败: %w", err)
	}

	split := total > e.maxRows
	header := Header(tpl)
	res := &Result{Files: []string{}}
	reportProgress(progress, 0, total, "开始导出", "")

	var w *sheetWriter
	next := 0
	err = e.source.IterateAccepted(ctx, q, func(r model.AcceptedRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w == nil {
			var err error
			if w, err = newSheetWriter(partPath(outPath, next+1, split), header); err != nil {
				return err
			}
		}
		if err := w.write(recordRow(r, tpl)); err != nil {
			return err
		}
		res.Rows++
		if w.rows == e.maxRows {
			if err := w.save(); err != nil {
				return err
			}
			res.Files = append(res.Files, w.path)
			reportProgress(progress, res.Rows, total, "文件已写入", w.path)
			w = nil
			next++
		}
		return nil
	})
	if err != nil {
		if w != nil {
			w.discard()
		}
		return nil, eris.Wrap(err, "导出失败")
	}

	// 没有任何数据时仍输出只有表头的文件
	if w == nil && len(res.Files) == 0 {
		if w, err = newSheetWriter(outPath, header); err != nil {
			return nil, eris.Wrap(err, "导出失败")
		}
	}
	if w != nil {
		if err := w.save(); err != nil {
			return nil, eris.Wrap(err, "导出失败")
		}
		res.Files = append(res.Files, w.path)
	}
	reportProgress(progress, res.Rows, total, "导出完成", "")
	e.logger.Info("records exported", "template", tpl.Name, "rows", res.Rows, "files", len(res.Files))
	return res, nil
}

// Header 导出表头：内置列 + 模板字段（按模板顺序）
func Header(tpl *model.Template) []string {
	return append(store.BuiltinColumns(), tpl.FieldNames()...)
}

func recordRow(r model.AcceptedRecord, tpl *model.Template) []interface{} {
	row := []interface{}{r.ID, r.SourceFile, r.RowNumber, r.BatchID}
	for _, f := range tpl.Fields {
		v, ok := r.Data[f.Name]
		if !ok || v == nil {
			row = append(row, nil)
			continue
		}
		row = append(row, v)
	}
	return row
}

// partPath 第 n 个拆分文件的路径；不拆分时即 outPath
func partPath(outPath string, n int, split bool) string {
	if !split && n == 1 {
		return outPath
	}
	ext := filepath.Ext(outPath)
	base := strings.TrimSuffix(outPath, ext)
	if ext == "" {
		ext = ".xlsx"
	}
	return fmt.Sprintf("%s_%d%s", base, n, ext)
}

type sheetWriter struct {
	path string
	file *excelize.File
	sw   *excelize.StreamWriter
	rows int
}

func newSheetWriter(path string, header []string) (*sheetWriter, error) {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("创建写入流失败: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("创建表头样式失败: %w", err)
	}
	if err := sw.SetColWidth(1, len(header), 16); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("设置列宽失败: %w", err)
	}
	cells := make([]interface{}, len(header))
	for i, h := range header {
		cells[i] = excelize.Cell{StyleID: style, Value: h}
	}
	if err := sw.SetRow("A1", cells); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("写入表头失败: %w", err)
	}
	return &sheetWriter{path: path, file: f, sw: sw}, nil
}

func (w *sheetWriter) write(row []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, w.rows+2)
	if err != nil {
		return err
	}
	if err := w.sw.SetRow(cell, row); err != nil {
		return fmt.Errorf("写入第 %d 行失败: %w", w.rows+1, err)
	}
	w.rows++
	return nil
}

func (w *sheetWriter) save() error {
	defer w.file.Close()
	if err := w.sw.Flush(); err != nil {
		return fmt.Errorf("写入数据失败: %w", err)
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("保存导出文件失败: %w", err)
	}
	return nil
}

func (w *sheetWriter) discard() {
	_ = w.file.Close()
}
