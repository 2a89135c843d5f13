package spreadsheet

import (
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

type xlsxSource struct {
	file *excelize.File
	rows *excelize.Rows
}

// openXLSX 使用 excelize 的流式行迭代读取第一个工作表，取原始单元格值
func openXLSX(path string) (*xlsxSource, error) {
	f, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, eris.Wrap(err, "打开 Excel 文件失败")
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, eris.New("Excel 文件不包含工作表")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "读取工作表 %s 失败", sheets[0])
	}
	return &xlsxSource{file: f, rows: rows}, nil
}

func (x *xlsxSource) next() ([]string, bool, error) {
	if !x.rows.Next() {
		return nil, false, x.rows.Error()
	}
	cells, err := x.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, false, err
	}
	return cells, true, nil
}

func (x *xlsxSource) close() error {
	rowsErr := x.rows.Close()
	if err := x.file.Close(); err != nil {
		return err
	}
	return rowsErr
}
