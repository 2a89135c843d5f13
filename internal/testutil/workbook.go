// Package testutil 测试用表格构造工具
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// WriteWorkbook 在 dir 下生成单工作表 xlsx，rows[0] 为表头
func WriteWorkbook(t testing.TB, dir, name string, rows [][]any) string {
	t.Helper()

	wb := excelize.NewFile()
	t.Cleanup(func() { _ = wb.Close() })

	sheet := wb.GetSheetName(wb.GetActiveSheetIndex())
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		r := row
		if err := wb.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("SetSheetRow %s failed: %v", cell, err)
		}
	}

	path := filepath.Join(dir, name)
	if err := wb.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

// Headers 把字符串表头转换为行
func Headers(names ...string) []any {
	row := make([]any, 0, len(names))
	for _, n := range names {
		row = append(row, n)
	}
	return row
}

// WriteCorrupt 生成扩展名为 xlsx 但内容无效的文件
func WriteCorrupt(t testing.TB, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("this is not a zip archive"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	return path
}
