package spreadsheet

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"flowmerge/internal/model"
)

// Row 数据行；Number 为数据区内从 1 开始的行号（不含表头）
type Row struct {
	Number int
	Values map[string]string
}

// rowSource 底层逐行读取
type rowSource interface {
	next() ([]string, bool, error)
	close() error
}

// Sheet 打开的表格：列名 + 惰性行迭代器
type Sheet struct {
	Path    string
	Columns []string

	src    rowSource
	row    Row
	number int
	err    error
	done   bool
}

// Open 打开表格文件，读取表头，行数据按需流式读取
func Open(path string) (*Sheet, error) {
	var (
		src rowSource
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		src, err = openXLSX(path)
	case ".csv":
		src, err = openCSV(path)
	default:
		return nil, eris.Wrapf(model.ErrUnsupportedFormat, "不支持的文件格式: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	s := &Sheet{Path: path, src: src}
	header, err := s.readHeader()
	if err != nil {
		_ = src.close()
		return nil, err
	}
	s.Columns = CleanHeaders(header)
	return s, nil
}

// readHeader 第一行非空行视为表头
func (s *Sheet) readHeader() ([]string, error) {
	for {
		cells, ok, err := s.src.next()
		if err != nil {
			return nil, eris.Wrap(err, "读取表头失败")
		}
		if !ok {
			return nil, eris.Wrap(model.ErrEmptySheet, "文件没有表头")
		}
		for _, c := range cells {
			if strings.TrimSpace(c) != "" {
				return cells, nil
			}
		}
	}
}

// Next 前进到下一行
func (s *Sheet) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	cells, ok, err := s.src.next()
	if err != nil {
		s.err = eris.Wrapf(err, "读取第 %d 行失败", s.number+1)
		return false
	}
	if !ok {
		s.done = true
		return false
	}
	s.number++
	values := make(map[string]string, len(s.Columns))
	for i, col := range s.Columns {
		if i < len(cells) {
			values[col] = cells[i]
		} else {
			values[col] = ""
		}
	}
	s.row = Row{Number: s.number, Values: values}
	return true
}

// Row 当前行
func (s *Sheet) Row() Row {
	return s.row
}

// Err 迭代中出现的错误
func (s *Sheet) Err() error {
	return s.err
}

// Close 释放文件句柄
func (s *Sheet) Close() error {
	return s.src.close()
}

// CleanHeaders 表头整理：去空白；空列名改为「未命名列N」；重复列名追加 .1 .2 后缀
func CleanHeaders(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("未命名列%d", i+1)
		}
		if _, dup := seen[name]; dup {
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s.%d", name, n)
				if _, taken := seen[candidate]; !taken {
					name = candidate
					break
				}
			}
		}
		seen[name] = struct{}{}
		out[i] = name
	}
	return out
}
