package parser

import (
	"errors"
	"fmt"
	"strings"

	"flowmerge/internal/model"
)

// RowFailure 行校验失败的第一列
type RowFailure struct {
	Column string
	Field  string
	Value  string
	Reason string
}

func (f *RowFailure) Error() string {
	return fmt.Sprintf("列「%s」→ 字段「%s」: %s", f.Column, f.Field, f.Reason)
}

// IsEmptyRow 所有单元格均为空
func IsEmptyRow(values map[string]string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ConvertRow 按列映射把一行转换为 字段 -> 规范化值
// 只校验已映射字段；空单元格记为 nil；失败时返回按 columns 顺序的第一个失败列
func ConvertRow(values map[string]string, columns []string, mapping model.ColumnMapping, tpl *model.Template) (map[string]any, *RowFailure) {
	order := columns
	if len(order) == 0 {
		order = mapping.Sources()
	}

	data := make(map[string]any, mapping.Mapped())
	for _, col := range order {
		target := mapping[col]
		if target == "" {
			continue
		}
		field, ok := tpl.Field(target)
		if !ok {
			return nil, &RowFailure{Column: col, Field: target, Value: values[col], Reason: "目标字段不存在于模板中"}
		}

		raw := values[col]
		if strings.TrimSpace(raw) == "" {
			data[field.Name] = nil
			continue
		}

		v, err := Coerce(raw, field.Type)
		if err != nil {
			return nil, &RowFailure{Column: col, Field: field.Name, Value: raw, Reason: reasonOf(err, field.Type)}
		}
		data[field.Name] = v
	}
	return data, nil
}

func reasonOf(err error, t model.FieldType) string {
	var ce *CoercionError
	if errors.As(err, &ce) {
		return fmt.Sprintf("%s（期望类型 %s）", ce.Reason, t)
	}
	return err.Error()
}
