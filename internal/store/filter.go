package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"flowmerge/internal/model"
)

// 内置列，可直接参与过滤与排序
var builtinColumns = map[string]string{
	"id":            "id",
	"batch_id":      "batch_id",
	"template_name": "template_name",
	"source_file":   "source_file",
	"row_number":    "row_no",
	"created_at":    "created_at",
}

var builtinTypes = map[string]model.FieldType{
	"id":         model.FieldInt,
	"row_number": model.FieldInt,
}

// BuiltinColumns 内置列名（导出顺序）
func BuiltinColumns() []string {
	return []string{"id", "source_file", "row_number", "batch_id"}
}

// fieldExpr 字段对应的 SQL 表达式；模板字段从 data JSON 中提取，路径作为参数绑定
func fieldExpr(field string) (string, []any, error) {
	if col, ok := builtinColumns[field]; ok {
		return col, nil, nil
	}
	if strings.TrimSpace(field) == "" || strings.ContainsAny(field, "\"\\") {
		return "", nil, fmt.Errorf("%w: invalid field %q", model.ErrInvalidFilter, field)
	}
	return "json_extract(data, ?)", []any{`$."` + field + `"`}, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// bindValue 数值字段按数值比较，其余按文本比较
func bindValue(f model.Filter) (any, error) {
	t := f.Type
	if bt, ok := builtinTypes[f.Field]; ok {
		t = bt
	}
	switch t {
	case model.FieldInt, model.FieldFloat:
		d, err := decimal.NewFromString(strings.TrimSpace(f.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: %s 需要数值: %q", model.ErrInvalidFilter, f.Field, f.Value)
		}
		if d.IsInteger() {
			return d.IntPart(), nil
		}
		return d.InexactFloat64(), nil
	}
	return f.Value, nil
}

var compareOps = map[model.FilterOp]string{
	model.OpEq: "=",
	model.OpNe: "<>",
	model.OpLt: "<",
	model.OpLe: "<=",
	model.OpGt: ">",
	model.OpGe: ">=",
}

func filterClause(f model.Filter) (string, []any, error) {
	expr, args, err := fieldExpr(f.Field)
	if err != nil {
		return "", nil, err
	}
	if sqlOp, ok := compareOps[f.Op]; ok {
		v, err := bindValue(f)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", expr, sqlOp), append(args, v), nil
	}

	var pattern string
	switch f.Op {
	case model.OpNotNull:
		return expr + " IS NOT NULL", args, nil
	case model.OpContains:
		pattern = "%" + escapeLike(f.Value) + "%"
	case model.OpStartsWith:
		pattern = escapeLike(f.Value) + "%"
	case model.OpEndsWith:
		pattern = "%" + escapeLike(f.Value)
	default:
		return "", nil, fmt.Errorf("%w: unknown operator %q", model.ErrInvalidFilter, f.Op)
	}
	return fmt.Sprintf(`CAST(%s AS TEXT) LIKE ? ESCAPE '\'`, expr), append(args, pattern), nil
}

// buildWhere 拼接 WHERE 子句
func buildWhere(q model.RecordQuery) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	if q.TemplateName != "" {
		clauses = append(clauses, "template_name = ?")
		args = append(args, q.TemplateName)
	}
	if q.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, q.BatchID)
	}
	for _, f := range q.Filters {
		clause, a, err := filterClause(f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, a...)
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildOrder(q model.RecordQuery) (string, []any, error) {
	if q.SortField == "" {
		return " ORDER BY id", nil, nil
	}
	expr, args, err := fieldExpr(q.SortField)
	if err != nil {
		return "", nil, err
	}
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id", expr, dir), args, nil
}

func buildLimit(page, pageSize int) string {
	if pageSize <= 0 {
		return ""
	}
	if page < 1 {
		page = 1
	}
	return " LIMIT " + strconv.Itoa(pageSize) + " OFFSET " + strconv.Itoa((page-1)*pageSize)
}
