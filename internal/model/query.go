package model

import (
	"fmt"
	"strings"
)

// FilterOp 过滤操作符
type FilterOp string

const (
	OpEq         FilterOp = "eq"
	OpNe         FilterOp = "ne"
	OpLt         FilterOp = "lt"
	OpLe         FilterOp = "le"
	OpGt         FilterOp = "gt"
	OpGe         FilterOp = "ge"
	OpContains   FilterOp = "contains"
	OpStartsWith FilterOp = "startswith"
	OpEndsWith   FilterOp = "endswith"
	OpNotNull    FilterOp = "notnull"
)

var filterOpAliases = map[string]FilterOp{
	"=":  OpEq,
	"==": OpEq,
	"<>": OpNe,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

// ParseFilterOp 解析操作符，兼容符号写法
func ParseFilterOp(s string) (FilterOp, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if op, ok := filterOpAliases[s]; ok {
		return op, nil
	}
	switch op := FilterOp(s); op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpContains, OpStartsWith, OpEndsWith, OpNotNull:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, s)
}

// Filter 单个过滤条件；Type 决定比较时按数值还是文本绑定
type Filter struct {
	Field string    `json:"field"`
	Op    FilterOp  `json:"op"`
	Value string    `json:"value"`
	Type  FieldType `json:"type,omitempty"`
}

// RecordQuery 入库记录查询条件
type RecordQuery struct {
	TemplateName string
	BatchID      string
	Filters      []Filter
	SortField    string
	SortDesc     bool
	Page         int // 从 1 开始
	PageSize     int // 0 表示不分页
}

// WithFieldTypes 为未声明类型的筛选条件补上模板字段类型，返回副本
func (q RecordQuery) WithFieldTypes(tpl *Template) RecordQuery {
	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		if f.Type == "" {
			if tf, ok := tpl.Field(f.Field); ok {
				f.Type = tf.Type
			}
		}
		filters[i] = f
	}
	q.Filters = filters
	return q
}

// RejectedQuery 待修正记录查询条件
type RejectedQuery struct {
	BatchID  string
	Status   RejectedStatus // 为空时默认 pending
	Page     int
	PageSize int
}

// Page 分页结果
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Stats 数据库统计
type Stats struct {
	TotalRecords    int          `json:"total_records"`
	PendingRejected int          `json:"pending_rejected"`
	SourceFiles     int          `json:"source_files"`
	DateField       string       `json:"date_field,omitempty"`
	MinDate         string       `json:"min_date,omitempty"`
	MaxDate         string       `json:"max_date,omitempty"`
	GroupField      string       `json:"group_field,omitempty"`
	TopGroups       []GroupCount `json:"top_groups"`
}

// GroupCount 分组计数
type GroupCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}
