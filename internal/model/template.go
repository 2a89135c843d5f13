package model

import (
	"fmt"
	"strings"
	"time"
)

// FieldType 字段语义类型
type FieldType string

const (
	FieldText  FieldType = "text"
	FieldInt   FieldType = "int"
	FieldFloat FieldType = "float"
	FieldDate  FieldType = "date"
	FieldTime  FieldType = "time"
)

// FieldTypes 类型推断时的优先顺序（越靠前越具体）
var FieldTypes = []FieldType{FieldInt, FieldFloat, FieldDate, FieldTime, FieldText}

// Valid 是否为已知类型
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldInt, FieldFloat, FieldDate, FieldTime:
		return true
	}
	return false
}

// ParseFieldType 解析字段类型
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown field type %q", s)
	}
	return t, nil
}

// TemplateField 模板字段
type TemplateField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Synonyms []string  `json:"synonyms"`
}

// Template 语义模板：有序的目标字段集合
type Template struct {
	Name      string          `json:"name"`
	Fields    []TemplateField `json:"fields"`
	IsDefault bool            `json:"is_default"`
	Locked    bool            `json:"locked"` // 已有入库数据，仅允许修改同义词
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Field 按名称查找字段
func (t *Template) Field(name string) (TemplateField, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return TemplateField{}, false
}

// FieldNames 字段名（模板顺序）
func (t *Template) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names
}

// FirstFieldOfType 返回第一个指定类型的字段名
func (t *Template) FirstFieldOfType(ft FieldType) string {
	for _, f := range t.Fields {
		if f.Type == ft {
			return f.Name
		}
	}
	return ""
}

// Validate 校验模板结构
func (t *Template) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: 模板名称不能为空", ErrInvalidTemplate)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("%w: 模板至少需要一个字段", ErrInvalidTemplate)
	}
	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("%w: 字段名称不能为空", ErrInvalidTemplate)
		}
		if strings.ContainsAny(name, "\"\\") {
			return fmt.Errorf("%w: 字段名称不能包含引号或反斜杠: %s", ErrInvalidTemplate, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: 字段名称重复: %s", ErrInvalidTemplate, name)
		}
		seen[name] = struct{}{}
		if !f.Type.Valid() {
			return fmt.Errorf("%w: 字段 %s 类型无效: %s", ErrInvalidTemplate, name, f.Type)
		}
	}
	return nil
}

// SameShape 判断两个模板字段结构（名称、顺序、类型）是否一致，忽略同义词
func (t *Template) SameShape(other *Template) bool {
	if len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i].Name != other.Fields[i].Name || t.Fields[i].Type != other.Fields[i].Type {
			return false
		}
	}
	return true
}

// Clone 深拷贝
func (t *Template) Clone() *Template {
	out := *t
	out.Fields = make([]TemplateField, len(t.Fields))
	for i, f := range t.Fields {
		f.Synonyms = append([]string(nil), f.Synonyms...)
		out.Fields[i] = f
	}
	return &out
}

// DefaultTemplateName 内置银行流水模板名称
const DefaultTemplateName = "默认模板"

// DefaultTemplate 内置银行流水模板
func DefaultTemplate() *Template {
	return &Template{
		Name:      DefaultTemplateName,
		IsDefault: true,
		Fields: []TemplateField{
			{Name: "ID", Type: FieldInt, Synonyms: []string{"序号", "ID", "id", "编号"}},
			{Name: "记账日期", Type: FieldDate, Synonyms: []string{"交易日期", "会计日期", "日期", "date", "交易日", "前台交易日期"}},
			{Name: "记账时间", Type: FieldTime, Synonyms: []string{"交易时间", "时间", "time", "前台交易时间"}},
			{Name: "账户名", Type: FieldText, Synonyms: []string{"户名", "客户名称", "客户账户名", "账户中文名"}},
			{Name: "账号", Type: FieldText, Synonyms: []string{"客户账号", "账户", "account", "账户账号"}},
			{Name: "开户行", Type: FieldText, Synonyms: []string{"开户银行", "开户机构", "账户开户机构", "机构中文名称"}},
			{Name: "币种", Type: FieldText, Synonyms: []string{"货币代号", "币种代码", "currency", "钞汇标志"}},
			{Name: "借贷", Type: FieldText, Synonyms: []string{"借贷标志", "借贷方向", "借贷标记", "dr_cr"}},
			{Name: "交易金额", Type: FieldFloat, Synonyms: []string{"金额", "发生额", "交易额", "amount"}},
			{Name: "交易渠道", Type: FieldText, Synonyms: []string{"渠道", "交易方式", "渠道类型编号"}},
			{Name: "网点名称", Type: FieldText, Synonyms: []string{"网点", "营业网点", "营业机构", "机构名称"}},
			{Name: "附言", Type: FieldText, Synonyms: []string{"摘要", "备注", "摘要描述", "摘要代码描述"}},
			{Name: "余额", Type: FieldFloat, Synonyms: []string{"账户余额", "balance", "当前余额"}},
			{Name: "对手账户名", Type: FieldText, Synonyms: []string{"对方户名", "交易对方账户名", "对方账户名称"}},
			{Name: "对手账号", Type: FieldText, Synonyms: []string{"对方账号", "交易对方账号", "对方账户账号"}},
			{Name: "对手开户行", Type: FieldText, Synonyms: []string{"对方行名", "对方机构网点名称", "对方开户银行"}},
		},
	}
}
