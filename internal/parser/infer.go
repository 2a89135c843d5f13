package parser

import (
	"strings"

	"flowmerge/internal/model"
)

// InferType 推断列类型：选取所有非空样本均满足的最具体类型
// 顺序 int > float > date > time > text；无非空样本时为 text
func InferType(samples []string) model.FieldType {
	values := make([]string, 0, len(samples))
	for _, s := range samples {
		if strings.TrimSpace(s) != "" {
			values = append(values, s)
		}
	}
	if len(values) == 0 {
		return model.FieldText
	}

	for _, t := range model.FieldTypes {
		if t == model.FieldText {
			break
		}
		if allCoerce(values, t) {
			return t
		}
	}
	return model.FieldText
}

func allCoerce(values []string, t model.FieldType) bool {
	for _, v := range values {
		if _, err := Coerce(v, t); err != nil {
			return false
		}
	}
	return true
}
