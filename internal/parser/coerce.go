package parser

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"flowmerge/internal/model"
)

// CoercionError 类型转换失败
type CoercionError struct {
	Type   model.FieldType
	Value  string
	Reason string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("%s: %q", e.Reason, e.Value)
}

func fail(t model.FieldType, raw, reason string) error {
	return &CoercionError{Type: t, Value: raw, Reason: reason}
}

// Coerce 将原始单元格值转换为目标类型的规范化值
// int -> int64, float -> float64, date -> "YYYY-MM-DD", time -> "HH:MM:SS", text -> string
func Coerce(raw string, t model.FieldType) (any, error) {
	switch t {
	case model.FieldText:
		return CoerceText(raw), nil
	case model.FieldInt:
		return CoerceInt(raw)
	case model.FieldFloat:
		return CoerceFloat(raw)
	case model.FieldDate:
		return CoerceDate(raw)
	case model.FieldTime:
		return CoerceTime(raw)
	}
	return nil, fail(t, raw, "未知字段类型")
}

// Format 规范化值的字符串形式；再次 Coerce 该字符串得到相同结果
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	}
	return fmt.Sprint(v)
}

// CoerceText 文本总是成功
func CoerceText(raw string) string {
	return strings.TrimSpace(raw)
}

// numberFormatting 数字中允许出现并被剔除的格式字符
var numberFormatting = strings.NewReplacer(
	",", "", "，", "", "_", "", " ", "", " ", "",
	"¥", "", "￥", "", "$", "", "€", "", "£", "", "元", "",
)

// cleanNumber 剔除格式字符；会计负数 (123.45) 转为 -123.45
func cleanNumber(raw string) (string, bool) {
	s := numberFormatting.Replace(NormalizeValue(raw))
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") && len(s) > 2 {
		s = "-" + s[1:len(s)-1]
	}
	if s == "" {
		return "", false
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case (r == '-' || r == '+') && i == 0:
		case r == 'e' || r == 'E':
		default:
			return s, false
		}
	}
	return s, true
}

func parseDecimal(raw string, t model.FieldType) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, fail(t, raw, "值为空")
	}
	s, ok := cleanNumber(raw)
	if !ok {
		return decimal.Zero, fail(t, raw, "包含非数字字符")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fail(t, raw, "不是有效的数字")
	}
	if d.Coefficient().Sign() == 0 {
		return decimal.Zero, nil
	}
	if mag := magnitude(d); mag > maxMagnitude || mag < -maxMagnitude {
		return decimal.Zero, fail(t, raw, "数值超出范围")
	}
	return d, nil
}

// maxMagnitude 十进制数量级上限，超出 float64 可表示范围
const maxMagnitude = 330

// magnitude 非零值的十进制数量级 floor(log10|d|)，不展开指数
func magnitude(d decimal.Decimal) int64 {
	digits := len(new(big.Int).Abs(d.Coefficient()).String())
	return int64(d.Exponent()) + int64(digits) - 1
}

// CoerceInt 整数：必须为整值
func CoerceInt(raw string) (int64, error) {
	d, err := parseDecimal(raw, model.FieldInt)
	if err != nil {
		return 0, err
	}
	if magnitude(d) > 18 {
		return 0, fail(model.FieldInt, raw, "整数超出范围")
	}
	if !d.IsInteger() {
		return 0, fail(model.FieldInt, raw, "不是有效的整数")
	}
	if !d.BigInt().IsInt64() {
		return 0, fail(model.FieldInt, raw, "整数超出范围")
	}
	return d.IntPart(), nil
}

// CoerceFloat 浮点数
func CoerceFloat(raw string) (float64, error) {
	d, err := parseDecimal(raw, model.FieldFloat)
	if err != nil {
		return 0, err
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fail(model.FieldFloat, raw, "数值超出范围")
	}
	return f, nil
}
