package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"flowmerge/internal/model"
)

var (
	trailingZeroRe = regexp.MustCompile(`^(\d{4,})\.0+$`)
	digitsRe       = regexp.MustCompile(`^\d+$`)
	delimDateRe    = regexp.MustCompile(`^(\d{1,4})([-/.])(\d{1,2})([-/.])(\d{1,4})(?:[ T].*)?$`)
	cnDateRe       = regexp.MustCompile(`^(\d{2}|\d{4})年(\d{1,2})月(\d{1,2})日?(?:\s.*)?$`)
	serialDateRe   = regexp.MustCompile(`^\d{5}(?:\.\d+)?$`)

	clockRe      = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?(?:\.\d+)?\s*([AaPp][Mm])?$`)
	fractionRe   = regexp.MustCompile(`^0?\.\d+$|^0$`)
	cnTimeRe     = regexp.MustCompile(`^(\d{1,2})[时点](\d{1,2})分(?:(\d{1,2})秒)?$`)
	datePrefixRe = regexp.MustCompile(`^\d{4}[-/.]\d{1,2}[-/.]\d{1,2}[ T](.+)$`)
)

// excelEpoch Excel 1900 日期系统的零点（已包含 1900-02-29 偏差）
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// stripExcelZero 去除表格数值型单元格带出的 ".0" 后缀，如 20210610.0
func stripExcelZero(s string) string {
	if m := trailingZeroRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// expandYear 两位年份：<50 视为 20xx，否则 19xx
func expandYear(s string) int {
	y := atoi(s)
	if len(s) <= 2 {
		if y < 50 {
			return 2000 + y
		}
		return 1900 + y
	}
	return y
}

func formatDate(y, m, d int) (string, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1 || y > 9999 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), true
}

// CoerceDate 日期，输出 YYYY-MM-DD
func CoerceDate(raw string) (string, error) {
	s := stripExcelZero(NormalizeValue(raw))
	if s == "" {
		return "", fail(model.FieldDate, raw, "值为空")
	}
	if out, ok := parseDate(s); ok {
		return out, nil
	}
	return "", fail(model.FieldDate, raw, "日期格式无法识别")
}

func parseDate(s string) (string, bool) {
	if digitsRe.MatchString(s) {
		switch len(s) {
		case 6:
			if out, ok := formatDate(expandYear(s[0:2]), atoi(s[2:4]), atoi(s[4:6])); ok {
				return out, true
			}
		case 8:
			if out, ok := formatDate(atoi(s[0:4]), atoi(s[4:6]), atoi(s[6:8])); ok {
				return out, true
			}
		}
	}

	if m := delimDateRe.FindStringSubmatch(s); m != nil && m[2] == m[4] {
		first, month, last := m[1], atoi(m[3]), m[5]
		switch {
		case len(first) == 4 || atoi(first) > 31:
			return formatDate(expandYear(first), month, atoi(last))
		case len(last) == 4 || atoi(last) > 31:
			return formatDate(expandYear(last), month, atoi(first))
		case len(first) <= 2 && len(last) <= 2:
			return formatDate(expandYear(first), month, atoi(last))
		}
		return "", false
	}

	if m := cnDateRe.FindStringSubmatch(s); m != nil {
		return formatDate(expandYear(m[1]), atoi(m[2]), atoi(m[3]))
	}

	// 表格原始日期序列号
	if serialDateRe.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			t := excelEpoch.AddDate(0, 0, int(f))
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func formatClock(h, m, s int) (string, bool) {
	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s), true
}

// CoerceTime 时间，输出 HH:MM:SS
func CoerceTime(raw string) (string, error) {
	s := stripExcelZero(NormalizeValue(raw))
	if s == "" {
		return "", fail(model.FieldTime, raw, "值为空")
	}
	if m := datePrefixRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if out, ok := parseTime(s); ok {
		return out, nil
	}
	// 日期时间序列号，如 44260.5，取小数部分
	if serialDateRe.MatchString(s) {
		if i := strings.IndexByte(s, '.'); i >= 0 {
			if out, ok := parseTime(s[i:]); ok {
				return out, nil
			}
		}
	}
	return "", fail(model.FieldTime, raw, "时间格式无法识别")
}

func parseTime(s string) (string, bool) {
	if digitsRe.MatchString(s) {
		switch len(s) {
		case 6:
			return formatClock(atoi(s[0:2]), atoi(s[2:4]), atoi(s[4:6]))
		case 5:
			return formatClock(atoi(s[0:1]), atoi(s[1:3]), atoi(s[3:5]))
		case 4:
			return formatClock(atoi(s[0:2]), atoi(s[2:4]), 0)
		}
	}

	if m := clockRe.FindStringSubmatch(s); m != nil {
		h, min, sec := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if ampm := strings.ToUpper(m[4]); ampm != "" {
			if h < 1 || h > 12 {
				return "", false
			}
			switch {
			case ampm == "PM" && h < 12:
				h += 12
			case ampm == "AM" && h == 12:
				h = 0
			}
		}
		return formatClock(h, min, sec)
	}

	// 表格时间：一天的小数部分
	if fractionRe.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 || f >= 1 {
			return "", false
		}
		secs := int(math.Round(f * 86400))
		if secs >= 86400 {
			secs = 86399
		}
		return formatClock(secs/3600, secs%3600/60, secs%60)
	}

	if m := cnTimeRe.FindStringSubmatch(s); m != nil {
		return formatClock(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	return "", false
}
