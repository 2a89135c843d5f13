package parser

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeColumnName 标准化列名
// 全角转半角（NFKC），去除首尾空格、换行符、制表符及内部空白
func NormalizeColumnName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.TrimSpace(name)
	return whitespaceRe.ReplaceAllString(name, "")
}

// CanonicalKey 列名的大小写与空白无关形式，用于签名和记忆匹配
func CanonicalKey(name string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(name)))
}

// NormalizeValue 单元格值预处理：NFKC 并去除首尾空白
func NormalizeValue(raw string) string {
	return strings.TrimSpace(norm.NFKC.String(raw))
}

// ContainsAny 检查文本是否包含任意关键词
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
