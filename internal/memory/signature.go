package memory

import (
	"sort"
	"strings"

	"flowmerge/internal/parser"
)

// SignatureSeparator 签名中列名的分隔符，列名内的分隔符与反斜杠会被转义
const SignatureSeparator = "|"

var keyEscaper = strings.NewReplacer(`\`, `\\`, SignatureSeparator, `\`+SignatureSeparator)

// Signature 文件列名集合的规范签名：各列名规范化后排序拼接，与列顺序、大小写和首尾空白无关
func Signature(columns []string) string {
	keys := make([]string, 0, len(columns))
	for _, c := range columns {
		keys = append(keys, keyEscaper.Replace(parser.CanonicalKey(c)))
	}
	sort.Strings(keys)
	return strings.Join(keys, SignatureSeparator)
}
