package mapping

import (
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"flowmerge/internal/model"
	"flowmerge/internal/parser"
)

// 置信度分级阈值
const (
	HighConfidence   = 0.8
	MediumConfidence = 0.6
)

// editOptions 插入、删除、替换代价均为 1 的编辑距离
var editOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Match 单个源列的最佳匹配结果
type Match struct {
	Field      string               `json:"field"`
	Similarity float64              `json:"similarity"`
	Tier       model.ConfidenceTier `json:"tier"`
	Exact      bool                 `json:"exact"`
}

// Similarity 归一化编辑距离相似度：1 - d/max(len)，按字符计算；两个空串为 1
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}
	d := levenshtein.DistanceForStrings(ra, rb, editOptions)
	return 1.0 - float64(d)/float64(longest)
}

// Tier 置信度等级
func Tier(similarity float64) model.ConfidenceTier {
	switch {
	case similarity >= HighConfidence:
		return model.ConfidenceHigh
	case similarity >= MediumConfidence:
		return model.ConfidenceMedium
	}
	return model.ConfidenceLow
}

func isExact(name, normalized, candidate string) bool {
	return name == candidate || normalized == parser.NormalizeColumnName(candidate)
}

// BestMatch 在模板中寻找与源列名最相近的字段
// 与字段名或同义词完全一致时相似度为 1 并立即返回；相同得分时保留模板中靠前的字段
func BestMatch(name string, tpl *model.Template) (Match, bool) {
	if tpl == nil || len(tpl.Fields) == 0 {
		return Match{}, false
	}
	normalized := parser.NormalizeColumnName(name)

	best := Match{Similarity: -1}
	for _, f := range tpl.Fields {
		candidates := append([]string{f.Name}, f.Synonyms...)
		for _, c := range candidates {
			if isExact(name, normalized, c) {
				return Match{Field: f.Name, Similarity: 1.0, Tier: model.ConfidenceHigh, Exact: true}, true
			}
		}
		score := 0.0
		for _, c := range candidates {
			if s := Similarity(normalized, parser.NormalizeColumnName(c)); s > score {
				score = s
			}
		}
		if score > best.Similarity {
			best = Match{Field: f.Name, Similarity: score}
		}
	}
	best.Tier = Tier(best.Similarity)
	return best, true
}
