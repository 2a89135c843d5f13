package mapping

import (
	"fmt"
	"sort"

	"flowmerge/internal/model"
)

// Resolve 解决多列映射到同一字段的冲突：保留相似度最高者，其余置为未映射并记录原因
// 相似度相同时保留原列顺序中靠前的列；对已解决的结果重复调用不产生变化
func Resolve(proposals []model.ColumnProposal) []model.ColumnProposal {
	out := make([]model.ColumnProposal, len(proposals))
	copy(out, proposals)

	groups := make(map[string][]int)
	var targets []string
	for i, p := range out {
		if p.MappedTo == "" {
			continue
		}
		if _, ok := groups[p.MappedTo]; !ok {
			targets = append(targets, p.MappedTo)
		}
		groups[p.MappedTo] = append(groups[p.MappedTo], i)
	}

	for _, target := range targets {
		idx := groups[target]
		if len(idx) < 2 {
			continue
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return out[idx[a]].Similarity > out[idx[b]].Similarity
		})
		keep := out[idx[0]]
		for _, i := range idx[1:] {
			out[i].MappedTo = ""
			out[i].ConflictResolved = true
			out[i].ConflictInfo = fmt.Sprintf("与列「%s」同时匹配字段「%s」，已保留相似度更高的「%s」（%.2f，%s）",
				keep.OriginalName, target, keep.OriginalName, keep.Similarity, keep.Confidence)
		}
	}
	return out
}

// DetectConflicts 找出被两个及以上源列占用的目标字段，源列按名称排序
func DetectConflicts(m model.ColumnMapping) map[string][]string {
	byTarget := make(map[string][]string)
	for _, src := range m.Sources() {
		if target := m[src]; target != "" {
			byTarget[target] = append(byTarget[target], src)
		}
	}
	conflicts := make(map[string][]string)
	for target, sources := range byTarget {
		if len(sources) > 1 {
			conflicts[target] = sources
		}
	}
	return conflicts
}

// ConflictMessage 冲突的可读描述
func ConflictMessage(conflicts map[string][]string) string {
	targets := make([]string, 0, len(conflicts))
	for t := range conflicts {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	msg := ""
	for i, t := range targets {
		if i > 0 {
			msg += "；"
		}
		msg += fmt.Sprintf("字段「%s」被多列映射: %v", t, conflicts[t])
	}
	return msg
}
