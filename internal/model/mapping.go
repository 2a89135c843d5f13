package model

import "sort"

// ConfidenceTier 匹配置信度等级
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// ColumnProposal 单个源列的映射建议
type ColumnProposal struct {
	OriginalName     string         `json:"original_name"`
	DetectedType     FieldType      `json:"detected_type"`
	SampleValues     []string       `json:"sample_values"`
	MappedTo         string         `json:"mapped_to"`
	Candidate        string         `json:"candidate"` // 最佳候选字段（不受阈值限制）
	Similarity       float64        `json:"similarity"`
	Confidence       ConfidenceTier `json:"confidence"`
	ConflictResolved bool           `json:"conflict_resolved"`
	ConflictInfo     string         `json:"conflict_info,omitempty"`
	FromMemory       bool           `json:"from_memory"`
}

// ColumnMapping 源列名 -> 目标字段名（空串表示未映射）
type ColumnMapping map[string]string

// Clone 拷贝
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Sources 按名称排序的源列
func (m ColumnMapping) Sources() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Mapped 已映射的条目数
func (m ColumnMapping) Mapped() int {
	n := 0
	for _, v := range m {
		if v != "" {
			n++
		}
	}
	return n
}

// MappingFromProposals 由建议生成列映射
func MappingFromProposals(proposals []ColumnProposal) ColumnMapping {
	m := make(ColumnMapping, len(proposals))
	for _, p := range proposals {
		m[p.OriginalName] = p.MappedTo
	}
	return m
}

// MemoryOffer 模板记忆命中后的待确认映射
type MemoryOffer struct {
	Signature string        `json:"signature"`
	Mapping   ColumnMapping `json:"mapping"`
}

// FileAnalysis 单个文件的分析结果
type FileAnalysis struct {
	Path        string           `json:"path"`
	FileName    string           `json:"file_name"`
	Columns     []string         `json:"columns"`
	Signature   string           `json:"signature"`
	Proposals   []ColumnProposal `json:"proposals"`
	SampledRows int              `json:"sampled_rows"`
	Stages      []string         `json:"stages"`
	MemoryOffer *MemoryOffer     `json:"memory_offer,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Failed 文件级错误
func (a *FileAnalysis) Failed() bool {
	return a.Error != ""
}
