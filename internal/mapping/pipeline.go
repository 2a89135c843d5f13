package mapping

import (
	"path/filepath"

	"flowmerge/internal/model"
	"flowmerge/internal/parser"
)

// 分析流水线阶段名
const (
	StageAnalyze = "analyze"
	StageResolve = "resolve"
	StageMemory  = "memory"
)

// MemoryLookup 模板记忆查询
type MemoryLookup interface {
	Lookup(template, signature string) (model.ColumnMapping, bool)
}

// Stage 作用于分析结果的命名阶段
type Stage struct {
	Name  string
	Apply func(a *model.FileAnalysis, tpl *model.Template)
}

// Pipeline 分析 → 冲突解决 → 记忆查询，按固定顺序执行
type Pipeline struct {
	analyzer *Analyzer
	stages   []Stage
}

// NewPipeline 创建流水线；memory 为 nil 时跳过记忆阶段
func NewPipeline(analyzer *Analyzer, memory MemoryLookup) *Pipeline {
	p := &Pipeline{analyzer: analyzer}
	p.stages = append(p.stages, Stage{Name: StageResolve, Apply: func(a *model.FileAnalysis, _ *model.Template) {
		a.Proposals = Resolve(a.Proposals)
	}})
	if memory != nil {
		p.stages = append(p.stages, Stage{Name: StageMemory, Apply: func(a *model.FileAnalysis, tpl *model.Template) {
			if stored, ok := memory.Lookup(tpl.Name, a.Signature); ok {
				a.MemoryOffer = &model.MemoryOffer{Signature: a.Signature, Mapping: stored}
			}
		}})
	}
	return p
}

// Stages 阶段名（执行顺序）
func (p *Pipeline) Stages() []string {
	names := []string{StageAnalyze}
	for _, s := range p.stages {
		names = append(names, s.Name)
	}
	return names
}

// Run 分析单个文件；无法解析时返回带 Error 的结果，不中断调用方的批次
func (p *Pipeline) Run(path string, tpl *model.Template) *model.FileAnalysis {
	a, err := p.analyzer.Analyze(path, tpl)
	if err != nil {
		return &model.FileAnalysis{
			Path:     path,
			FileName: filepath.Base(path),
			Stages:   []string{StageAnalyze},
			Error:    err.Error(),
		}
	}
	a.Stages = []string{StageAnalyze}
	for _, s := range p.stages {
		s.Apply(a, tpl)
		a.Stages = append(a.Stages, s.Name)
	}
	return a
}

// ApplyMemory 用记忆中的映射完全替换自动映射：先清空，再只应用记忆中的非空条目
func ApplyMemory(proposals []model.ColumnProposal, stored model.ColumnMapping) []model.ColumnProposal {
	byKey := make(map[string]string, len(stored))
	for src, target := range stored {
		byKey[parser.CanonicalKey(src)] = target
	}

	out := make([]model.ColumnProposal, len(proposals))
	for i, p := range proposals {
		p.MappedTo = ""
		p.ConflictResolved = false
		p.ConflictInfo = ""
		p.FromMemory = false
		if target := byKey[parser.CanonicalKey(p.OriginalName)]; target != "" {
			p.MappedTo = target
			p.FromMemory = true
		}
		out[i] = p
	}
	return out
}
