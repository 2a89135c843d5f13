package mapping

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"flowmerge/internal/memory"
	"flowmerge/internal/model"
	"flowmerge/internal/parser"
	"flowmerge/internal/spreadsheet"
)

// AnalyzerOptions 分析参数
type AnalyzerOptions struct {
	SampleRows    int     // 读取的数据行数上限
	SampleValues  int     // 每列保留的样本值个数
	MinSimilarity float64 // 低于该值不自动映射
}

// DefaultAnalyzerOptions 默认分析参数
func DefaultAnalyzerOptions() AnalyzerOptions {
	return AnalyzerOptions{SampleRows: 100, SampleValues: 5, MinSimilarity: MediumConfidence}
}

// Analyzer 文件分析器：为每个源列生成映射建议
type Analyzer struct {
	opts AnalyzerOptions
}

// NewAnalyzer 创建分析器
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	def := DefaultAnalyzerOptions()
	if opts.SampleRows <= 0 {
		opts.SampleRows = def.SampleRows
	}
	if opts.SampleValues <= 0 {
		opts.SampleValues = def.SampleValues
	}
	return &Analyzer{opts: opts}
}

// Analyze 打开文件并生成列映射建议（按文件列顺序）
func (a *Analyzer) Analyze(path string, tpl *model.Template) (*model.FileAnalysis, error) {
	sheet, err := spreadsheet.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "无法解析文件 %s", filepath.Base(path))
	}
	defer sheet.Close()

	samples := make(map[string][]string, len(sheet.Columns))
	rows := 0
	for rows < a.opts.SampleRows && sheet.Next() {
		rows++
		for col, v := range sheet.Row().Values {
			if strings.TrimSpace(v) != "" {
				samples[col] = append(samples[col], v)
			}
		}
	}
	if err := sheet.Err(); err != nil {
		return nil, eris.Wrapf(err, "读取文件 %s 失败", filepath.Base(path))
	}

	return &model.FileAnalysis{
		Path:        path,
		FileName:    filepath.Base(path),
		Columns:     sheet.Columns,
		Signature:   memory.Signature(sheet.Columns),
		Proposals:   a.Propose(sheet.Columns, samples, tpl),
		SampledRows: rows,
	}, nil
}

// Propose 对已读出的列和样本生成建议
func (a *Analyzer) Propose(columns []string, samples map[string][]string, tpl *model.Template) []model.ColumnProposal {
	proposals := make([]model.ColumnProposal, 0, len(columns))
	for _, col := range columns {
		values := samples[col]
		shown := values
		if len(shown) > a.opts.SampleValues {
			shown = shown[:a.opts.SampleValues]
		}

		p := model.ColumnProposal{
			OriginalName: col,
			DetectedType: parser.InferType(values),
			SampleValues: append([]string{}, shown...),
			Confidence:   model.ConfidenceLow,
		}
		if m, ok := BestMatch(col, tpl); ok {
			p.Candidate = m.Field
			p.Similarity = m.Similarity
			p.Confidence = m.Tier
			if m.Similarity >= a.opts.MinSimilarity {
				p.MappedTo = m.Field
			}
		}
		proposals = append(proposals, p)
	}
	return proposals
}
