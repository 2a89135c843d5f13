package exporter

// ProgressEvent 导出进度事件（用于 UI 展示）
type ProgressEvent struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage"`
	Written int    `json:"written"`
	Total   int    `json:"total"`
	File    string `json:"file,omitempty"`
}

func reportProgress(progress func(ProgressEvent), written, total int, stage, file string) {
	if progress == nil {
		return
	}
	percent := 100
	if total > 0 {
		percent = written * 100 / total
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	progress(ProgressEvent{
		Percent: percent,
		Stage:   stage,
		Written: written,
		Total:   total,
		File:    file,
	})
}
