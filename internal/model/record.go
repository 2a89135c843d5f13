package model

import "time"

// RowRecord 源文件中的一行
type RowRecord struct {
	SourceFile string            `json:"source_file"`
	RowNumber  int               `json:"row_number"`
	Values     map[string]string `json:"values"`
}

// AcceptedRecord 入库记录，Data 为 字段名 -> 规范化值
type AcceptedRecord struct {
	ID           int64          `json:"id"`
	BatchID      string         `json:"batch_id"`
	TemplateName string         `json:"template_name"`
	SourceFile   string         `json:"source_file"`
	RowNumber    int            `json:"row_number"`
	Data         map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RejectedStatus 待修正记录状态
type RejectedStatus string

const (
	RejectedPending  RejectedStatus = "pending"
	RejectedResolved RejectedStatus = "resolved"
	RejectedExcluded RejectedStatus = "excluded"
)

// RejectedRecord 校验失败、进入人工修正队列的行
type RejectedRecord struct {
	ID            int64             `json:"id"`
	BatchID       string            `json:"batch_id"`
	TemplateName  string            `json:"template_name"`
	SourceFile    string            `json:"source_file"`
	RowNumber     int               `json:"row_number"`
	ColumnName    string            `json:"column_name"`
	TargetField   string            `json:"target_field"`
	OriginalValue string            `json:"original_value"`
	Reason        string            `json:"reason"`
	RawData       map[string]string `json:"raw_data"`
	RawColumns    []string          `json:"raw_columns"`
	Mapping       ColumnMapping     `json:"mapping"`
	Status        RejectedStatus    `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}

// FileStats 单文件处理统计
type FileStats struct {
	Path      string `json:"path"`
	FileName  string `json:"file_name"`
	TotalRows int    `json:"total_rows"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
	Skipped   int    `json:"skipped"` // 空行
	Error     string `json:"error,omitempty"`
}

// BatchStatus 批次状态
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchReviewed   BatchStatus = "reviewed"
)

// BatchResult 一次批量处理的结果
type BatchResult struct {
	BatchID        string        `json:"batch_id"`
	TemplateName   string        `json:"template_name"`
	Status         BatchStatus   `json:"status"`
	TotalProcessed int           `json:"total_processed"`
	TotalAccepted  int           `json:"total_accepted"`
	TotalRejected  int           `json:"total_rejected"`
	FailedFiles    int           `json:"failed_files"`
	Files          []FileStats   `json:"files"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// Batch 批次日志
type Batch struct {
	ID             string      `json:"id"`
	TemplateName   string      `json:"template_name"`
	Status         BatchStatus `json:"status"`
	TotalFiles     int         `json:"total_files"`
	FailedFiles    int         `json:"failed_files"`
	TotalProcessed int         `json:"total_processed"`
	TotalAccepted  int         `json:"total_accepted"`
	TotalRejected  int         `json:"total_rejected"`
	Excluded       int         `json:"excluded"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}
