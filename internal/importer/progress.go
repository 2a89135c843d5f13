package importer

import "time"

// 进度事件类型
const (
	EventStart        = "start"
	EventFileStart    = "file_start"
	EventFileProgress = "file_progress"
	EventFileDone     = "file_done"
	EventFileError    = "file_error"
	EventRetry        = "retry"
	EventDone         = "done"
	EventError        = "error"
)

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string      `json:"type"`    // start/file_start/file_progress/file_done/file_error/retry/done/error
	Message   string      `json:"message"` // 事件消息
	Data      interface{} `json:"data"`    // 附加数据
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressFunc 进度回调
type ProgressFunc func(ProgressEvent)

func newEvent(typ, msg string, data interface{}) ProgressEvent {
	return ProgressEvent{Type: typ, Message: msg, Data: data, Timestamp: time.Now()}
}

// sendProgress 非阻塞发送，通道已满时丢弃
func sendProgress(ch chan ProgressEvent, event ProgressEvent) {
	select {
	case ch <- event:
	default:
		// 通道已满，丢弃事件
	}
}
