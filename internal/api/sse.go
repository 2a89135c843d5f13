package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/importer"
)

// sseWriter 设置 SSE 响应头；不支持流式响应时返回 nil
func sseWriter(c *gin.Context) func(v any) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return nil
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	return func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		// SSE 格式: data: {json}\n\n
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// streamProgress 把处理进度逐条推送给客户端，直到通道关闭
func streamProgress(c *gin.Context, events <-chan importer.ProgressEvent) {
	send := sseWriter(c)
	if send == nil {
		// 仍需排空通道，后台处理会继续到结束
		for range events {
		}
		return
	}
	for event := range events {
		send(event)
	}
}
