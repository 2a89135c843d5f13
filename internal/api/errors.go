package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/model"
)

type errorKind struct {
	target  error
	status  int
	message string
}

var errorKinds = []errorKind{
	{model.ErrTemplateNotFound, http.StatusNotFound, "模板不存在"},
	{model.ErrTemplateExists, http.StatusConflict, "模板已存在"},
	{model.ErrTemplateLocked, http.StatusConflict, "模板已有入库数据，只能修改同义词"},
	{model.ErrLastTemplate, http.StatusConflict, "不能删除最后一个模板"},
	{model.ErrInvalidTemplate, http.StatusBadRequest, "模板定义无效"},
	{model.ErrFieldNotFound, http.StatusBadRequest, "字段不存在"},
	{model.ErrNoFiles, http.StatusBadRequest, "未选择任何文件"},
	{model.ErrTooManyFiles, http.StatusBadRequest, "文件数量超过上限"},
	{model.ErrMappingConflict, http.StatusConflict, "存在未解决的映射冲突"},
	{model.ErrMappingMissing, http.StatusBadRequest, "文件缺少字段映射"},
	{model.ErrSubmissionFailed, http.StatusServiceUnavailable, "数据提交失败，请减少单次处理的文件数量或检查文件格式后重试"},
	{model.ErrUnsupportedFormat, http.StatusBadRequest, "不支持的文件格式"},
	{model.ErrEmptySheet, http.StatusBadRequest, "文件没有表头"},
	{model.ErrRejectedNotFound, http.StatusNotFound, "待修正记录不存在"},
	{model.ErrRejectedClosed, http.StatusConflict, "记录已处理"},
	{model.ErrUnresolvedRows, http.StatusConflict, "仍有未处理的待修正记录"},
	{model.ErrBatchNotFound, http.StatusNotFound, "批次不存在"},
	{model.ErrSessionNotFound, http.StatusNotFound, "会话不存在或已过期"},
	{model.ErrMemoryNotFound, http.StatusNotFound, "历史映射不存在"},
	{model.ErrInvalidFilter, http.StatusBadRequest, "筛选条件无效"},
}

// classify 错误对应的 HTTP 状态码与提示
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, k.message
		}
	}
	return http.StatusInternalServerError, "服务器内部错误"
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": message, "detail": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
