package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/importer"
	"flowmerge/internal/model"
)

// ListRecentFiles 最近打开的文件，最新在前
// GET /api/recent-files
func (h *Handler) ListRecentFiles(c *gin.Context) {
	files, err := h.store.ListRecent(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// ClearRecentFiles 清空最近文件
// DELETE /api/recent-files
func (h *Handler) ClearRecentFiles(c *gin.Context) {
	if err := h.store.ClearRecent(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": []string{}})
}

type analyzeRequest struct {
	Path     string `json:"path"`
	Template string `json:"template"`
}

// AnalyzeFile 分析单个文件：列、类型、映射建议与历史映射
// POST /api/analyze-file
func (h *Handler) AnalyzeFile(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		badRequest(c, "无效的请求参数")
		return
	}
	ctx := c.Request.Context()
	name := req.Template
	if name == "" {
		def, err := h.store.GetDefaultTemplate(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		name = def
	}
	tpl, err := h.store.GetTemplate(ctx, name)
	if err != nil {
		h.fail(c, err)
		return
	}

	analysis := h.pipeline.Run(req.Path, tpl)
	if analysis.Failed() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "文件无法读取", "detail": analysis.Error, "analysis": analysis})
		return
	}
	if err := h.store.AddRecent(ctx, req.Path); err != nil {
		h.logger.Warn("failed to record recent file", "file", analysis.FileName, "error", err)
	}
	c.JSON(http.StatusOK, analysis)
}

// ProcessFilesRequest 不经过会话的批处理请求
type ProcessFilesRequest struct {
	Template string                         `json:"template"`
	Files    []string                       `json:"files"`
	Mappings map[string]model.ColumnMapping `json:"mappings"`
}

// ProcessFiles 批量处理文件 (SSE 流式响应)
// POST /api/process-files
func (h *Handler) ProcessFiles(c *gin.Context) {
	var body ProcessFilesRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	ctx := c.Request.Context()
	if body.Template == "" {
		def, err := h.store.GetDefaultTemplate(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		body.Template = def
	}
	req := importer.Request{TemplateName: body.Template, Files: body.Files, Mappings: body.Mappings}

	// 校验失败直接返回错误，不开始流式响应
	if _, err := h.processor.Validate(ctx, req); err != nil {
		h.fail(c, err)
		return
	}
	streamProgress(c, h.processor.Run(ctx, req))
}
