package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createSessionRequest struct {
	Template string   `json:"template"`
	Files    []string `json:"files"`
}

type filesRequest struct {
	Files []string `json:"files"`
}

type templateSwitchRequest struct {
	Template string `json:"template"`
}

type mappingRequest struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type pathRequest struct {
	Path string `json:"path"`
}

// CreateSession 新建导入会话并分析所选文件
// POST /api/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	s, err := h.sessions.Create(c.Request.Context(), req.Template, req.Files)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// GetSession 获取会话
// GET /api/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// DeleteSession 结束会话
// DELETE /api/sessions/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	h.sessions.Delete(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// AddSessionFiles 追加文件
// POST /api/sessions/:id/files
func (h *Handler) AddSessionFiles(c *gin.Context) {
	var req filesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	s, err := h.sessions.AddFiles(c.Request.Context(), c.Param("id"), req.Files)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// RemoveSessionFile 移除文件
// DELETE /api/sessions/:id/files?path=...
func (h *Handler) RemoveSessionFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		badRequest(c, "缺少文件路径")
		return
	}
	s, err := h.sessions.RemoveFile(c.Param("id"), path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// SetSessionTemplate 切换模板并重新分析
// PUT /api/sessions/:id/template
func (h *Handler) SetSessionTemplate(c *gin.Context) {
	var req templateSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	s, err := h.sessions.SetTemplate(c.Request.Context(), c.Param("id"), req.Template)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// SetSessionMapping 修改单列映射，返回会话与当前冲突
// PUT /api/sessions/:id/mapping
func (h *Handler) SetSessionMapping(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" || req.Source == "" {
		badRequest(c, "无效的请求参数")
		return
	}
	s, err := h.sessions.SetMapping(c.Request.Context(), c.Param("id"), req.Path, req.Source, req.Target)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "conflicts": s.Conflicts()})
}

// GetSessionConflicts 当前映射冲突
// GET /api/sessions/:id/conflicts
func (h *Handler) GetSessionConflicts(c *gin.Context) {
	conflicts, err := h.sessions.Conflicts(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "hasConflicts": len(conflicts) > 0})
}

// AcceptSessionMemory 采用历史映射
// POST /api/sessions/:id/memory/accept
func (h *Handler) AcceptSessionMemory(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		badRequest(c, "无效的请求参数")
		return
	}
	s, err := h.sessions.AcceptMemory(c.Param("id"), req.Path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// DeclineSessionMemory 忽略历史映射
// POST /api/sessions/:id/memory/decline
func (h *Handler) DeclineSessionMemory(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		badRequest(c, "无效的请求参数")
		return
	}
	s, err := h.sessions.DeclineMemory(c.Param("id"), req.Path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ProceedSession 进入下一步前的校验，存在冲突时返回 409
// POST /api/sessions/:id/proceed
func (h *Handler) ProceedSession(c *gin.Context) {
	req, err := h.sessions.Proceed(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.processor.Validate(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "files": req.Files})
}

// ProcessSession 处理会话中的文件 (SSE 流式响应)
// POST /api/sessions/:id/process
func (h *Handler) ProcessSession(c *gin.Context) {
	id := c.Param("id")
	req, err := h.sessions.Proceed(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.processor.Validate(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}
	events, err := h.sessions.Run(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	streamProgress(c, events)
}
