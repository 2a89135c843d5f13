package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/model"
	"flowmerge/internal/store"
)

// TemplateRequest 新建或更新模板
type TemplateRequest struct {
	Name      string                `json:"name"`
	Fields    []model.TemplateField `json:"fields"`
	IsDefault bool                  `json:"isDefault"`
}

type listTemplatesResponse struct {
	Default   string            `json:"default"`
	Names     []string          `json:"names"`
	Templates []*model.Template `json:"templates"`
}

// Ping 健康检查
// GET /api/ping
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListTemplates 模板列表，默认模板在前
// GET /api/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	ctx := c.Request.Context()
	all, err := h.store.ListTemplates(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	def, err := h.store.GetDefaultTemplate(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	names := store.TemplateNames(all)
	resp := listTemplatesResponse{Default: def, Names: names, Templates: make([]*model.Template, 0, len(names))}
	for _, n := range names {
		resp.Templates = append(resp.Templates, all[n])
	}
	c.JSON(http.StatusOK, resp)
}

// GetTemplate 获取模板
// GET /api/templates/:name
func (h *Handler) GetTemplate(c *gin.Context) {
	tpl, err := h.store.GetTemplate(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// CreateTemplate 新建模板
// POST /api/templates
func (h *Handler) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetTemplate(ctx, req.Name); err == nil {
		h.fail(c, model.ErrTemplateExists)
		return
	} else if !errors.Is(err, model.ErrTemplateNotFound) {
		h.fail(c, err)
		return
	}
	h.saveTemplate(c, http.StatusCreated, req)
}

// UpdateTemplate 更新模板；已有入库数据时只允许修改同义词
// PUT /api/templates/:name
func (h *Handler) UpdateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	req.Name = c.Param("name")
	if _, err := h.store.GetTemplate(c.Request.Context(), req.Name); err != nil {
		h.fail(c, err)
		return
	}
	h.saveTemplate(c, http.StatusOK, req)
}

func (h *Handler) saveTemplate(c *gin.Context, status int, req TemplateRequest) {
	ctx := c.Request.Context()
	tpl := &model.Template{Name: req.Name, Fields: req.Fields}
	if err := h.store.SaveTemplate(ctx, tpl, req.IsDefault); err != nil {
		h.fail(c, err)
		return
	}
	saved, err := h.store.GetTemplate(ctx, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("template saved", "template", saved.Name, "fields", len(saved.Fields), "default", saved.IsDefault)
	c.JSON(status, saved)
}

// DeleteTemplate 删除模板及其模板记忆
// DELETE /api/templates/:name
func (h *Handler) DeleteTemplate(c *gin.Context) {
	name := c.Param("name")
	if err := h.store.DeleteTemplate(c.Request.Context(), name); err != nil {
		h.fail(c, err)
		return
	}
	if h.memory != nil {
		if err := h.memory.DeleteTemplate(name); err != nil {
			h.logger.Warn("failed to drop template memory", "template", name, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

// SetDefaultTemplate 设为默认模板
// POST /api/templates/:name/default
func (h *Handler) SetDefaultTemplate(c *gin.Context) {
	ctx := c.Request.Context()
	tpl, err := h.store.GetTemplate(ctx, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.SaveTemplate(ctx, tpl, true); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"default": tpl.Name})
}

type synonymsRequest struct {
	Synonyms []string `json:"synonyms"`
}

// UpdateSynonyms 替换字段的同义词
// PUT /api/templates/:name/fields/:field/synonyms
func (h *Handler) UpdateSynonyms(c *gin.Context) {
	var req synonymsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	ctx := c.Request.Context()
	name := c.Param("name")
	if err := h.store.UpdateSynonyms(ctx, name, c.Param("field"), req.Synonyms); err != nil {
		h.fail(c, err)
		return
	}
	tpl, err := h.store.GetTemplate(ctx, name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}
