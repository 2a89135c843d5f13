package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListMemory 模板记忆条目
// GET /api/memory?template=
func (h *Handler) ListMemory(c *gin.Context) {
	name := c.Query("template")
	if name == "" {
		def, err := h.store.GetDefaultTemplate(c.Request.Context())
		if err != nil {
			h.fail(c, err)
			return
		}
		name = def
	}
	c.JSON(http.StatusOK, gin.H{"template": name, "items": h.memory.List(name)})
}

// DeleteMemory 删除一条模板记忆
// DELETE /api/memory?template=&signature=
func (h *Handler) DeleteMemory(c *gin.Context) {
	name, sig := c.Query("template"), c.Query("signature")
	if name == "" || sig == "" {
		badRequest(c, "缺少模板或签名")
		return
	}
	if err := h.memory.Delete(name, sig); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
