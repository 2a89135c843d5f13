package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/model"
	"flowmerge/internal/review"
)

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "无效的记录 ID")
		return 0, false
	}
	return id, true
}

// ListRejected 待修正记录
// GET /api/rejected?batchId=&page=&pageSize=
func (h *Handler) ListRejected(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("pageSize", "50"))
	res, err := h.review.ListRejected(c.Request.Context(), c.Query("batchId"), page, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetRejectedFields 修正界面的输入项
// GET /api/rejected/:id/fields
func (h *Handler) GetRejectedFields(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	fields, err := h.review.EditorFields(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": fields})
}

type fixRequest struct {
	Value  *string           `json:"value"`
	Fields map[string]string `json:"fields"`
}

// FixRejected 提交修正值；仍未通过时返回新的失败原因
// POST /api/rejected/:id/fix
func (h *Handler) FixRejected(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Value == nil && len(req.Fields) == 0) {
		badRequest(c, "无效的请求参数")
		return
	}

	var (
		res *review.FixResult
		err error
	)
	if len(req.Fields) > 0 {
		res, err = h.review.FixFields(c.Request.Context(), id, req.Fields)
	} else {
		res, err = h.review.Fix(c.Request.Context(), id, *req.Value)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DiscardRejected 丢弃待修正记录
// DELETE /api/rejected/:id
func (h *Handler) DiscardRejected(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.review.Discard(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBatches 最近的批次
// GET /api/batches?limit=
func (h *Handler) ListBatches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	batches, err := h.store.ListBatches(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": batches})
}

// GetBatch 批次详情
// GET /api/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	b, err := h.store.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type finishRequest struct {
	Confirm bool `json:"confirm"`
}

// FinishBatch 结束修正流程；仍有未处理记录且未确认时返回 409 与待处理数
// POST /api/batches/:id/finish
func (h *Handler) FinishBatch(c *gin.Context) {
	var req finishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "无效的请求参数")
			return
		}
	}
	res, err := h.review.Finish(c.Request.Context(), c.Param("id"), req.Confirm)
	if errors.Is(err, model.ErrUnresolvedRows) {
		c.JSON(http.StatusConflict, gin.H{
			"error":             "仍有未处理的待修正记录，确认后这些记录将不会入库",
			"pending":           res.Pending,
			"needsConfirmation": true,
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
