package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/model"
)

// FilterRequest 单个筛选条件，op 支持 = < > <= >= <> contains startswith endswith notnull
type FilterRequest struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// RecordQueryRequest 入库记录查询
type RecordQueryRequest struct {
	Template  string          `json:"template"`
	BatchID   string          `json:"batchId"`
	Filters   []FilterRequest `json:"filters"`
	SortField string          `json:"sortField"`
	SortDesc  bool            `json:"sortDesc"`
	Page      int             `json:"page"`
	PageSize  int             `json:"pageSize"`
}

func (r RecordQueryRequest) toQuery() (model.RecordQuery, error) {
	q := model.RecordQuery{
		TemplateName: r.Template,
		BatchID:      r.BatchID,
		SortField:    r.SortField,
		SortDesc:     r.SortDesc,
		Page:         r.Page,
		PageSize:     r.PageSize,
	}
	for _, f := range r.Filters {
		op, err := model.ParseFilterOp(f.Op)
		if err != nil {
			return q, err
		}
		filter := model.Filter{Field: f.Field, Op: op, Value: f.Value}
		if f.Type != "" {
			t, err := model.ParseFieldType(f.Type)
			if err != nil {
				return q, fmt.Errorf("%w: %v", model.ErrInvalidFilter, err)
			}
			filter.Type = t
		}
		q.Filters = append(q.Filters, filter)
	}
	return q, nil
}

// recordQuery 转换查询请求；未声明类型的筛选条件按模板字段类型比较
func (h *Handler) recordQuery(ctx context.Context, req RecordQueryRequest) (model.RecordQuery, error) {
	q, err := req.toQuery()
	if err != nil {
		return q, err
	}
	name := req.Template
	if name == "" {
		if name, err = h.store.GetDefaultTemplate(ctx); err != nil {
			return q, err
		}
	}
	tpl, err := h.store.GetTemplate(ctx, name)
	if err != nil {
		return q, err
	}
	return q.WithFieldTypes(tpl), nil
}

// QueryRecords 按条件分页查询入库记录
// POST /api/records/query
func (h *Handler) QueryRecords(c *gin.Context) {
	var req RecordQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 1000 {
		req.PageSize = 50
	}
	q, err := h.recordQuery(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	page, err := h.store.QueryAccepted(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetStats 数据库统计；dateField / groupField 未指定时取模板中第一个日期字段与「账号」
// GET /api/records/stats?template=&dateField=&groupField=
func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Query("template")
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

	dateField := c.DefaultQuery("dateField", tpl.FirstFieldOfType(model.FieldDate))
	groupField := c.Query("groupField")
	if groupField == "" {
		if _, ok := tpl.Field("账号"); ok {
			groupField = "账号"
		}
	}
	stats, err := h.store.Stats(ctx, tpl.Name, dateField, groupField)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type exportResponse struct {
	Rows  int              `json:"rows"`
	Files []exportFileLink `json:"files"`
}

type exportFileLink struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	DownloadURL string `json:"downloadUrl"`
}

// ExportRecords 导出筛选结果，超过单文件上限时拆分
// POST /api/records/export
func (h *Handler) ExportRecords(c *gin.Context) {
	var req RecordQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数")
		return
	}
	q, err := h.recordQuery(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	name := req.Template
	if name == "" {
		name = "records"
	}
	out := filepath.Join(h.exportDir, fmt.Sprintf("%s_%s.xlsx", name, time.Now().Format("20060102_150405")))
	res, err := h.exporter.Export(c.Request.Context(), q, out, nil)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := exportResponse{Rows: res.Rows, Files: make([]exportFileLink, 0, len(res.Files))}
	for _, p := range res.Files {
		token := h.downloads.put(p, downloadTTL)
		resp.Files = append(resp.Files, exportFileLink{
			Name:        filepath.Base(p),
			Path:        p,
			DownloadURL: "/api/export/download/" + token,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadExport 下载导出文件
// GET /api/export/download/:token
func (h *Handler) DownloadExport(c *gin.Context) {
	item, ok := h.downloads.get(c.Param("token"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "下载链接已失效"})
		return
	}
	c.FileAttachment(item.filePath, filepath.Base(item.filePath))
}

