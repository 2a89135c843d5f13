package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/exporter"
	"flowmerge/internal/importer"
	"flowmerge/internal/mapping"
	"flowmerge/internal/memory"
	"flowmerge/internal/review"
	"flowmerge/internal/session"
	"flowmerge/internal/store"
)

// Deps API 依赖的服务
type Deps struct {
	Store     *store.Store
	Memory    *memory.Memory
	Pipeline  *mapping.Pipeline
	Processor *importer.Processor
	Sessions  *session.Manager
	Review    *review.Service
	Exporter  *exporter.Exporter
	ExportDir string
	Logger    *slog.Logger
}

// Handler API 处理器
type Handler struct {
	store     *store.Store
	memory    *memory.Memory
	pipeline  *mapping.Pipeline
	processor *importer.Processor
	sessions  *session.Manager
	review    *review.Service
	exporter  *exporter.Exporter
	exportDir string
	downloads *downloadStore
	logger    *slog.Logger
}

// NewHandler 创建 API 处理器
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     d.Store,
		memory:    d.Memory,
		pipeline:  d.Pipeline,
		processor: d.Processor,
		sessions:  d.Sessions,
		review:    d.Review,
		exporter:  d.Exporter,
		exportDir: d.ExportDir,
		downloads: newDownloadStore(),
		logger:    logger,
	}
}

// RegisterRoutes 注册 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ping", h.Ping)

	// 模板管理
	router.GET("/templates", h.ListTemplates)
	router.POST("/templates", h.CreateTemplate)
	router.GET("/templates/:name", h.GetTemplate)
	router.PUT("/templates/:name", h.UpdateTemplate)
	router.DELETE("/templates/:name", h.DeleteTemplate)
	router.POST("/templates/:name/default", h.SetDefaultTemplate)
	router.PUT("/templates/:name/fields/:field/synonyms", h.UpdateSynonyms)

	// 最近文件
	router.GET("/recent-files", h.ListRecentFiles)
	router.DELETE("/recent-files", h.ClearRecentFiles)

	// 单文件分析与无会话批处理
	router.POST("/analyze-file", h.AnalyzeFile)
	router.POST("/process-files", h.ProcessFiles)

	// 交互式会话
	router.POST("/sessions", h.CreateSession)
	router.GET("/sessions/:id", h.GetSession)
	router.DELETE("/sessions/:id", h.DeleteSession)
	router.POST("/sessions/:id/files", h.AddSessionFiles)
	router.DELETE("/sessions/:id/files", h.RemoveSessionFile)
	router.PUT("/sessions/:id/template", h.SetSessionTemplate)
	router.PUT("/sessions/:id/mapping", h.SetSessionMapping)
	router.GET("/sessions/:id/conflicts", h.GetSessionConflicts)
	router.POST("/sessions/:id/memory/accept", h.AcceptSessionMemory)
	router.POST("/sessions/:id/memory/decline", h.DeclineSessionMemory)
	router.POST("/sessions/:id/proceed", h.ProceedSession)
	router.POST("/sessions/:id/process", h.ProcessSession)

	// 入库数据
	router.POST("/records/query", h.QueryRecords)
	router.GET("/records/stats", h.GetStats)
	router.POST("/records/export", h.ExportRecords)
	router.GET("/export/download/:token", h.DownloadExport)

	// 待修正记录
	router.GET("/rejected", h.ListRejected)
	router.GET("/rejected/:id/fields", h.GetRejectedFields)
	router.POST("/rejected/:id/fix", h.FixRejected)
	router.DELETE("/rejected/:id", h.DiscardRejected)

	// 批次
	router.GET("/batches", h.ListBatches)
	router.GET("/batches/:id", h.GetBatch)
	router.POST("/batches/:id/finish", h.FinishBatch)

	// 模板记忆
	router.GET("/memory", h.ListMemory)
	router.DELETE("/memory", h.DeleteMemory)
}
