package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flowmerge/internal/api"
	"flowmerge/internal/config"
	"flowmerge/internal/exporter"
	"flowmerge/internal/importer"
	"flowmerge/internal/mapping"
	"flowmerge/internal/memory"
	"flowmerge/internal/review"
	"flowmerge/internal/session"
	"flowmerge/internal/store"
)

// Server HTTP服务器
type Server struct {
	router *gin.Engine
	store  *store.Store
	api    *api.Handler
	http   *http.Server
	logger *slog.Logger
}

// NewServer 创建服务器并装配全部服务
func NewServer(cfg *config.AppConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	devMode := cfg.Server.DevMode
	if !devMode {
		gin.SetMode(gin.ReleaseMode)
	}

	dataDir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	st, err := store.Open(cfg.Data.DBDriver, config.GetDataPath(cfg, "", cfg.Data.DBFile))
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	if err := st.EnsureDefaultTemplate(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("初始化默认模板失败: %w", err)
	}

	mem, err := memory.Open(config.GetDataPath(cfg, "", cfg.Data.MemoryFile))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ic := cfg.Import
	analyzer := mapping.NewAnalyzer(mapping.AnalyzerOptions{
		SampleRows:    ic.SampleRows,
		SampleValues:  ic.SampleValues,
		MinSimilarity: ic.MinSimilarity,
	})
	pipeline := mapping.NewPipeline(analyzer, mem)
	processor := importer.NewProcessor(st, mem, importer.Options{
		MaxFiles:      ic.MaxFiles,
		BatchSize:     ic.BatchSize,
		RetryAttempts: ic.RetryAttempts,
		RetryInitial:  ic.RetryInitial(),
		RetryMax:      ic.RetryMax(),
		Timeout:       ic.SubmitTimeout(),
	}, logger.With("component", "importer"))

	handler := api.NewHandler(api.Deps{
		Store:     st,
		Memory:    mem,
		Pipeline:  pipeline,
		Processor: processor,
		Sessions:  session.NewManager(st, pipeline, processor, ic.SessionTTL(), logger.With("component", "session")),
		Review:    review.NewService(st, logger.With("component", "review")),
		Exporter:  exporter.NewExporter(st, cfg.Export.MaxRowsPerFile, logger.With("component", "exporter")),
		ExportDir: config.GetDataPath(cfg, "exports", ""),
		Logger:    logger.With("component", "api"),
	})

	s := &Server{
		router: gin.New(),
		store:  st,
		api:    handler,
		logger: logger,
	}
	s.router.Use(gin.Recovery())
	if devMode {
		s.router.Use(gin.Logger())
	}
	s.setupRoutes(devMode)
	logger.Info("server ready", "data_dir", dataDir, "db_driver", cfg.Data.DBDriver)
	return s, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(devMode bool) {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	apiGroup := s.router.Group("/api")
	{
		s.api.RegisterRoutes(apiGroup)
	}

	if devMode {
		// 开发模式：代理到前端开发服务器
		s.router.NoRoute(func(c *gin.Context) {
			c.Redirect(http.StatusTemporaryRedirect, "http://localhost:5173"+c.Request.URL.Path)
		})
		return
	}
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "接口不存在"})
	})
}

// Handler 路由（用于测试）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器，阻塞直到 Shutdown
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接收请求并关闭数据库
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GetStore 获取存储（用于测试）
func (s *Server) GetStore() *store.Store {
	return s.store
}
