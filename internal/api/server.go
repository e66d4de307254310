package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/config"
	"pqwallet/internal/errors"
	"pqwallet/internal/opstore"
)

// Server 状态API服务器，暴露操作记录、错误统计与配置的只读视图
type Server struct {
	config    *config.Config
	store     *opstore.Store
	stats     *errors.ErrorStats
	settings  *SettingsManager
	logger    *logrus.Logger
	logBuffer *LogBuffer
	server    *http.Server
	mu        sync.RWMutex
	startedAt time.Time
	port      int
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, store *opstore.Store, stats *errors.ErrorStats, logger *logrus.Logger, port int) *Server {
	// 创建日志缓冲区，最多保存1000条日志
	logBuffer := NewLogBuffer(1000)
	logger.AddHook(NewLogHook(logBuffer))

	return &Server{
		config:    cfg,
		store:     store,
		stats:     stats,
		logger:    logger,
		logBuffer: logBuffer,
		port:      port,
	}
}

// SetSettingsManager 挂载数据库配置管理器（可选）
func (s *Server) SetSettingsManager(sm *SettingsManager) {
	s.settings = sm
}

// Start 启动API服务器
func (s *Server) Start() error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// buildRouter 构建gin路由
func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 操作记录
		api.GET("/operations", s.getOperations)
		api.GET("/operations/:hash", s.getOperation)

		// 账户部署状态
		api.GET("/accounts/:address/deployed", s.getDeployed)

		// 错误统计
		api.GET("/errors", s.getErrors)

		// 配置视图
		api.GET("/config", s.getConfig)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 数据库配置项
		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.updateSetting)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	uptime := ""
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).String()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "pqwallet-api",
		"uptime":    uptime,
	})
}

// getOperations 获取操作记录列表
func (s *Server) getOperations(c *gin.Context) {
	status := c.DefaultQuery("status", "all")

	resp := gin.H{"status": status}

	if status == "pending" || status == "all" {
		pending, err := s.store.Pending()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "读取待确认操作失败", "message": err.Error()})
			return
		}
		resp["pending"] = pending
	}

	if status == "archived" || status == "all" {
		archived, err := s.store.Archived()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "读取历史操作失败", "message": err.Error()})
			return
		}
		resp["archived"] = archived
	}

	c.JSON(http.StatusOK, resp)
}

// getOperation 获取单个操作记录
func (s *Server) getOperation(c *gin.Context) {
	hashStr := c.Param("hash")
	if !strings.HasPrefix(hashStr, "0x") || len(hashStr) != 66 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "操作哈希格式错误"})
		return
	}

	record, err := s.store.Get(common.HexToHash(hashStr))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取操作记录失败", "message": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "操作记录不存在", "hash": hashStr})
		return
	}

	c.JSON(http.StatusOK, gin.H{"operation": record})
}

// getDeployed 获取账户部署状态
func (s *Server) getDeployed(c *gin.Context) {
	addrStr := c.Param("address")
	if !common.IsHexAddress(addrStr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "账户地址格式错误"})
		return
	}

	deployed, err := s.store.IsDeployed(common.HexToAddress(addrStr))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取部署状态失败", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":  common.HexToAddress(addrStr).Hex(),
		"deployed": deployed,
	})
}

// getErrors 获取错误统计
func (s *Server) getErrors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": s.stats})
}

// getConfig 获取配置视图
func (s *Server) getConfig(c *gin.Context) {
	if s.config == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "配置未初始化"})
		return
	}

	// 不回传账户派生配置
	c.JSON(http.StatusOK, gin.H{
		"chain":   s.config.Chain,
		"bundler": s.config.Bundler,
		"gas":     s.config.Gas,
		"store":   s.config.Store,
	})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1 // 默认第1页
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}

	pageSize := 20 // 默认每页20条
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logBuffer.Recent(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logBuffer.Clear()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}

// getSettings 获取数据库配置项
func (s *Server) getSettings(c *gin.Context) {
	if s.settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未启用数据库配置"})
		return
	}
	s.settings.GetSettings(c)
}

// updateSetting 更新数据库配置项
func (s *Server) updateSetting(c *gin.Context) {
	if s.settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "未启用数据库配置"})
		return
	}
	s.settings.UpdateSetting(c)
}
