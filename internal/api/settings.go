package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/config"
)

// SettingsManager 数据库配置项管理器
type SettingsManager struct {
	dbConfig *config.DatabaseConfig
	logger   *logrus.Logger
}

// NewSettingsManager 创建配置项管理器
func NewSettingsManager(dbConfig *config.DatabaseConfig, logger *logrus.Logger) *SettingsManager {
	return &SettingsManager{
		dbConfig: dbConfig,
		logger:   logger,
	}
}

// GetSettings 获取配置项，key为空时返回全部
func (sm *SettingsManager) GetSettings(c *gin.Context) {
	key := c.Query("key")

	if key == "" {
		query := `SELECT key, value FROM wallet_settings ORDER BY key`
		rows, err := sm.dbConfig.DB.Query(query)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "获取配置失败",
				"message": err.Error(),
			})
			return
		}
		defer rows.Close()

		settings := make(map[string]string)
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				continue
			}
			settings[k] = v
		}

		c.JSON(http.StatusOK, gin.H{
			"settings": settings,
		})
		return
	}

	var value string
	query := `SELECT value FROM wallet_settings WHERE key = $1`
	if err := sm.dbConfig.DB.QueryRow(query, key).Scan(&value); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "配置不存在",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
	})
}

// UpdateSetting 更新配置项
func (sm *SettingsManager) UpdateSetting(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	query := `INSERT INTO wallet_settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = $2`
	if _, err := sm.dbConfig.DB.Exec(query, req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	sm.logger.Infof("配置项已更新: %s", req.Key)
	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功",
		"key":     req.Key,
		"value":   req.Value,
	})
}
