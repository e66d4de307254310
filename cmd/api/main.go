package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"pqwallet/internal/api"
	"pqwallet/internal/config"
	"pqwallet/internal/errors"
	"pqwallet/internal/opstore"
	"pqwallet/internal/shutdown"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 8080, "API 服务端口")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// 自动检测并加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}

	// 打开操作存储
	store, err := opstore.NewStore(cfg.Store.DBPath, logger)
	if err != nil {
		logger.Fatalf("打开操作存储失败: %v", err)
	}

	// 创建API服务器
	server := api.NewServer(cfg, store, errors.NewErrorStats(), logger, *port)

	// 数据库配置源可用时挂载配置项管理
	if dsn := os.Getenv("PQWALLET_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("数据库配置源不可用: %v", err)
		} else {
			server.SetSettingsManager(api.NewSettingsManager(dbConfig, logger))
			defer dbConfig.Close()
		}
	}

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.RegisterShutdownFunc("api-server", func(ctx context.Context) error {
		return server.Stop()
	}, shutdown.OrderStopAPI)
	gs.RegisterShutdownFunc("op-store", func(ctx context.Context) error {
		return store.Close()
	}, shutdown.OrderCloseStore)

	// 启动服务器
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", *port)

	gs.WaitForShutdown()
	logger.Info("服务器已关闭")
}
