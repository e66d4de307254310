package config

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	// 加载链配置
	chainConfig, err := dc.loadChainConfig()
	if err != nil {
		return nil, fmt.Errorf("加载链配置失败: %w", err)
	}
	config.Chain = chainConfig

	// 加载bundler配置
	bundlerConfig, err := dc.loadBundlerConfig()
	if err != nil {
		return nil, fmt.Errorf("加载bundler配置失败: %w", err)
	}
	config.Bundler = bundlerConfig

	// 加载可选的键值項
	if err := dc.loadSettings(config); err != nil {
		dc.logger.Warnf("加载可选配置项失败: %v", err)
	}

	applyDefaults(config)
	return config, nil
}

// loadChainConfig 加载链配置
func (dc *DatabaseConfig) loadChainConfig() (*ChainConfig, error) {
	query := `SELECT chain_id, rpc_url, entry_point, factory, COALESCE(paymaster, '') FROM wallet_chains WHERE is_active = true ORDER BY priority LIMIT 1`

	var chain ChainConfig
	row := dc.DB.QueryRow(query)
	if err := row.Scan(&chain.ChainID, &chain.RPCURL, &chain.EntryPoint, &chain.Factory, &chain.Paymaster); err != nil {
		return nil, err
	}

	return &chain, nil
}

// loadBundlerConfig 加载bundler配置
func (dc *DatabaseConfig) loadBundlerConfig() (*BundlerConfig, error) {
	query := `SELECT url, COALESCE(ws_url, ''), timeout, max_retries FROM wallet_bundlers WHERE is_active = true ORDER BY priority LIMIT 1`

	var bundler BundlerConfig
	row := dc.DB.QueryRow(query)
	if err := row.Scan(&bundler.URL, &bundler.WSURL, &bundler.Timeout, &bundler.MaxRetries); err != nil {
		return nil, err
	}

	return &bundler, nil
}

// loadSettings 加载键值配置表中的可选项
func (dc *DatabaseConfig) loadSettings(config *Config) error {
	query := `SELECT key, value FROM wallet_settings`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}

		switch key {
		case "gas_buffer_percent":
			if n, err := strconv.ParseUint(value, 10, 64); err == nil {
				config.Gas = &GasConfig{BufferPercent: n}
			}
		case "derivation_path":
			config.Account.DerivationPath = value
		case "security_level":
			if n, err := strconv.Atoi(value); err == nil {
				config.Account.SecurityLevel = n
			}
		case "store_db_path":
			config.Store = &StoreConfig{DBPath: value}
		}
	}

	return rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
