package config

import (
	"fmt"
	"os"
	"time"

	"pqwallet/internal/errors"
	"pqwallet/internal/logging"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Chain   *ChainConfig       `mapstructure:"chain"`
	Bundler *BundlerConfig     `mapstructure:"bundler"`
	Account *AccountConfig     `mapstructure:"account"`
	Gas     *GasConfig         `mapstructure:"gas"`
	Events  *KafkaConfig       `mapstructure:"events"`
	Store   *StoreConfig       `mapstructure:"store"`
	Logging *logging.LogConfig `mapstructure:"logging"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainID    int64  `mapstructure:"chain_id"`
	RPCURL     string `mapstructure:"rpc_url"`
	EntryPoint string `mapstructure:"entry_point"`
	Factory    string `mapstructure:"factory"`
	Paymaster  string `mapstructure:"paymaster"` // 可选
}

// BundlerConfig bundler配置
type BundlerConfig struct {
	URL            string `mapstructure:"url"`
	WSURL          string `mapstructure:"ws_url"` // 可选，推送通道
	Timeout        string `mapstructure:"timeout"`
	MaxRetries     int    `mapstructure:"max_retries"`
	ConfirmTimeout string `mapstructure:"confirm_timeout"`
	PollInterval   string `mapstructure:"poll_interval"`
}

// AccountConfig 账户配置
type AccountConfig struct {
	DerivationPath string `mapstructure:"derivation_path"`
	SecurityLevel  int    `mapstructure:"security_level"`
}

// GasConfig gas配置
type GasConfig struct {
	BufferPercent uint64 `mapstructure:"buffer_percent"`
}

// KafkaConfig 生命周期事件配置。Kafka与本地审计日志可同时启用
type KafkaConfig struct {
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	AuditPath string   `mapstructure:"audit_path"`
}

// StoreConfig 本地存储配置
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	// 首先尝试从环境变量获取数据库配置
	dbDSN := os.Getenv("PQWALLET_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		return config, nil
	}

	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 零是合法的重试配置（立即失败），缺省值只在键未出现时生效
	v.SetDefault("bundler.max_retries", 3)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

// applyDefaults 补齐缺省配置项
func applyDefaults(config *Config) {
	if config.Gas == nil {
		config.Gas = &GasConfig{BufferPercent: 10}
	}
	if config.Store == nil {
		config.Store = &StoreConfig{DBPath: "./data/operations.db"}
	}
	if config.Logging == nil {
		config.Logging = logging.DefaultLogConfig
	}
	if config.Bundler != nil {
		if config.Bundler.Timeout == "" {
			config.Bundler.Timeout = "30s"
		}
		if config.Bundler.ConfirmTimeout == "" {
			config.Bundler.ConfirmTimeout = "60s"
		}
		if config.Bundler.PollInterval == "" {
			config.Bundler.PollInterval = "1s"
		}
	}
	if config.Account != nil && config.Account.SecurityLevel == 0 {
		config.Account.SecurityLevel = 65
	}
}

// Validate 校验必填项，缺失关键地址直接返回配置错误
func (c *Config) Validate() error {
	if c.Chain == nil {
		return errors.NewConfigurationError("缺少chain配置")
	}
	if c.Chain.ChainID == 0 {
		return errors.NewConfigurationError("缺少chain_id")
	}
	if c.Chain.RPCURL == "" {
		return errors.NewConfigurationError("缺少链RPC地址")
	}
	if !common.IsHexAddress(c.Chain.EntryPoint) {
		return errors.NewConfigurationError("入口点地址缺失或非法")
	}
	if !common.IsHexAddress(c.Chain.Factory) {
		return errors.NewConfigurationError("工厂合约地址缺失或非法")
	}
	if c.Chain.Paymaster != "" && !common.IsHexAddress(c.Chain.Paymaster) {
		return errors.NewConfigurationError("paymaster地址非法")
	}
	if c.Bundler == nil || c.Bundler.URL == "" {
		return errors.NewConfigurationError("缺少bundler地址")
	}
	if c.Account == nil || c.Account.DerivationPath == "" {
		return errors.NewConfigurationError("缺少账户派生路径")
	}
	return nil
}

// BundlerTimeout 解析bundler单次请求超时
func (c *Config) BundlerTimeout() time.Duration {
	return parseDurationOr(c.Bundler.Timeout, 30*time.Second)
}

// ConfirmTimeout 解析确认等待总超时
func (c *Config) ConfirmTimeout() time.Duration {
	return parseDurationOr(c.Bundler.ConfirmTimeout, 60*time.Second)
}

// PollInterval 解析确认轮询间隔
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Bundler.PollInterval, time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chain: &ChainConfig{
			ChainID: 1,
			RPCURL:  "", // 需要在YAML配置或数据库中指定
		},
		Bundler: &BundlerConfig{
			URL:            "",
			Timeout:        "30s",
			MaxRetries:     3,
			ConfirmTimeout: "60s",
			PollInterval:   "1s",
		},
		Account: &AccountConfig{
			DerivationPath: "m/44'/60'/0'/0/0",
			SecurityLevel:  65,
		},
		Gas: &GasConfig{
			BufferPercent: 10,
		},
		Store: &StoreConfig{
			DBPath: "./data/operations.db",
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
