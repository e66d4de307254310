package retry

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	walleterrors "pqwallet/internal/errors"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts"`     // 总尝试次数（重试次数+1）
	InitialInterval time.Duration `json:"initial_interval"` // 初始退避间隔
	MaxInterval     time.Duration `json:"max_interval"`     // 最大退避间隔
	BackoffFactor   float64       `json:"backoff_factor"`   // 退避因子
}

// BundlerRetryConfig bundler调用的默认重试配置：退避1s起步、逐次翻倍。
// 退避刻意保持确定性，配对的测试依赖精确的时间下界
var BundlerRetryConfig = &RetryConfig{
	MaxAttempts:     4,
	InitialInterval: 1 * time.Second,
	MaxInterval:     30 * time.Second,
	BackoffFactor:   2.0,
}

// ChainRetryConfig 链上只读调用的重试配置
var ChainRetryConfig = &RetryConfig{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
	BackoffFactor:   2.0,
}

// Observer 每次失败尝试的回调，在退避等待之前触发
type Observer func(operation string, attempt int, err error, delay time.Duration)

// RetryableError 可重试错误接口
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryableError 判断错误是否可重试。实现了RetryableError接口的错误
// （包括WalletError）按其自述判定，裸传输错误按模式匹配兜底
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if retryableErr, ok := err.(RetryableError); ok {
		return retryableErr.IsRetryable()
	}

	// 未包装的传输层错误
	errStr := strings.ToLower(err.Error())
	transportErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"broken pipe",
		"eof",
	}
	for _, pattern := range transportErrors {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// Retrier 重试器
type Retrier struct {
	config   *RetryConfig
	logger   *logrus.Logger
	observer Observer
}

// NewRetrier 创建重试器。observer可为nil
func NewRetrier(config *RetryConfig, logger *logrus.Logger, observer Observer) *Retrier {
	if config == nil {
		config = BundlerRetryConfig
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Retrier{
		config:   config,
		logger:   logger,
		observer: observer,
	}
}

// ExecuteFunc 执行函数类型
type ExecuteFunc func() error

// Execute 执行重试逻辑。不可重试错误立即透传；
// 所有尝试耗尽后返回携带最后一次底层错误的重试耗尽错误
func (r *Retrier) Execute(ctx context.Context, operation string, fn ExecuteFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return err
		}

		if attempt == r.config.MaxAttempts {
			r.logger.Errorf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
			return walleterrors.NewTimeoutExhausted(operation, attempt, err)
		}

		delay := r.calculateDelay(attempt)
		if r.observer != nil {
			r.observer(operation, attempt, err, delay)
		}
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// calculateDelay 计算第attempt次失败后的退避时间：initial*factor^(attempt-1)
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if delay > float64(r.config.MaxInterval) {
		delay = float64(r.config.MaxInterval)
	}
	return time.Duration(delay)
}

// GetConfig 获取重试配置
func (r *Retrier) GetConfig() *RetryConfig {
	return r.config
}
