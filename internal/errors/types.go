package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeConnection
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// Bundler相关错误
	ErrorTypeBundler
	ErrorTypeValidationRevert
	ErrorTypeFunding
	ErrorTypeRetryExhausted

	// 签名相关错误
	ErrorTypeSigning
	ErrorTypeSecurityLevel
	ErrorTypeKeyMaterial

	// 数据相关错误
	ErrorTypeData
	ErrorTypeSerialization
	ErrorTypeValidation

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeConfig
	ErrorTypeStorage

	// 链上相关错误
	ErrorTypeChain
	ErrorTypeConfirmation
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// WalletError 自定义错误类型
type WalletError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	OpHash    *string                `json:"op_hash,omitempty"`
	Method    *string                `json:"method,omitempty"`
	Attempts  int                    `json:"attempts,omitempty"`
}

// Error 实现error接口
func (e *WalletError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *WalletError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *WalletError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *WalletError) WithContext(key string, value interface{}) *WalletError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOpHash 添加操作哈希
func (e *WalletError) WithOpHash(opHash string) *WalletError {
	e.OpHash = &opHash
	return e
}

// WithMethod 添加RPC方法名
func (e *WalletError) WithMethod(method string) *WalletError {
	e.Method = &method
	return e
}

// NewWalletError 创建新的错误
func NewWalletError(errorType ErrorType, severity ErrorSeverity, code, message string) *WalletError {
	return &WalletError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *WalletError {
	return &WalletError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// NewTimeoutExhausted 创建重试耗尽错误，携带方法名、尝试次数和最后一次底层错误
func NewTimeoutExhausted(method string, attempts int, lastErr error) *WalletError {
	e := &WalletError{
		Type:      ErrorTypeRetryExhausted,
		Severity:  SeverityHigh,
		Code:      "TIMEOUT_EXHAUSTED",
		Message:   fmt.Sprintf("方法 %s 在 %d 次尝试后仍然失败", method, attempts),
		Timestamp: time.Now(),
		Cause:     lastErr,
		Retryable: false,
		Attempts:  attempts,
	}
	e.Method = &method
	return e
}

// NewNetworkFailure 创建传输层错误
func NewNetworkFailure(cause error) *WalletError {
	return WrapError(cause, ErrorTypeNetwork, SeverityMedium,
		"NETWORK_FAILURE", "网络传输失败")
}

// NewNonRetryableRpcError 创建不可重试的RPC错误
func NewNonRetryableRpcError(code, message string, cause error) *WalletError {
	e := WrapError(cause, ErrorTypeBundler, SeverityHigh, code, message)
	e.Retryable = false
	return e
}

// NewConfigurationError 创建配置错误（构造期快速失败）
func NewConfigurationError(message string) *WalletError {
	return NewWalletError(ErrorTypeConfig, SeverityCritical, "CONFIG_INVALID", message)
}

// NewSecurityLevelMismatch 创建安全级别不匹配错误
func NewSecurityLevelMismatch(level int) *WalletError {
	return NewWalletError(ErrorTypeSecurityLevel, SeverityCritical,
		"SECURITY_LEVEL_MISMATCH",
		fmt.Sprintf("不支持的后量子安全级别: %d", level))
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeRateLimit:
		return true
	case ErrorTypeBundler:
		// 未分类的bundler应用错误默认可重试，命中校验/资金模式的单独置为不可重试
		return true
	case ErrorTypeChain:
		return true
	default:
		return false
	}
}

// IsTimeoutExhausted 判断是否为重试耗尽错误
func IsTimeoutExhausted(err error) bool {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Type == ErrorTypeRetryExhausted
	}
	return false
}

// IsNonRetryable 判断是否为不可重试错误（调用方据此区分"退避已尽"与"立即修正请求"）
func IsNonRetryable(err error) bool {
	var we *WalletError
	if errors.As(err, &we) {
		return !we.Retryable
	}
	return false
}

// AsWalletError 提取错误链上的WalletError
func AsWalletError(err error, target **WalletError) bool {
	return errors.As(err, target)
}

// 预定义错误
var (
	// 网络错误
	ErrNetworkTimeout = NewWalletError(
		ErrorTypeTimeout,
		SeverityMedium,
		"NETWORK_TIMEOUT",
		"网络请求超时",
	)

	ErrConnectionFailed = NewWalletError(
		ErrorTypeConnection,
		SeverityHigh,
		"CONNECTION_FAILED",
		"连接失败",
	)

	// Bundler错误
	ErrValidationRevert = NewWalletError(
		ErrorTypeValidationRevert,
		SeverityHigh,
		"VALIDATION_REVERT",
		"操作未通过bundler校验",
	)

	ErrInsufficientFunds = NewWalletError(
		ErrorTypeFunding,
		SeverityHigh,
		"INSUFFICIENT_FUNDS",
		"账户预存款不足以支付操作",
	)

	// 签名错误
	ErrSignatureInvalid = NewWalletError(
		ErrorTypeSigning,
		SeverityCritical,
		"SIGNATURE_INVALID",
		"复合签名本地校验失败",
	)

	// 系统错误
	ErrConfigInvalid = NewWalletError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrStoreFailed = NewWalletError(
		ErrorTypeStorage,
		SeverityHigh,
		"STORE_FAILED",
		"待确认操作持久化失败",
	)

	// 确认错误
	ErrConfirmationTimeout = NewWalletError(
		ErrorTypeConfirmation,
		SeverityMedium,
		"CONFIRMATION_TIMEOUT",
		"等待操作确认超时",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:          "Network",
	ErrorTypeConnection:       "Connection",
	ErrorTypeTimeout:          "Timeout",
	ErrorTypeRateLimit:        "RateLimit",
	ErrorTypeBundler:          "Bundler",
	ErrorTypeValidationRevert: "ValidationRevert",
	ErrorTypeFunding:          "Funding",
	ErrorTypeRetryExhausted:   "RetryExhausted",
	ErrorTypeSigning:          "Signing",
	ErrorTypeSecurityLevel:    "SecurityLevel",
	ErrorTypeKeyMaterial:      "KeyMaterial",
	ErrorTypeData:             "Data",
	ErrorTypeSerialization:    "Serialization",
	ErrorTypeValidation:       "Validation",
	ErrorTypeSystem:           "System",
	ErrorTypeConfig:           "Config",
	ErrorTypeStorage:          "Storage",
	ErrorTypeChain:            "Chain",
	ErrorTypeConfirmation:     "Confirmation",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*WalletError        `json:"recent_errors"`
	LastError         *WalletError          `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*WalletError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *WalletError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}
