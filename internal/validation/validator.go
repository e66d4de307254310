package validation

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/errors"
	"pqwallet/internal/userop"
)

// Validator 提交前的操作校验器。bundler拒绝的操作会白白消耗一轮往返，
// 结构性问题在出门前拦下
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下警告也视为失败
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(op *userop.UserOperation) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                  `json:"valid"`
	Errors   []*errors.WalletError `json:"errors,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
}

// NewValidator 创建操作校验器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.registerDefaultRules()
	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	v.AddRule(NewSenderRule())
	v.AddRule(NewGasRule())
	v.AddRule(NewFeeRule())
	v.AddRule(NewDeployRule())
	v.AddRule(NewSignatureRule())
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateOperation 对待提交的操作执行全部规则
func (v *Validator) ValidateOperation(op *userop.UserOperation) *ValidationResult {
	if op == nil {
		return &ValidationResult{
			Valid: false,
			Errors: []*errors.WalletError{errors.NewWalletError(errors.ErrorTypeValidation,
				errors.SeverityHigh, "OPERATION_NIL", "操作为空")},
		}
	}

	result := &ValidationResult{
		Valid:    true,
		Errors:   make([]*errors.WalletError, 0),
		Warnings: make([]string, 0),
	}

	for _, rule := range v.rules {
		if err := rule.Validate(op); err != nil {
			result.Valid = false
			if we, ok := err.(*errors.WalletError); ok {
				result.Errors = append(result.Errors, we)
			} else {
				result.Errors = append(result.Errors, errors.WrapError(err,
					errors.ErrorTypeValidation, errors.SeverityMedium,
					"RULE_VALIDATION_FAILED", fmt.Sprintf("规则 %s 验证失败", rule.Name())))
			}
		}
	}

	v.collectWarnings(op, result)

	if v.strictMode && len(result.Warnings) > 0 {
		result.Valid = false
		for _, warning := range result.Warnings {
			result.Errors = append(result.Errors, errors.NewWalletError(
				errors.ErrorTypeValidation, errors.SeverityLow,
				"STRICT_MODE_WARNING", warning))
		}
	}

	return result
}

// collectWarnings 收集非阻断性的可疑迹象
func (v *Validator) collectWarnings(op *userop.UserOperation, result *ValidationResult) {
	if op.MaxFeePerGas != nil && op.MaxPriorityFeePerGas != nil &&
		op.MaxFeePerGas.Cmp(op.MaxPriorityFeePerGas) == 0 {
		result.Warnings = append(result.Warnings, "max fee与priority fee相等，可能来自legacy gas价格回退")
	}

	if op.VerificationGasLimit != nil &&
		op.VerificationGasLimit.Cmp(big.NewInt(userop.VerificationGasFloor)) < 0 {
		result.Warnings = append(result.Warnings, "verification gas低于双栈签名校验下限，bundler大概率拒绝")
	}

	if len(op.PaymasterAndData) > 0 && len(op.PaymasterAndData) < common.AddressLength {
		result.Warnings = append(result.Warnings, "paymasterAndData长度不足一个地址")
	}
}

// SenderRule 发送方校验
type SenderRule struct{}

func NewSenderRule() *SenderRule { return &SenderRule{} }

func (r *SenderRule) Name() string        { return "sender" }
func (r *SenderRule) Description() string { return "发送方地址与nonce校验" }

func (r *SenderRule) Validate(op *userop.UserOperation) error {
	if op.Sender == (common.Address{}) {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_SENDER", "发送方地址为零地址")
	}
	if op.Nonce == nil || op.Nonce.Sign() < 0 {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_NONCE", "nonce缺失或为负")
	}
	if len(op.CallData) == 0 {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"EMPTY_CALLDATA", "调用数据为空")
	}
	return nil
}

// GasRule gas上限校验
type GasRule struct{}

func NewGasRule() *GasRule { return &GasRule{} }

func (r *GasRule) Name() string        { return "gas" }
func (r *GasRule) Description() string { return "三段gas上限必须齐备且为正" }

func (r *GasRule) Validate(op *userop.UserOperation) error {
	limits := []struct {
		name  string
		value *big.Int
	}{
		{"callGasLimit", op.CallGasLimit},
		{"verificationGasLimit", op.VerificationGasLimit},
		{"preVerificationGas", op.PreVerificationGas},
	}
	for _, limit := range limits {
		if limit.value == nil || limit.value.Sign() <= 0 {
			return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"INVALID_GAS_LIMIT", fmt.Sprintf("%s 缺失或非正", limit.name))
		}
	}
	return nil
}

// FeeRule 费率校验
type FeeRule struct{}

func NewFeeRule() *FeeRule { return &FeeRule{} }

func (r *FeeRule) Name() string        { return "fee" }
func (r *FeeRule) Description() string { return "EIP-1559费率齐备且priority不超max" }

func (r *FeeRule) Validate(op *userop.UserOperation) error {
	if op.MaxFeePerGas == nil || op.MaxFeePerGas.Sign() <= 0 {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_MAX_FEE", "maxFeePerGas缺失或非正")
	}
	if op.MaxPriorityFeePerGas == nil || op.MaxPriorityFeePerGas.Sign() < 0 {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_PRIORITY_FEE", "maxPriorityFeePerGas缺失或为负")
	}
	if op.MaxPriorityFeePerGas.Cmp(op.MaxFeePerGas) > 0 {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"PRIORITY_EXCEEDS_MAX", "priority fee超过max fee")
	}
	return nil
}

// DeployRule 部署字段校验
type DeployRule struct{}

func NewDeployRule() *DeployRule { return &DeployRule{} }

func (r *DeployRule) Name() string        { return "deploy" }
func (r *DeployRule) Description() string { return "factory与factoryData必须成对出现" }

func (r *DeployRule) Validate(op *userop.UserOperation) error {
	if op.Factory == nil {
		if len(op.FactoryData) > 0 {
			return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"ORPHAN_FACTORY_DATA", "缺少factory地址但携带factoryData")
		}
		return nil
	}
	if *op.Factory == (common.Address{}) {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_FACTORY", "factory为零地址")
	}
	if len(op.FactoryData) == 0 {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"MISSING_FACTORY_DATA", "携带factory但缺少部署调用数据")
	}
	return nil
}

// SignatureRule 签名存在性校验。密码学校验由签名器的本地验签负责，
// 这里只拦截忘了签名或占位签名直接出门的情况
type SignatureRule struct{}

func NewSignatureRule() *SignatureRule { return &SignatureRule{} }

func (r *SignatureRule) Name() string        { return "signature" }
func (r *SignatureRule) Description() string { return "签名字段非空" }

func (r *SignatureRule) Validate(op *userop.UserOperation) error {
	if len(op.Signature) == 0 {
		return errors.NewWalletError(errors.ErrorTypeValidation, errors.SeverityCritical,
			"MISSING_SIGNATURE", "操作未签名")
	}
	return nil
}
