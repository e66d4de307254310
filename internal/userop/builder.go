package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/errors"
)

var (
	errEmptyCalls = errors.NewWalletError(errors.ErrorTypeValidation,
		errors.SeverityHigh, "EMPTY_CALLS", "操作至少需要一笔目标调用")
	errInvalidChainID = errors.NewConfigurationError("链ID必须为正整数")
	errMissingState   = errors.NewWalletError(errors.ErrorTypeValidation,
		errors.SeverityHigh, "MISSING_CHAIN_STATE", "构造操作缺少链上状态快照")
)

// 静态gas默认值。未部署账户的首笔操作要同时支付工厂部署，默认值显著更高
const (
	// 已部署账户
	defaultPreVerificationGas   = 150_000
	defaultVerificationGasLimit = 196_608
	defaultCallGasLimit         = 1_000_000

	// 未部署账户（initCode路径）
	deployPreVerificationGas   = 500_000
	deployVerificationGasLimit = 1_000_000
	deployCallGasLimit         = 1_000_000

	// VerificationGasFloor 校验gas下限，估算结果低于此值时抬升到此值
	VerificationGasFloor = 150_000
)

// Builder 操作构造器：由链上状态快照与调用列表组装未签名操作草稿
type Builder struct {
	factory       common.Address
	bufferPercent uint64
	logger        *logrus.Logger
}

// NewBuilder 创建操作构造器
func NewBuilder(factory common.Address, bufferPercent uint64, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Builder{
		factory:       factory,
		bufferPercent: bufferPercent,
		logger:        logger,
	}
}

// BuildParams 一次构造所需的全部输入
type BuildParams struct {
	Sender common.Address
	Calls  []Call
	State  *ChainState

	// 部署字段来源（仅未部署时使用）
	PQPublicKey    []byte
	ClassicalOwner common.Address

	// GasHint 调用方给出的call gas提示，仅在大于缓冲后默认值时生效
	GasHint *big.Int
}

// Build 组装未签名操作草稿。nonce、部署判定与费率全部取自快照，
// 构造过程本身不做任何网络访问
func (b *Builder) Build(params BuildParams) (*UserOperation, error) {
	if params.State == nil {
		return nil, errMissingState
	}
	callData, err := EncodeCallData(params.Calls)
	if err != nil {
		return nil, err
	}

	op := &UserOperation{
		Sender:               params.Sender,
		Nonce:                valueOrZero(params.State.Nonce),
		CallData:             callData,
		MaxFeePerGas:         valueOrZero(params.State.MaxFeePerGas),
		MaxPriorityFeePerGas: valueOrZero(params.State.MaxPriorityFeePerGas),
	}

	// 三项gas上限各自加缓冲
	if params.State.Deployed {
		op.PreVerificationGas = ApplyBuffer(big.NewInt(defaultPreVerificationGas), b.bufferPercent)
		op.VerificationGasLimit = ApplyBuffer(big.NewInt(defaultVerificationGasLimit), b.bufferPercent)
		op.CallGasLimit = ApplyBuffer(big.NewInt(defaultCallGasLimit), b.bufferPercent)
	} else {
		op.PreVerificationGas = ApplyBuffer(big.NewInt(deployPreVerificationGas), b.bufferPercent)
		op.VerificationGasLimit = ApplyBuffer(big.NewInt(deployVerificationGasLimit), b.bufferPercent)
		op.CallGasLimit = ApplyBuffer(big.NewInt(deployCallGasLimit), b.bufferPercent)

		factoryData, err := EncodeCreateWallet(params.PQPublicKey, params.ClassicalOwner)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeSerialization,
				errors.SeverityHigh, "FACTORY_DATA_ENCODE", "编码工厂部署数据失败")
		}
		factory := b.factory
		op.Factory = &factory
		op.FactoryData = factoryData
	}

	// 调用方提示只抬升不压低
	if params.GasHint != nil && params.GasHint.Cmp(op.CallGasLimit) > 0 {
		op.CallGasLimit = new(big.Int).Set(params.GasHint)
	}

	b.logger.WithFields(logrus.Fields{
		"sender":   params.Sender.Hex(),
		"nonce":    op.Nonce.String(),
		"deployed": params.State.Deployed,
		"calls":    len(params.Calls),
		"call_gas": op.CallGasLimit.String(),
	}).Debug("操作草稿已构造")

	return op, nil
}

// ApplyEstimates 将bundler返回的gas估算套用到草稿上：
// 三项估算各自加缓冲，校验gas缓冲后仍低于下限时抬到下限
func (b *Builder) ApplyEstimates(op *UserOperation, preVerification, verification, call *big.Int) {
	if preVerification != nil {
		op.PreVerificationGas = ApplyBuffer(preVerification, b.bufferPercent)
	}
	if verification != nil {
		v := ApplyBuffer(verification, b.bufferPercent)
		if v.Cmp(big.NewInt(VerificationGasFloor)) < 0 {
			v = big.NewInt(VerificationGasFloor)
		}
		op.VerificationGasLimit = v
	}
	if call != nil {
		op.CallGasLimit = ApplyBuffer(call, b.bufferPercent)
	}
}

// ApplyBuffer 按百分比放大gas上限：limit*(100+percent)/100，整数向下取整
func ApplyBuffer(limit *big.Int, percent uint64) *big.Int {
	buffered := new(big.Int).Mul(limit, big.NewInt(int64(100+percent)))
	return buffered.Div(buffered, big.NewInt(100))
}
