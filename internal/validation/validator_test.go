package validation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqwallet/internal/userop"
)

func validOperation() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                big.NewInt(1),
		CallData:             []byte{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         big.NewInt(200_000),
		VerificationGasLimit: big.NewInt(600_000),
		PreVerificationGas:   big.NewInt(60_000),
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		Signature:            []byte{0x01, 0x02},
	}
}

func newValidator(t *testing.T, strict bool) *Validator {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewValidator(logger, strict)
}

func TestValidateOperation_Valid(t *testing.T) {
	v := newValidator(t, false)

	result := v.ValidateOperation(validOperation())
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateOperation_Nil(t *testing.T) {
	v := newValidator(t, false)

	result := v.ValidateOperation(nil)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "OPERATION_NIL", result.Errors[0].Code)
}

func TestValidateOperation_Rules(t *testing.T) {
	factory := common.HexToAddress("0xFAc70000000000000000000000000000000000fa")
	zero := common.Address{}

	tests := []struct {
		name   string
		mutate func(*userop.UserOperation)
		code   string
	}{
		{"零地址发送方", func(op *userop.UserOperation) { op.Sender = common.Address{} }, "INVALID_SENDER"},
		{"缺nonce", func(op *userop.UserOperation) { op.Nonce = nil }, "INVALID_NONCE"},
		{"负nonce", func(op *userop.UserOperation) { op.Nonce = big.NewInt(-1) }, "INVALID_NONCE"},
		{"空调用数据", func(op *userop.UserOperation) { op.CallData = nil }, "EMPTY_CALLDATA"},
		{"缺call gas", func(op *userop.UserOperation) { op.CallGasLimit = nil }, "INVALID_GAS_LIMIT"},
		{"零verification gas", func(op *userop.UserOperation) { op.VerificationGasLimit = big.NewInt(0) }, "INVALID_GAS_LIMIT"},
		{"缺max fee", func(op *userop.UserOperation) { op.MaxFeePerGas = nil }, "INVALID_MAX_FEE"},
		{"priority超max", func(op *userop.UserOperation) {
			op.MaxPriorityFeePerGas = new(big.Int).Add(op.MaxFeePerGas, big.NewInt(1))
		}, "PRIORITY_EXCEEDS_MAX"},
		{"孤儿factoryData", func(op *userop.UserOperation) { op.FactoryData = []byte{0x01} }, "ORPHAN_FACTORY_DATA"},
		{"零地址factory", func(op *userop.UserOperation) {
			op.Factory = &zero
			op.FactoryData = []byte{0x01}
		}, "INVALID_FACTORY"},
		{"factory缺数据", func(op *userop.UserOperation) { op.Factory = &factory }, "MISSING_FACTORY_DATA"},
		{"未签名", func(op *userop.UserOperation) { op.Signature = nil }, "MISSING_SIGNATURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t, false)
			op := validOperation()
			tt.mutate(op)

			result := v.ValidateOperation(op)
			assert.False(t, result.Valid)

			codes := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				codes = append(codes, e.Code)
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func TestValidateOperation_Warnings(t *testing.T) {
	v := newValidator(t, false)

	op := validOperation()
	op.MaxPriorityFeePerGas = new(big.Int).Set(op.MaxFeePerGas)
	op.VerificationGasLimit = big.NewInt(100_000)

	result := v.ValidateOperation(op)
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 2)
}

func TestValidateOperation_StrictModePromotesWarnings(t *testing.T) {
	v := newValidator(t, true)

	op := validOperation()
	op.MaxPriorityFeePerGas = new(big.Int).Set(op.MaxFeePerGas)

	result := v.ValidateOperation(op)
	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "STRICT_MODE_WARNING", result.Errors[0].Code)
}

func TestAddRule(t *testing.T) {
	v := newValidator(t, false)
	v.AddRule(rejectAllRule{})

	result := v.ValidateOperation(validOperation())
	assert.False(t, result.Valid)
}

type rejectAllRule struct{}

func (rejectAllRule) Name() string        { return "reject-all" }
func (rejectAllRule) Description() string { return "测试规则" }
func (rejectAllRule) Validate(op *userop.UserOperation) error {
	return assert.AnError
}
