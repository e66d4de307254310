package userop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testFactory = common.HexToAddress("0xFac70000000000000000000000000000000000fa")
	testSender  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testOwner   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func deployedState() *ChainState {
	return &ChainState{
		Nonce:                big.NewInt(3),
		Deployed:             true,
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
	}
}

func undeployedState() *ChainState {
	return &ChainState{
		Nonce:                big.NewInt(0),
		Deployed:             false,
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
	}
}

func singleCall() []Call {
	return []Call{{
		Target: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Value:  big.NewInt(1),
		Data:   []byte{0x01},
	}}
}

func TestBuildDeployed(t *testing.T) {
	b := NewBuilder(testFactory, 10, nil)

	op, err := b.Build(BuildParams{
		Sender: testSender,
		Calls:  singleCall(),
		State:  deployedState(),
	})
	require.NoError(t, err)

	assert.Equal(t, testSender, op.Sender)
	assert.Equal(t, big.NewInt(3), op.Nonce)
	// 三项gas默认值各自加10%缓冲
	assert.Equal(t, big.NewInt(165_000), op.PreVerificationGas)
	assert.Equal(t, big.NewInt(216_268), op.VerificationGasLimit)
	assert.Equal(t, big.NewInt(1_100_000), op.CallGasLimit)

	// 已部署账户不得携带部署字段
	assert.Nil(t, op.Factory)
	assert.Nil(t, op.FactoryData)
	assert.Nil(t, op.InitCode())

	// 费率来自快照
	assert.Equal(t, big.NewInt(30_000_000_000), op.MaxFeePerGas)
	assert.Equal(t, big.NewInt(2_000_000_000), op.MaxPriorityFeePerGas)
}

func TestBuildUndeployed(t *testing.T) {
	b := NewBuilder(testFactory, 10, nil)
	pqPub := make([]byte, 1312)
	pqPub[0] = 0x42

	op, err := b.Build(BuildParams{
		Sender:         testSender,
		Calls:          singleCall(),
		State:          undeployedState(),
		PQPublicKey:    pqPub,
		ClassicalOwner: testOwner,
	})
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(0), op.Nonce)
	assert.Equal(t, big.NewInt(550_000), op.PreVerificationGas)
	assert.Equal(t, big.NewInt(1_100_000), op.VerificationGasLimit)

	// 部署字段必须出现且initCode以工厂地址开头
	require.NotNil(t, op.Factory)
	assert.Equal(t, testFactory, *op.Factory)
	require.NotEmpty(t, op.FactoryData)
	initCode := op.InitCode()
	assert.Equal(t, testFactory.Bytes(), initCode[:20])
}

func TestBuildBufferAppliesToEachLimit(t *testing.T) {
	b := NewBuilder(testFactory, 20, nil)

	op, err := b.Build(BuildParams{
		Sender: testSender,
		Calls:  singleCall(),
		State:  deployedState(),
	})
	require.NoError(t, err)

	// 缓冲对三项上限逐一生效，不只是call gas
	assert.Equal(t, big.NewInt(180_000), op.PreVerificationGas)
	assert.Equal(t, big.NewInt(235_929), op.VerificationGasLimit)
	assert.Equal(t, big.NewInt(1_200_000), op.CallGasLimit)
}

func TestBuildEmptyCalls(t *testing.T) {
	b := NewBuilder(testFactory, 10, nil)

	_, err := b.Build(BuildParams{
		Sender: testSender,
		State:  deployedState(),
	})
	assert.Error(t, err)
}

func TestBuildMissingState(t *testing.T) {
	b := NewBuilder(testFactory, 10, nil)

	_, err := b.Build(BuildParams{
		Sender: testSender,
		Calls:  singleCall(),
	})
	assert.Error(t, err)
}

func TestBuildBatchCallData(t *testing.T) {
	b := NewBuilder(testFactory, 10, nil)

	single, err := b.Build(BuildParams{
		Sender: testSender,
		Calls:  singleCall(),
		State:  deployedState(),
	})
	require.NoError(t, err)

	batch, err := b.Build(BuildParams{
		Sender: testSender,
		Calls: append(singleCall(), Call{
			Target: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		}),
		State: deployedState(),
	})
	require.NoError(t, err)

	// 单笔与多笔走不同的账户入口
	assert.NotEqual(t, single.CallData[:4], batch.CallData[:4])
}

func TestBuildGasHint(t *testing.T) {
	b := NewBuilder(testFactory, 10, nil)
	params := BuildParams{
		Sender: testSender,
		Calls:  singleCall(),
		State:  deployedState(),
	}

	// 低于缓冲后默认值的提示被忽略
	params.GasHint = big.NewInt(500_000)
	op, err := b.Build(params)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_100_000), op.CallGasLimit)

	// 高于缓冲后默认值的提示被采纳
	params.GasHint = big.NewInt(2_000_000)
	op, err = b.Build(params)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_000_000), op.CallGasLimit)
}

func TestApplyBuffer(t *testing.T) {
	tests := []struct {
		name     string
		limit    int64
		percent  uint64
		expected int64
	}{
		{"百分之十", 1000, 10, 1100},
		{"零缓冲", 1000, 0, 1000},
		{"向下取整", 101, 10, 111},
		{"小值", 1, 50, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyBuffer(big.NewInt(tt.limit), tt.percent)
			assert.Equal(t, big.NewInt(tt.expected), got)
		})
	}
}

func TestApplyBufferMonotonic(t *testing.T) {
	// 缓冲后的值不得小于原值
	for _, limit := range []int64{0, 1, 99, 100, 12345, 1_000_000} {
		for _, percent := range []uint64{0, 5, 10, 25, 100} {
			buffered := ApplyBuffer(big.NewInt(limit), percent)
			assert.True(t, buffered.Cmp(big.NewInt(limit)) >= 0,
				"limit=%d percent=%d", limit, percent)
		}
	}
}

func TestApplyEstimates(t *testing.T) {
	b := NewBuilder(testFactory, 10, nil)
	op, err := b.Build(BuildParams{
		Sender: testSender,
		Calls:  singleCall(),
		State:  deployedState(),
	})
	require.NoError(t, err)

	b.ApplyEstimates(op, big.NewInt(60_000), big.NewInt(90_000), big.NewInt(200_000))

	// 三项估算各自套用缓冲
	assert.Equal(t, big.NewInt(66_000), op.PreVerificationGas)
	// 校验gas缓冲后仍低于下限时抬到下限
	assert.Equal(t, big.NewInt(150_000), op.VerificationGasLimit)
	assert.Equal(t, big.NewInt(220_000), op.CallGasLimit)

	// 缓冲后高于下限的估算采纳缓冲值
	b.ApplyEstimates(op, nil, big.NewInt(300_000), nil)
	assert.Equal(t, big.NewInt(330_000), op.VerificationGasLimit)
}

func TestEncodeCreateWalletDeterministic(t *testing.T) {
	pqPub := []byte{0x01, 0x02, 0x03}

	d1, err := EncodeCreateWallet(pqPub, testOwner)
	require.NoError(t, err)
	d2, err := EncodeCreateWallet(pqPub, testOwner)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	d3, err := EncodeCreateWallet(pqPub, testSender)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}
