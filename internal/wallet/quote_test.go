package wallet

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqwallet/pkg/models"
)

func estimateBig(v int64) *hexutil.Big { return (*hexutil.Big)(big.NewInt(v)) }

func TestAdoptEstimateRebuffers(t *testing.T) {
	client := testWallet(t, "http://127.0.0.1:1")

	op, err := client.buildDraft(transferCall(), testQuote(1, true).Snapshot)
	require.NoError(t, err)

	totalGas := client.adoptEstimate(op, &models.GasEstimate{
		PreVerificationGas:   estimateBig(60_000),
		VerificationGasLimit: estimateBig(200_000),
		CallGasLimit:         estimateBig(300_000),
	})

	// 10%缓冲逐项套用，总gas为缓冲后组件之和
	assert.Equal(t, big.NewInt(66_000), op.PreVerificationGas)
	assert.Equal(t, big.NewInt(220_000), op.VerificationGasLimit)
	assert.Equal(t, big.NewInt(330_000), op.CallGasLimit)
	assert.Equal(t, big.NewInt(616_000), totalGas)
}

func TestAdoptEstimateTrustsTotalGas(t *testing.T) {
	client := testWallet(t, "http://127.0.0.1:1")

	op, err := client.buildDraft(transferCall(), testQuote(1, true).Snapshot)
	require.NoError(t, err)

	totalGas := client.adoptEstimate(op, &models.GasEstimate{
		PreVerificationGas:   estimateBig(60_000),
		VerificationGasLimit: estimateBig(200_000),
		CallGasLimit:         estimateBig(300_000),
		TotalGas:             estimateBig(560_000),
	})

	// bundler已加垫且含EntryPoint开销的估算原样采信，不再叠加本地缓冲
	assert.Equal(t, big.NewInt(60_000), op.PreVerificationGas)
	assert.Equal(t, big.NewInt(200_000), op.VerificationGasLimit)
	assert.Equal(t, big.NewInt(300_000), op.CallGasLimit)
	assert.Equal(t, big.NewInt(560_000), totalGas)
}

func TestAdoptEstimateTotalGasKeepsDraftDefaults(t *testing.T) {
	client := testWallet(t, "http://127.0.0.1:1")

	op, err := client.buildDraft(transferCall(), testQuote(1, true).Snapshot)
	require.NoError(t, err)
	defaultCallGas := new(big.Int).Set(op.CallGasLimit)

	totalGas := client.adoptEstimate(op, &models.GasEstimate{
		PreVerificationGas:   estimateBig(60_000),
		VerificationGasLimit: estimateBig(200_000),
		TotalGas:             estimateBig(1_500_000),
	})

	// 缺失的组件估算不清零，保留草稿默认值
	assert.Equal(t, big.NewInt(60_000), op.PreVerificationGas)
	assert.Equal(t, defaultCallGas, op.CallGasLimit)
	assert.Equal(t, big.NewInt(1_500_000), totalGas)
}
