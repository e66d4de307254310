package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqwallet/internal/config"
	"pqwallet/internal/keys"
	"pqwallet/internal/logging"
	"pqwallet/internal/userop"
)

const (
	testEntryPoint = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"
	testFactory    = "0xFAc70000000000000000000000000000000000fa"
)

// fakeBundler 记录收到的操作并按脚本应答的bundler假件
type fakeBundler struct {
	mu       sync.Mutex
	sentOps  []map[string]interface{}
	opHash   common.Hash
	txHash   common.Hash
	success  bool
	reason   string
	server   *httptest.Server
	receipts int
}

func newFakeBundler(t *testing.T, success bool, reason string) *fakeBundler {
	t.Helper()
	fb := &fakeBundler{
		opHash:  common.HexToHash("0x1234"),
		txHash:  common.HexToHash("0x5678"),
		success: success,
		reason:  reason,
	}

	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "eth_sendUserOperation":
			var op map[string]interface{}
			require.NoError(t, json.Unmarshal(req.Params[0], &op))
			fb.mu.Lock()
			fb.sentOps = append(fb.sentOps, op)
			fb.mu.Unlock()
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":"%s"}`, req.ID, fb.opHash.Hex())
		case "eth_getUserOperationReceipt":
			fb.mu.Lock()
			fb.receipts++
			fb.mu.Unlock()
			receipt := map[string]interface{}{
				"userOpHash": fb.opHash,
				"success":    fb.success,
				"receipt": map[string]interface{}{
					"transactionHash": fb.txHash,
					"blockNumber":     "0x10",
				},
			}
			if fb.reason != "" {
				receipt["reason"] = fb.reason
			}
			raw, _ := json.Marshal(receipt)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, raw)
		default:
			t.Errorf("未预期的RPC方法: %s", req.Method)
		}
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBundler) lastOp(t *testing.T) map[string]interface{} {
	t.Helper()
	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.NotEmpty(t, fb.sentOps)
	return fb.sentOps[len(fb.sentOps)-1]
}

func testConfig(t *testing.T, bundlerURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Chain: &config.ChainConfig{
			ChainID:    1,
			RPCURL:     "http://127.0.0.1:1",
			EntryPoint: testEntryPoint,
			Factory:    testFactory,
		},
		Bundler: &config.BundlerConfig{
			URL:            bundlerURL,
			Timeout:        "2s",
			MaxRetries:     0,
			ConfirmTimeout: "2s",
			PollInterval:   "20ms",
		},
		Account: &config.AccountConfig{
			DerivationPath: "m/44'/60'/0'/0/0",
			SecurityLevel:  44,
		},
		Gas:     &config.GasConfig{BufferPercent: 10},
		Store:   &config.StoreConfig{DBPath: filepath.Join(t.TempDir(), "ops.db")},
		Logging: logging.DefaultLogConfig,
	}
}

func testWallet(t *testing.T, bundlerURL string) *Client {
	t.Helper()

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	seed := make([]byte, 32)
	seed[0] = 0x11

	km, err := keys.NewKeyMaterial("m/44'/60'/0'/0/0", priv, seed, keys.Level44)
	require.NoError(t, err)
	km.AccountAddress = common.HexToAddress("0x9999999999999999999999999999999999999999")

	client, err := NewClient(testConfig(t, bundlerURL), km, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func testQuote(nonce int64, deployed bool) *Quote {
	return &Quote{
		PreVerificationGas:   big.NewInt(150_000),
		VerificationGasLimit: big.NewInt(196_608),
		CallGasLimit:         big.NewInt(1_100_000),
		Snapshot: &userop.ChainState{
			Nonce:                big.NewInt(nonce),
			Deployed:             deployed,
			MaxFeePerGas:         big.NewInt(30_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		},
		CreatedAt: time.Now(),
	}
}

func transferCall() []userop.Call {
	return []userop.Call{{
		Target: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Value:  big.NewInt(1000),
	}}
}

func TestSendDeployedConfirmed(t *testing.T) {
	fb := newFakeBundler(t, true, "")
	client := testWallet(t, fb.server.URL)

	result, err := client.Send(context.Background(), transferCall(), testQuote(1, true))
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, result.State)
	assert.Equal(t, fb.opHash, result.OpHash)
	require.NotNil(t, result.TxHash)
	assert.Equal(t, fb.txHash, *result.TxHash)

	// 已部署账户的线上操作不携带部署字段
	op := fb.lastOp(t)
	assert.Equal(t, "0x1", op["nonce"])
	_, hasFactory := op["factory"]
	assert.False(t, hasFactory)
	_, hasFactoryData := op["factoryData"]
	assert.False(t, hasFactoryData)

	// 报价的gas上限逐字节进入线上操作
	assert.Equal(t, "0x249f0", op["preVerificationGas"]) // 150000
	assert.Equal(t, "0x30000", op["verificationGasLimit"])
	assert.Equal(t, "0x10c8e0", op["callGasLimit"]) // 1100000
	assert.NotEqual(t, "0x", op["signature"])
}

func TestSendUndeployedCarriesDeployFields(t *testing.T) {
	fb := newFakeBundler(t, true, "")
	client := testWallet(t, fb.server.URL)

	result, err := client.Send(context.Background(), transferCall(), testQuote(0, false))
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)

	op := fb.lastOp(t)
	assert.Equal(t, "0x0", op["nonce"])
	factory, hasFactory := op["factory"]
	require.True(t, hasFactory)
	assert.Equal(t, common.HexToAddress(testFactory).Hex(), common.HexToAddress(factory.(string)).Hex())
	factoryData, hasFactoryData := op["factoryData"]
	require.True(t, hasFactoryData)
	assert.Greater(t, len(factoryData.(string)), 10)

	// 首笔确认翻转部署标记并持久化
	assert.True(t, client.KeyMaterial().Deployed)
	deployed, err := client.Store().IsDeployed(client.KeyMaterial().AccountAddress)
	require.NoError(t, err)
	assert.True(t, deployed)
}

func TestSendRevertedTerminal(t *testing.T) {
	fb := newFakeBundler(t, false, "execution reverted")
	client := testWallet(t, fb.server.URL)

	result, err := client.Send(context.Background(), transferCall(), testQuote(0, false))
	require.NoError(t, err)

	assert.Equal(t, StateReverted, result.State)
	assert.Equal(t, "execution reverted", result.Reason)
	// 回滚不算部署成功
	assert.False(t, client.KeyMaterial().Deployed)

	// 终态已归档
	archived, err := client.Store().Archived()
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "reverted", archived[0].Status)
}

func TestSendValidationRevertSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID uint64 `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32500,"message":"AA25: invalid account nonce"}}`, req.ID)
	}))
	defer server.Close()

	client := testWallet(t, server.URL)

	_, err := client.Send(context.Background(), transferCall(), testQuote(5, true))
	require.Error(t, err)

	// 错误计入统计
	stats := client.ErrorStats()
	assert.Equal(t, 1, stats.TotalErrors)
}

func TestSendEmptyCalls(t *testing.T) {
	fb := newFakeBundler(t, true, "")
	client := testWallet(t, fb.server.URL)

	_, err := client.Send(context.Background(), nil, testQuote(1, true))
	assert.Error(t, err)
}
