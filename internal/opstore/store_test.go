package opstore

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqwallet/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func pendingRecord(tag byte) *models.PendingOperation {
	return &models.PendingOperation{
		OpHash: common.BytesToHash([]byte{tag}),
		Sender: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:  (*hexutil.Big)(big.NewInt(int64(tag))),
		Status: StatusSubmitted,
	}
}

func TestPutAndGet(t *testing.T) {
	store := newTestStore(t)
	record := pendingRecord(0x01)

	require.NoError(t, store.Put(record))
	assert.NotZero(t, record.CreatedAt)

	got, err := store.Get(record.OpHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.OpHash, got.OpHash)
	assert.Equal(t, record.Sender, got.Sender)
	assert.Equal(t, StatusSubmitted, got.Status)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(common.HexToHash("0xff"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveMovesToArchive(t *testing.T) {
	store := newTestStore(t)
	record := pendingRecord(0x02)
	require.NoError(t, store.Put(record))

	txHash := common.HexToHash("0xaa")
	require.NoError(t, store.Resolve(record.OpHash, StatusConfirmed, &txHash, ""))

	pending, err := store.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	archived, err := store.Archived()
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, StatusConfirmed, archived[0].Status)
	require.NotNil(t, archived[0].TxHash)
	assert.Equal(t, txHash, *archived[0].TxHash)

	// Get在终态后仍能读到记录
	got, err := store.Get(record.OpHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestResolveUnknownOp(t *testing.T) {
	store := newTestStore(t)
	opHash := common.HexToHash("0x03")

	// 未记录过的操作也允许直接归档
	require.NoError(t, store.Resolve(opHash, StatusTimedOut, nil, "确认超时"))

	got, err := store.Get(opHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusTimedOut, got.Status)
	assert.Equal(t, "确认超时", got.LastError)

	// 补建的记录没有nonce，展示层不得因此崩溃
	assert.Nil(t, got.Nonce)
	assert.Equal(t, "-", got.NonceString())
}

func TestPendingList(t *testing.T) {
	store := newTestStore(t)
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, store.Put(pendingRecord(i)))
	}

	pending, err := store.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestDeployedFlag(t *testing.T) {
	store := newTestStore(t)
	account := common.HexToAddress("0x2222222222222222222222222222222222222222")

	deployed, err := store.IsDeployed(account)
	require.NoError(t, err)
	assert.False(t, deployed)

	require.NoError(t, store.SetDeployed(account, true))

	deployed, err = store.IsDeployed(account)
	require.NoError(t, err)
	assert.True(t, deployed)
}

func TestReopenPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	store, err := NewStore(dbPath, nil)
	require.NoError(t, err)
	record := pendingRecord(0x04)
	require.NoError(t, store.Put(record))
	require.NoError(t, store.Close())

	// 重新打开后待确认记录仍在，供重启恢复跟踪
	reopened, err := NewStore(dbPath, nil)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, record.OpHash, pending[0].OpHash)
}
