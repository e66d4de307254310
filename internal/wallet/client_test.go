package wallet

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqwallet/internal/shutdown"
)

func TestRegisterShutdownHandlers(t *testing.T) {
	client := testWallet(t, "http://127.0.0.1:1")

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gs := shutdown.NewGracefulShutdown(2*time.Second, logger)

	// 模拟在途管线：停机第一步取消上下文后才收尾
	ctx, cancel := context.WithCancel(context.Background())
	pipelineDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(pipelineDone)
	}()

	client.RegisterShutdownHandlers(gs, cancel, pipelineDone)
	gs.Shutdown()

	// 管线先被中断，密钥材料随后销毁
	require.Error(t, ctx.Err())
	assert.True(t, client.KeyMaterial().IsDisposed())
	assert.True(t, gs.IsShuttingDown())

	// 存储已在停机流程中关闭，重复关闭不报错
	assert.NoError(t, client.Store().Close())
}
